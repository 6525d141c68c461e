package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated    = "ORDER_CREATED"
	EventTypeOrderEdited     = "ORDER_EDITED"
	EventTypeOrderApproved   = "ORDER_APPROVED"
	EventTypeOrderCancelled  = "ORDER_CANCELLED"
	EventTypePaymentReceived = "PAYMENT_RECEIVED"
	EventTypeLotReceived     = "LOT_RECEIVED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderChangedEvent is published after an order operation commits
type OrderChangedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Status      string          `json:"status"`
	Actor       string          `json:"actor"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
	SaleID      *int64          `json:"sale_id,omitempty"`
}

// PaymentReceivedEvent notifies the cash subsystem of one tender of an approved order
type PaymentReceivedEvent struct {
	BaseEvent
	OrderID   int64           `json:"order_id"`
	SaleID    int64           `json:"sale_id"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

// LotReceivedEvent is published by the purchasing subsystem for every received purchase line
type LotReceivedEvent struct {
	BaseEvent
	ProductID    int64           `json:"product_id"`
	PurchaseRef  *string         `json:"purchase_ref,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	PurchaseDate time.Time       `json:"purchase_date"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
	BatchNumber  *string         `json:"batch_number,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
