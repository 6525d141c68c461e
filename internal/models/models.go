package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the subset of the catalog record the fulfillment engine works with
type Product struct {
	ID            int64           `db:"id" json:"id"`
	SKU           string          `db:"sku" json:"sku"`
	Name          string          `db:"name" json:"name"`
	OnHand        int             `db:"on_hand" json:"on_hand"`
	Reserved      int             `db:"reserved" json:"reserved"`
	PurchasePrice decimal.Decimal `db:"purchase_price" json:"purchase_price"`
	SalePrice     decimal.Decimal `db:"sale_price" json:"sale_price"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	StockVersion  int64           `db:"stock_version" json:"stock_version"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Available returns the sellable quantity: physical stock not promised to a pending order.
func (p *Product) Available() int {
	return p.OnHand - p.Reserved
}

// Lot is a purchase batch consumed oldest-first
type Lot struct {
	ID           int64           `db:"id" json:"id"`
	ProductID    int64           `db:"product_id" json:"product_id"`
	PurchaseRef  *string         `db:"purchase_ref" json:"purchase_ref,omitempty"`
	Quantity     int             `db:"quantity" json:"quantity"`
	RemainingQty int             `db:"remaining_qty" json:"remaining_qty"`
	UnitCost     decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	PurchaseDate time.Time       `db:"purchase_date" json:"purchase_date"`
	ExpiryDate   *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	BatchNumber  *string         `db:"batch_number" json:"batch_number,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Order represents a customer order
type Order struct {
	ID             int64           `db:"id" json:"id"`
	Number         string          `db:"number" json:"number"`
	CustomerID     *int64          `db:"customer_id" json:"customer_id,omitempty"`
	Status         string          `db:"status" json:"status"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	Notes          string          `db:"notes" json:"notes,omitempty"`
	CreatedBy      string          `db:"created_by" json:"created_by"`
	ApprovedBy     *string         `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt     *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	SaleID         *int64          `db:"sale_id" json:"sale_id,omitempty"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the order can no longer change
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusApproved || o.Status == OrderStatusCancelled
}

// OrderLine represents items in an order
type OrderLine struct {
	ID               int64           `db:"id" json:"id"`
	OrderID          int64           `db:"order_id" json:"order_id"`
	ProductID        int64           `db:"product_id" json:"product_id"`
	Quantity         int             `db:"quantity" json:"quantity"`
	OriginalQuantity int             `db:"original_quantity" json:"original_quantity"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal        decimal.Decimal `db:"line_total" json:"line_total"`
}

// OrderEvent is one row of the order audit trail
type OrderEvent struct {
	ID             int64     `db:"id" json:"id"`
	OrderID        int64     `db:"order_id" json:"order_id"`
	Actor          string    `db:"actor" json:"actor"`
	Action         string    `db:"action" json:"action"`
	PreviousStatus *string   `db:"previous_status" json:"previous_status,omitempty"`
	NewStatus      *string   `db:"new_status" json:"new_status,omitempty"`
	Changes        string    `db:"changes" json:"changes"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Sale is the immutable financial record emitted when an order is approved
type Sale struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	TotalCost   decimal.Decimal `db:"total_cost" json:"total_cost"`
	TotalProfit decimal.Decimal `db:"total_profit" json:"total_profit"`
	CreatedBy   string          `db:"created_by" json:"created_by"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	Lines       []SaleLine      `db:"-" json:"lines"`
	Payments    []Payment       `db:"-" json:"payments"`
}

// SaleLine carries the FIFO cost and profit breakdown of one sold product
type SaleLine struct {
	ID           int64           `db:"id" json:"id"`
	SaleID       int64           `db:"sale_id" json:"sale_id"`
	ProductID    int64           `db:"product_id" json:"product_id"`
	Quantity     int             `db:"quantity" json:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	UnitCost     decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	LineTotal    decimal.Decimal `db:"line_total" json:"line_total"`
	LineCost     decimal.Decimal `db:"line_cost" json:"line_cost"`
	ProfitAmount decimal.Decimal `db:"profit_amount" json:"profit_amount"`
	ProfitMargin decimal.Decimal `db:"profit_margin" json:"profit_margin"`
	CostSource   string          `db:"cost_source" json:"cost_source"`
	Allocations  []LotAllocation `db:"-" json:"allocations,omitempty"`
}

// LotAllocation records how many units of a sale line were taken from which lot
type LotAllocation struct {
	LotID    int64           `db:"lot_id" json:"lot_id"`
	Quantity int             `db:"quantity" json:"quantity"`
	UnitCost decimal.Decimal `db:"unit_cost" json:"unit_cost"`
}

// Cost returns quantity × unit cost for the allocation
func (a LotAllocation) Cost() decimal.Decimal {
	return a.UnitCost.Mul(decimal.NewFromInt(int64(a.Quantity)))
}

// Payment is one tender used to settle an approved order
type Payment struct {
	ID        int64           `db:"id" json:"id"`
	SaleID    int64           `db:"sale_id" json:"sale_id"`
	Method    string          `db:"method" json:"method"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Reference string          `db:"reference" json:"reference,omitempty"`
}

// Order statuses
const (
	OrderStatusPending   = "PENDING"
	OrderStatusApproved  = "APPROVED"
	OrderStatusCancelled = "CANCELLED"
)

// Order audit actions
const (
	OrderActionCreated   = "CREATED"
	OrderActionEdited    = "EDITED"
	OrderActionApproved  = "APPROVED"
	OrderActionCancelled = "CANCELLED"
)

// Cost sources of a sale line
const (
	CostSourceFIFO          = "FIFO"
	CostSourcePurchasePrice = "PURCHASE_PRICE"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
