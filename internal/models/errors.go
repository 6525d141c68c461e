package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidState       = errors.New("invalid order state")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInsufficientLots   = errors.New("insufficient lots")
	ErrNoLots             = errors.New("no lots recorded for product")
	ErrPaymentMismatch    = errors.New("payment mismatch")
	ErrInvariantViolation = errors.New("stock invariant violation")
	ErrDuplicateRequest   = errors.New("idempotency key already used")
)

// StockError reports a reservation or consumption that the product counters cannot satisfy.
// Kind is ErrInsufficientStock or ErrInvariantViolation.
type StockError struct {
	Kind      error
	ProductID int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%v: product=%d requested=%d available=%d", e.Kind, e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return e.Kind
}

// LotError reports a FIFO request larger than the remaining lot quantity
type LotError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *LotError) Error() string {
	return fmt.Sprintf("%v: product=%d requested=%d available=%d", ErrInsufficientLots, e.ProductID, e.Requested, e.Available)
}

func (e *LotError) Unwrap() error {
	return ErrInsufficientLots
}

// PaymentError reports payments that do not settle the order total
type PaymentError struct {
	OrderID  int64
	Expected decimal.Decimal
	Received decimal.Decimal
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%v: order=%d expected=%s received=%s", ErrPaymentMismatch, e.OrderID, e.Expected.StringFixed(2), e.Received.StringFixed(2))
}

func (e *PaymentError) Unwrap() error {
	return ErrPaymentMismatch
}

// StateError reports an operation attempted on an order outside PENDING
type StateError struct {
	OrderID   int64
	Status    string
	Operation string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v: cannot %s order %d in status %s", ErrInvalidState, e.Operation, e.OrderID, e.Status)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}
