package service

import (
	"context"
	"fmt"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

// StockAccessor owns the on_hand and reserved counters of a product.
// It never opens transactions: every call runs inside the caller's Tx and
// locks the product row before doing arithmetic on it.
type StockAccessor struct {
	logger *zap.Logger
}

// NewStockAccessor creates a new stock accessor
func NewStockAccessor() *StockAccessor {
	return &StockAccessor{logger: util.GetLogger()}
}

// Reserve places a soft hold of qty units for a pending order
func (a *StockAccessor) Reserve(ctx context.Context, tx store.Tx, productID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: reserve quantity must be positive, got %d", models.ErrInvalidInput, qty)
	}

	product, err := tx.LockProductByID(ctx, productID)
	if err != nil {
		return err
	}

	if !product.IsActive {
		util.StockReservationsFailed.WithLabelValues("inactive").Inc()
		return fmt.Errorf("%w: product %d is inactive", models.ErrInvalidInput, productID)
	}

	if product.Available() < qty {
		util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		return &models.StockError{
			Kind:      models.ErrInsufficientStock,
			ProductID: productID,
			Requested: qty,
			Available: product.Available(),
		}
	}

	return a.write(ctx, tx, "reserve", product, product.OnHand, product.Reserved+qty)
}

// Release drops qty units of reservation
func (a *StockAccessor) Release(ctx context.Context, tx store.Tx, productID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: release quantity must be positive, got %d", models.ErrInvalidInput, qty)
	}

	product, err := tx.LockProductByID(ctx, productID)
	if err != nil {
		return err
	}

	if product.Reserved < qty {
		return a.violation("release", product, qty)
	}

	return a.write(ctx, tx, "release", product, product.OnHand, product.Reserved-qty)
}

// Consume turns qty reserved units into a sale: both counters drop by qty
func (a *StockAccessor) Consume(ctx context.Context, tx store.Tx, productID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: consume quantity must be positive, got %d", models.ErrInvalidInput, qty)
	}

	product, err := tx.LockProductByID(ctx, productID)
	if err != nil {
		return err
	}

	if product.Reserved < qty || product.OnHand < qty {
		return a.violation("consume", product, qty)
	}

	return a.write(ctx, tx, "consume", product, product.OnHand-qty, product.Reserved-qty)
}

// Delta adjusts the reservation by a signed quantity when a pending line changes.
// Positive deltas are checked like Reserve, negative ones like Release.
func (a *StockAccessor) Delta(ctx context.Context, tx store.Tx, productID int64, qty int) error {
	switch {
	case qty > 0:
		return a.Reserve(ctx, tx, productID, qty)
	case qty < 0:
		return a.Release(ctx, tx, productID, -qty)
	default:
		return nil
	}
}

// Receive adds physically received units to on_hand
func (a *StockAccessor) Receive(ctx context.Context, tx store.Tx, productID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: receive quantity must be positive, got %d", models.ErrInvalidInput, qty)
	}

	product, err := tx.LockProductByID(ctx, productID)
	if err != nil {
		return err
	}

	return a.write(ctx, tx, "receive", product, product.OnHand+qty, product.Reserved)
}

func (a *StockAccessor) write(ctx context.Context, tx store.Tx, op string, product *models.Product, onHand, reserved int) error {
	if reserved < 0 || reserved > onHand {
		return a.violation(op, product, 0)
	}

	if err := tx.UpdateProductStock(ctx, product.ID, onHand, reserved); err != nil {
		return fmt.Errorf("failed to %s stock: %w", op, err)
	}

	a.logger.Debug("Stock updated",
		zap.String("operation", op),
		zap.Int64("product_id", product.ID),
		zap.Int("on_hand", onHand),
		zap.Int("reserved", reserved))
	return nil
}

// violation reports a caller bug: the counters would leave 0 <= reserved <= on_hand
func (a *StockAccessor) violation(op string, product *models.Product, qty int) error {
	util.StockInvariantViolations.WithLabelValues(op).Inc()
	a.logger.Error("Stock invariant violation",
		zap.String("operation", op),
		zap.Int64("product_id", product.ID),
		zap.Int("requested", qty),
		zap.Int("on_hand", product.OnHand),
		zap.Int("reserved", product.Reserved))

	return &models.StockError{
		Kind:      models.ErrInvariantViolation,
		ProductID: product.ID,
		Requested: qty,
		Available: product.Reserved,
	}
}
