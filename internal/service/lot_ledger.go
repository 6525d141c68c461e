package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"
	"order-fulfillment/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LotLedger owns purchase lots and their FIFO consumption
type LotLedger struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewLotLedger creates a new lot ledger
func NewLotLedger() *LotLedger {
	return &LotLedger{
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// LotInput describes one received purchase line
type LotInput struct {
	ProductID    int64           `json:"product_id" binding:"required"`
	PurchaseRef  *string         `json:"purchase_ref,omitempty"`
	Quantity     int             `json:"quantity" binding:"required,min=1"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	PurchaseDate time.Time       `json:"purchase_date"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
	BatchNumber  *string         `json:"batch_number,omitempty"`
}

// FIFOResult is the cost of a FIFO consumption and the lots it drew from
type FIFOResult struct {
	ProductID   int64                  `json:"product_id"`
	Quantity    int                    `json:"quantity"`
	TotalCost   decimal.Decimal        `json:"total_cost"`
	UnitCost    decimal.Decimal        `json:"unit_cost"`
	Allocations []models.LotAllocation `json:"allocations"`
}

// Ingest records a new lot with its full quantity unconsumed
func (l *LotLedger) Ingest(ctx context.Context, tx store.Tx, in LotInput) (*models.Lot, error) {
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("%w: lot quantity must be positive, got %d", models.ErrInvalidInput, in.Quantity)
	}
	if in.UnitCost.IsNegative() {
		return nil, fmt.Errorf("%w: lot unit cost must not be negative, got %s", models.ErrInvalidInput, in.UnitCost)
	}
	if !fitsMoneyScale(in.UnitCost) {
		return nil, fmt.Errorf("%w: lot unit cost has more than %d decimal places, got %s", models.ErrInvalidInput, moneyScale, in.UnitCost)
	}

	purchaseDate := in.PurchaseDate
	if purchaseDate.IsZero() {
		purchaseDate = l.now().UTC()
	}

	lot := &models.Lot{
		ProductID:    in.ProductID,
		PurchaseRef:  in.PurchaseRef,
		Quantity:     in.Quantity,
		RemainingQty: in.Quantity,
		UnitCost:     in.UnitCost,
		PurchaseDate: purchaseDate,
		ExpiryDate:   in.ExpiryDate,
		BatchNumber:  in.BatchNumber,
	}

	if err := tx.CreateLot(ctx, lot); err != nil {
		return nil, fmt.Errorf("failed to create lot: %w", err)
	}

	util.LotsIngestedTotal.Inc()
	l.logger.Info("Lot ingested",
		zap.Int64("lot_id", lot.ID),
		zap.Int64("product_id", lot.ProductID),
		zap.Int("quantity", lot.Quantity),
		zap.String("unit_cost", lot.UnitCost.String()))
	return lot, nil
}

// ConsumeFIFO takes qty units from the oldest lots first and returns their cost.
// Availability is checked across all lots before any lot is touched, so a
// failure leaves every lot unchanged. A product that never had a lot yields
// models.ErrNoLots; choosing a fallback cost is up to the caller.
func (l *LotLedger) ConsumeFIFO(ctx context.Context, tx store.Tx, productID int64, qty int) (*FIFOResult, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: consume quantity must be positive, got %d", models.ErrInvalidInput, qty)
	}

	start := time.Now()
	defer func() {
		util.FIFOConsumeLatency.Observe(time.Since(start).Seconds())
	}()

	lots, err := tx.LockOpenLots(ctx, productID)
	if err != nil {
		return nil, err
	}

	if len(lots) == 0 {
		n, err := tx.CountLots(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("failed to count lots: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("product %d: %w", productID, models.ErrNoLots)
		}
	}

	sortFIFO(lots)

	available := 0
	for _, lot := range lots {
		available += lot.RemainingQty
	}
	if available < qty {
		return nil, &models.LotError{ProductID: productID, Requested: qty, Available: available}
	}

	result := &FIFOResult{
		ProductID:   productID,
		Quantity:    qty,
		TotalCost:   decimal.Zero,
		Allocations: make([]models.LotAllocation, 0, 2),
	}

	need := qty
	for _, lot := range lots {
		if need == 0 {
			break
		}

		take := min(need, lot.RemainingQty)
		if err := tx.UpdateLotRemaining(ctx, lot.ID, lot.RemainingQty-take); err != nil {
			return nil, fmt.Errorf("failed to consume lot %d: %w", lot.ID, err)
		}

		alloc := models.LotAllocation{LotID: lot.ID, Quantity: take, UnitCost: lot.UnitCost}
		result.Allocations = append(result.Allocations, alloc)
		result.TotalCost = result.TotalCost.Add(alloc.Cost())
		need -= take
	}

	result.UnitCost = result.TotalCost.Div(decimal.NewFromInt(int64(qty)))

	l.logger.Debug("FIFO lots consumed",
		zap.Int64("product_id", productID),
		zap.Int("quantity", qty),
		zap.Int("lots", len(result.Allocations)),
		zap.String("total_cost", result.TotalCost.String()))
	return result, nil
}

// sortFIFO orders lots by purchase date, then id, whatever order the store returned
func sortFIFO(lots []models.Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if lots[i].PurchaseDate.Equal(lots[j].PurchaseDate) {
			return lots[i].ID < lots[j].ID
		}
		return lots[i].PurchaseDate.Before(lots[j].PurchaseDate)
	})
}
