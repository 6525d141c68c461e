package service

import (
	"context"
	"testing"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func consumeFIFO(t *testing.T, env *testEnv, productID int64, qty int) (*FIFOResult, error) {
	t.Helper()
	var result *FIFOResult
	err := env.repo.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		result, err = NewLotLedger().ConsumeFIFO(context.Background(), tx, productID, qty)
		return err
	})
	return result, err
}

func remainingByLot(t *testing.T, env *testEnv, productID int64) []int {
	t.Helper()
	lots, err := env.inventory.ListLots(context.Background(), productID)
	require.NoError(t, err)
	out := make([]int, 0, len(lots))
	for _, lot := range lots {
		out = append(out, lot.RemainingQty)
	}
	return out
}

func TestConsumeFIFOAcrossLots(t *testing.T) {
	env := newTestEnv(t)
	p := env.product("30", lotSeed{5, "10.00"}, lotSeed{5, "20.00"})

	result, err := consumeFIFO(t, env, p.ID, 7)
	require.NoError(t, err)

	assertDecimal(t, "90", result.TotalCost)
	assert.Equal(t, "12.8571", result.UnitCost.StringFixed(4))
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, 5, result.Allocations[0].Quantity)
	assertDecimal(t, "10", result.Allocations[0].UnitCost)
	assert.Equal(t, 2, result.Allocations[1].Quantity)
	assertDecimal(t, "20", result.Allocations[1].UnitCost)

	assert.Equal(t, []int{0, 3}, remainingByLot(t, env, p.ID))
}

func TestConsumeFIFOInsufficientLeavesLotsUntouched(t *testing.T) {
	env := newTestEnv(t)
	p := env.product("30", lotSeed{5, "10.00"}, lotSeed{5, "20.00"})

	_, err := consumeFIFO(t, env, p.ID, 11)

	var lotErr *models.LotError
	require.ErrorAs(t, err, &lotErr)
	assert.ErrorIs(t, err, models.ErrInsufficientLots)
	assert.Equal(t, 10, lotErr.Available)
	assert.Equal(t, []int{5, 5}, remainingByLot(t, env, p.ID))
}

func TestConsumeFIFODistinguishesNoLotsFromDepleted(t *testing.T) {
	env := newTestEnv(t)
	never := env.repo.AddProduct(models.Product{SKU: "NEW", IsActive: true})
	depleted := env.product("1", lotSeed{2, "1.00"})

	_, err := consumeFIFO(t, env, never.ID, 1)
	assert.ErrorIs(t, err, models.ErrNoLots)

	_, err = consumeFIFO(t, env, depleted.ID, 2)
	require.NoError(t, err)

	_, err = consumeFIFO(t, env, depleted.ID, 1)
	assert.ErrorIs(t, err, models.ErrInsufficientLots)
	assert.NotErrorIs(t, err, models.ErrNoLots)
}

func TestConsumeFIFOOrdersByPurchaseDateThenID(t *testing.T) {
	env := newTestEnv(t)
	p := env.repo.AddProduct(models.Product{SKU: "P", IsActive: true})
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// inserted newest first; same-day lots fall back to id order
	late := env.repo.AddLot(models.Lot{ProductID: p.ID, Quantity: 3, RemainingQty: 3, UnitCost: dec("3"), PurchaseDate: day.AddDate(0, 0, 2)})
	sameDayA := env.repo.AddLot(models.Lot{ProductID: p.ID, Quantity: 3, RemainingQty: 3, UnitCost: dec("1"), PurchaseDate: day})
	sameDayB := env.repo.AddLot(models.Lot{ProductID: p.ID, Quantity: 3, RemainingQty: 3, UnitCost: dec("2"), PurchaseDate: day})

	result, err := consumeFIFO(t, env, p.ID, 7)
	require.NoError(t, err)

	require.Len(t, result.Allocations, 3)
	assert.Equal(t, sameDayA.ID, result.Allocations[0].LotID)
	assert.Equal(t, sameDayB.ID, result.Allocations[1].LotID)
	assert.Equal(t, late.ID, result.Allocations[2].LotID)
	assert.Equal(t, 1, result.Allocations[2].Quantity)
	assertDecimal(t, "12", result.TotalCost)
}

func TestIngestValidatesAndDefaultsDate(t *testing.T) {
	env := newTestEnv(t)
	p := env.repo.AddProduct(models.Product{SKU: "P", IsActive: true})
	ledger := NewLotLedger()
	fixed := time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return fixed }
	ctx := context.Background()

	var lot *models.Lot
	err := env.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		lot, err = ledger.Ingest(ctx, tx, LotInput{ProductID: p.ID, Quantity: 4, UnitCost: dec("1.25")})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 4, lot.RemainingQty)
	assert.True(t, fixed.Equal(lot.PurchaseDate))

	for _, in := range []LotInput{
		{ProductID: p.ID, Quantity: 0, UnitCost: dec("1")},
		{ProductID: p.ID, Quantity: 1, UnitCost: dec("-0.01")},
		{ProductID: p.ID, Quantity: 1, UnitCost: dec("0.12345")},
	} {
		err := env.repo.WithTx(ctx, func(tx store.Tx) error {
			_, err := ledger.Ingest(ctx, tx, in)
			return err
		})
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	}
}
