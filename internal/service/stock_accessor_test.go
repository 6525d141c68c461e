package service

import (
	"context"
	"testing"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockAccessorOperations(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		onHand       int
		reserved     int
		op           func(a *StockAccessor, tx store.Tx, id int64) error
		wantErr      error
		wantOnHand   int
		wantReserved int
	}{
		{
			name: "reserve within available", onHand: 10, reserved: 4,
			op:         func(a *StockAccessor, tx store.Tx, id int64) error { return a.Reserve(ctx, tx, id, 6) },
			wantOnHand: 10, wantReserved: 10,
		},
		{
			name: "reserve beyond available", onHand: 10, reserved: 4,
			op:      func(a *StockAccessor, tx store.Tx, id int64) error { return a.Reserve(ctx, tx, id, 7) },
			wantErr: models.ErrInsufficientStock, wantOnHand: 10, wantReserved: 4,
		},
		{
			name: "release", onHand: 10, reserved: 4,
			op:         func(a *StockAccessor, tx store.Tx, id int64) error { return a.Release(ctx, tx, id, 4) },
			wantOnHand: 10, wantReserved: 0,
		},
		{
			name: "release more than reserved", onHand: 10, reserved: 4,
			op:      func(a *StockAccessor, tx store.Tx, id int64) error { return a.Release(ctx, tx, id, 5) },
			wantErr: models.ErrInvariantViolation, wantOnHand: 10, wantReserved: 4,
		},
		{
			name: "consume", onHand: 10, reserved: 4,
			op:         func(a *StockAccessor, tx store.Tx, id int64) error { return a.Consume(ctx, tx, id, 3) },
			wantOnHand: 7, wantReserved: 1,
		},
		{
			name: "consume unreserved", onHand: 10, reserved: 2,
			op:      func(a *StockAccessor, tx store.Tx, id int64) error { return a.Consume(ctx, tx, id, 3) },
			wantErr: models.ErrInvariantViolation, wantOnHand: 10, wantReserved: 2,
		},
		{
			name: "positive delta", onHand: 10, reserved: 4,
			op:         func(a *StockAccessor, tx store.Tx, id int64) error { return a.Delta(ctx, tx, id, 3) },
			wantOnHand: 10, wantReserved: 7,
		},
		{
			name: "negative delta", onHand: 10, reserved: 4,
			op:         func(a *StockAccessor, tx store.Tx, id int64) error { return a.Delta(ctx, tx, id, -3) },
			wantOnHand: 10, wantReserved: 1,
		},
		{
			name: "zero delta", onHand: 10, reserved: 4,
			op:         func(a *StockAccessor, tx store.Tx, id int64) error { return a.Delta(ctx, tx, id, 0) },
			wantOnHand: 10, wantReserved: 4,
		},
		{
			name: "receive", onHand: 10, reserved: 4,
			op:         func(a *StockAccessor, tx store.Tx, id int64) error { return a.Receive(ctx, tx, id, 5) },
			wantOnHand: 15, wantReserved: 4,
		},
		{
			name: "non-positive quantity", onHand: 10, reserved: 4,
			op:      func(a *StockAccessor, tx store.Tx, id int64) error { return a.Reserve(ctx, tx, id, 0) },
			wantErr: models.ErrInvalidInput, wantOnHand: 10, wantReserved: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			p := env.repo.AddProduct(models.Product{SKU: "S", OnHand: tt.onHand, Reserved: tt.reserved, IsActive: true})
			accessor := NewStockAccessor()

			err := env.repo.WithTx(ctx, func(tx store.Tx) error {
				return tt.op(accessor, tx, p.ID)
			})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			onHand, reserved := env.stockOf(t, p.ID)
			assert.Equal(t, tt.wantOnHand, onHand)
			assert.Equal(t, tt.wantReserved, reserved)
		})
	}
}

func TestStockAccessorReserveRejectsInactiveAndUnknown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	inactive := env.repo.AddProduct(models.Product{SKU: "OFF", OnHand: 10})
	accessor := NewStockAccessor()

	err := env.repo.WithTx(ctx, func(tx store.Tx) error {
		return accessor.Reserve(ctx, tx, inactive.ID, 1)
	})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	err = env.repo.WithTx(ctx, func(tx store.Tx) error {
		return accessor.Reserve(ctx, tx, 777, 1)
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStockErrorCarriesCounts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.repo.AddProduct(models.Product{SKU: "S", OnHand: 5, Reserved: 3, IsActive: true})

	err := env.repo.WithTx(ctx, func(tx store.Tx) error {
		return NewStockAccessor().Reserve(ctx, tx, p.ID, 4)
	})

	var stockErr *models.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, p.ID, stockErr.ProductID)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)
}
