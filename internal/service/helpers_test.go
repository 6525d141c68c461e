package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	orders   []*models.OrderChangedEvent
	payments []*models.PaymentReceivedEvent
	err      error
}

func (p *recordingPublisher) PublishOrderChanged(_ context.Context, event *models.OrderChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, event)
	return p.err
}

func (p *recordingPublisher) PublishPaymentReceived(_ context.Context, event *models.PaymentReceivedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payments = append(p.payments, event)
	return p.err
}

func (p *recordingPublisher) orderEventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.orders))
	for _, e := range p.orders {
		types = append(types, e.EventType)
	}
	return types
}

type fakeCache struct {
	mu        sync.Mutex
	snapshots map[int64][2]int
	versions  map[int64]int64
	keys      map[string]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{snapshots: map[int64][2]int{}, versions: map[int64]int64{}, keys: map[string]int64{}}
}

func (c *fakeCache) SetAvailability(_ context.Context, productID int64, onHand, reserved int, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.versions[productID]; ok && current > version {
		return nil
	}
	c.snapshots[productID] = [2]int{onHand, reserved}
	c.versions[productID] = version
	return nil
}

func (c *fakeCache) GetAvailability(_ context.Context, productID int64) (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snapshots[productID]
	if !ok {
		return 0, 0, fmt.Errorf("no snapshot for %d", productID)
	}
	return s[0], s[1], nil
}

func (c *fakeCache) LookupIdempotencyKey(_ context.Context, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.keys[key]
	return id, ok, nil
}

func (c *fakeCache) RememberIdempotencyKey(_ context.Context, key string, orderID int64, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = orderID
	return nil
}

type testEnv struct {
	repo      *memory.Store
	publisher *recordingPublisher
	cache     *fakeCache
	orders    *OrderService
	inventory *InventoryService
	epoch     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := memory.New()
	publisher := &recordingPublisher{}
	cache := newFakeCache()
	stock := NewStockAccessor()
	ledger := NewLotLedger()

	return &testEnv{
		repo:      repo,
		publisher: publisher,
		cache:     cache,
		orders:    NewOrderService(repo, stock, ledger, publisher, cache, OrderServiceOptions{}),
		inventory: NewInventoryService(repo, stock, ledger, cache),
		epoch:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// product adds an active product priced at salePrice, stocked by one lot per entry of lots (qty, unit cost)
func (e *testEnv) product(salePrice string, lots ...lotSeed) models.Product {
	p := e.repo.AddProduct(models.Product{
		SKU:           fmt.Sprintf("SKU-%d", len(lots)),
		Name:          "test product",
		PurchasePrice: dec("1.00"),
		SalePrice:     dec(salePrice),
		IsActive:      true,
	})
	for i, l := range lots {
		e.repo.AddLot(models.Lot{
			ProductID:    p.ID,
			Quantity:     l.qty,
			RemainingQty: l.qty,
			UnitCost:     dec(l.cost),
			PurchaseDate: e.epoch.AddDate(0, 0, i),
		})
	}
	return p
}

type lotSeed struct {
	qty  int
	cost string
}

func (e *testEnv) stockOf(t *testing.T, productID int64) (onHand, reserved int) {
	t.Helper()
	p, err := e.repo.GetProductByID(context.Background(), productID)
	require.NoError(t, err)
	return p.OnHand, p.Reserved
}

func (e *testEnv) create(t *testing.T, items ...OrderItemRequest) *OrderDetails {
	t.Helper()
	details, err := e.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		CreatedBy: "clerk",
		Items:     items,
	})
	require.NoError(t, err)
	return details
}

func item(productID int64, qty int) OrderItemRequest {
	return OrderItemRequest{ProductID: productID, Quantity: qty}
}

func pay(amounts ...string) []PaymentRequest {
	payments := make([]PaymentRequest, 0, len(amounts))
	for _, a := range amounts {
		payments = append(payments, PaymentRequest{Method: "CASH", Amount: dec(a)})
	}
	return payments
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func price(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(expected).Equal(actual), "expected %s, got %s", expected, actual)
}
