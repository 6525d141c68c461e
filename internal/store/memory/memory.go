package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"

	"github.com/shopspring/decimal"
)

// Store is an in-process repository. Transactions run one at a time against a
// private copy of the state which replaces the shared state only on commit.
type Store struct {
	mu          sync.RWMutex
	st          *state
	orderNumber atomic.Int64
}

type state struct {
	lastID    int64
	products  map[int64]models.Product
	lots      map[int64]models.Lot
	orders    map[int64]models.Order
	lines     map[int64]models.OrderLine
	events    []models.OrderEvent
	sales     map[int64]models.Sale
	processed map[string]models.ProcessedEvent
}

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*state)(nil)
)

// New returns an empty store
func New() *Store {
	return &Store{st: &state{
		products:  make(map[int64]models.Product),
		lots:      make(map[int64]models.Lot),
		orders:    make(map[int64]models.Order),
		lines:     make(map[int64]models.OrderLine),
		events:    make([]models.OrderEvent, 0, 64),
		sales:     make(map[int64]models.Sale),
		processed: make(map[string]models.ProcessedEvent),
	}}
}

// NewSeeded returns a store with a small demo catalog for running without Postgres.
func NewSeeded() *Store {
	s := New()
	epoch := time.Now().UTC().AddDate(0, -1, 0)
	for i, seed := range []struct {
		sku, name       string
		purchase, price string
		lots            []int
	}{
		{"SKU-COFFEE-250", "Ground Coffee 250g", "4.10", "7.50", []int{40, 60}},
		{"SKU-TEA-100", "Black Tea 100 bags", "2.30", "4.20", []int{80}},
		{"SKU-MUG-01", "Ceramic Mug", "3.00", "8.90", []int{25, 25}},
		{"SKU-FILTER-80", "Paper Filters x80", "0.90", "2.40", nil},
	} {
		p := s.AddProduct(models.Product{
			SKU:           seed.sku,
			Name:          seed.name,
			PurchasePrice: decimal.RequireFromString(seed.purchase),
			SalePrice:     decimal.RequireFromString(seed.price),
			IsActive:      true,
		})
		for j, qty := range seed.lots {
			cost := p.PurchasePrice.Add(decimal.NewFromFloat(0.05 * float64(j)))
			s.AddLot(models.Lot{
				ProductID:    p.ID,
				Quantity:     qty,
				RemainingQty: qty,
				UnitCost:     cost,
				PurchaseDate: epoch.AddDate(0, 0, i+j*7),
			})
		}
	}
	return s
}

// AddProduct inserts a catalog product outside of any transaction
func (s *Store) AddProduct(p models.Product) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.st.nextID()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.st.products[p.ID] = p
	return p
}

// AddLot records a lot and adds its quantity to the product's on-hand stock
func (s *Store) AddLot(lot models.Lot) models.Lot {
	s.mu.Lock()
	defer s.mu.Unlock()

	lot.ID = s.st.nextID()
	lot.CreatedAt = time.Now().UTC()
	s.st.lots[lot.ID] = lot
	if p, ok := s.st.products[lot.ProductID]; ok {
		p.OnHand += lot.Quantity
		p.StockVersion++
		s.st.products[p.ID] = p
	}
	return lot
}

// NextOrderNumber hands out the next order number; numbers of rolled back creates are not reused
func (s *Store) NextOrderNumber(_ context.Context) (int64, error) {
	return s.orderNumber.Add(1), nil
}

// WithTx runs fn against a private copy of the state and publishes it only when fn succeeds
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetProductByID(ctx, id)
}

// GetProducts lists every product by ID
func (s *Store) GetProducts(ctx context.Context) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetProducts(ctx)
}

// GetLotsByProductID lists every lot of a product in FIFO order
func (s *Store) GetLotsByProductID(ctx context.Context, productID int64) ([]models.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetLotsByProductID(ctx, productID)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetOrderByID(ctx, id)
}

// GetOrderByIdempotencyKey retrieves the order created under an idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetOrderByIdempotencyKey(ctx, key)
}

// GetOrders lists orders, newest first, optionally filtered by status
func (s *Store) GetOrders(ctx context.Context, status string, limit int) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetOrders(ctx, status, limit)
}

// GetOrderLinesByOrderID lists the lines of an order
func (s *Store) GetOrderLinesByOrderID(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetOrderLinesByOrderID(ctx, orderID)
}

// GetOrderEventsByOrderID lists the audit trail of an order, oldest first
func (s *Store) GetOrderEventsByOrderID(ctx context.Context, orderID int64) ([]models.OrderEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetOrderEventsByOrderID(ctx, orderID)
}

// GetSaleByOrderID retrieves the sale emitted for an order
func (s *Store) GetSaleByOrderID(ctx context.Context, orderID int64) (*models.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetSaleByOrderID(ctx, orderID)
}

// IsEventProcessed reports whether a consumed event was already applied
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.IsEventProcessed(ctx, eventID)
}

func (st *state) nextID() int64 {
	st.lastID++
	return st.lastID
}

func (st *state) clone() *state {
	c := &state{
		lastID:    st.lastID,
		products:  make(map[int64]models.Product, len(st.products)),
		lots:      make(map[int64]models.Lot, len(st.lots)),
		orders:    make(map[int64]models.Order, len(st.orders)),
		lines:     make(map[int64]models.OrderLine, len(st.lines)),
		events:    make([]models.OrderEvent, len(st.events), len(st.events)+8),
		sales:     make(map[int64]models.Sale, len(st.sales)),
		processed: make(map[string]models.ProcessedEvent, len(st.processed)),
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.lots {
		c.lots[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.lines {
		c.lines[k] = v
	}
	copy(c.events, st.events)
	// sales are immutable once stored
	for k, v := range st.sales {
		c.sales[k] = v
	}
	for k, v := range st.processed {
		c.processed[k] = v
	}
	return c
}

func (st *state) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	p, ok := st.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	return &p, nil
}

func (st *state) GetProducts(_ context.Context) ([]models.Product, error) {
	products := make([]models.Product, 0, len(st.products))
	for _, p := range st.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (st *state) LockProductByID(ctx context.Context, id int64) (*models.Product, error) {
	return st.GetProductByID(ctx, id)
}

func (st *state) UpdateProductStock(_ context.Context, productID int64, onHand, reserved int) error {
	p, ok := st.products[productID]
	if !ok {
		return fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
	}
	// mirrors the products_stock_check constraint of the Postgres schema
	if reserved < 0 || reserved > onHand {
		return fmt.Errorf("product %d: stock check failed on_hand=%d reserved=%d", productID, onHand, reserved)
	}
	p.OnHand, p.Reserved = onHand, reserved
	p.StockVersion++
	p.UpdatedAt = time.Now().UTC()
	st.products[productID] = p
	return nil
}

func (st *state) GetLotsByProductID(_ context.Context, productID int64) ([]models.Lot, error) {
	return st.lotsOf(productID, false), nil
}

func (st *state) LockOpenLots(_ context.Context, productID int64) ([]models.Lot, error) {
	return st.lotsOf(productID, true), nil
}

func (st *state) lotsOf(productID int64, openOnly bool) []models.Lot {
	lots := make([]models.Lot, 0, 4)
	for _, lot := range st.lots {
		if lot.ProductID != productID {
			continue
		}
		if openOnly && lot.RemainingQty <= 0 {
			continue
		}
		lots = append(lots, lot)
	}
	sort.Slice(lots, func(i, j int) bool {
		if lots[i].PurchaseDate.Equal(lots[j].PurchaseDate) {
			return lots[i].ID < lots[j].ID
		}
		return lots[i].PurchaseDate.Before(lots[j].PurchaseDate)
	})
	return lots
}

func (st *state) CountLots(_ context.Context, productID int64) (int, error) {
	n := 0
	for _, lot := range st.lots {
		if lot.ProductID == productID {
			n++
		}
	}
	return n, nil
}

func (st *state) UpdateLotRemaining(_ context.Context, lotID int64, remaining int) error {
	lot, ok := st.lots[lotID]
	if !ok {
		return fmt.Errorf("lot %d: %w", lotID, models.ErrNotFound)
	}
	if remaining < 0 || remaining > lot.Quantity {
		return fmt.Errorf("lot %d: remaining check failed quantity=%d remaining=%d", lotID, lot.Quantity, remaining)
	}
	lot.RemainingQty = remaining
	st.lots[lotID] = lot
	return nil
}

func (st *state) CreateLot(_ context.Context, lot *models.Lot) error {
	if _, ok := st.products[lot.ProductID]; !ok {
		return fmt.Errorf("product %d: %w", lot.ProductID, models.ErrNotFound)
	}
	lot.ID = st.nextID()
	lot.CreatedAt = time.Now().UTC()
	st.lots[lot.ID] = *lot
	return nil
}

func (st *state) CreateOrder(_ context.Context, order *models.Order) error {
	for _, existing := range st.orders {
		if existing.Number == order.Number {
			return fmt.Errorf("order number %s already used", order.Number)
		}
		// mirrors the orders_idempotency_key_key unique index
		if order.IdempotencyKey != nil && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *order.IdempotencyKey {
			return fmt.Errorf("order with idempotency key %q: %w", *order.IdempotencyKey, models.ErrDuplicateRequest)
		}
	}
	order.ID = st.nextID()
	now := time.Now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now
	st.orders[order.ID] = *order
	return nil
}

func (st *state) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	order, ok := st.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	return &order, nil
}

func (st *state) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	for _, order := range st.orders {
		if order.IdempotencyKey != nil && *order.IdempotencyKey == key {
			return &order, nil
		}
	}
	return nil, fmt.Errorf("order with idempotency key %q: %w", key, models.ErrNotFound)
}

func (st *state) LockOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return st.GetOrderByID(ctx, id)
}

func (st *state) GetOrders(_ context.Context, status string, limit int) ([]models.Order, error) {
	orders := make([]models.Order, 0, len(st.orders))
	for _, order := range st.orders {
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (st *state) UpdateOrder(_ context.Context, order *models.Order) error {
	if _, ok := st.orders[order.ID]; !ok {
		return fmt.Errorf("order %d: %w", order.ID, models.ErrNotFound)
	}
	order.UpdatedAt = time.Now().UTC()
	st.orders[order.ID] = *order
	return nil
}

func (st *state) CreateOrderLine(_ context.Context, line *models.OrderLine) error {
	for _, existing := range st.lines {
		if existing.OrderID == line.OrderID && existing.ProductID == line.ProductID {
			return fmt.Errorf("order %d already has a line for product %d", line.OrderID, line.ProductID)
		}
	}
	line.ID = st.nextID()
	st.lines[line.ID] = *line
	return nil
}

func (st *state) UpdateOrderLine(_ context.Context, line *models.OrderLine) error {
	if _, ok := st.lines[line.ID]; !ok {
		return fmt.Errorf("order line %d: %w", line.ID, models.ErrNotFound)
	}
	st.lines[line.ID] = *line
	return nil
}

func (st *state) DeleteOrderLine(_ context.Context, lineID int64) error {
	if _, ok := st.lines[lineID]; !ok {
		return fmt.Errorf("order line %d: %w", lineID, models.ErrNotFound)
	}
	delete(st.lines, lineID)
	return nil
}

func (st *state) GetOrderLinesByOrderID(_ context.Context, orderID int64) ([]models.OrderLine, error) {
	lines := make([]models.OrderLine, 0, 4)
	for _, line := range st.lines {
		if line.OrderID == orderID {
			lines = append(lines, line)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func (st *state) CreateOrderEvent(_ context.Context, event *models.OrderEvent) error {
	event.ID = st.nextID()
	event.CreatedAt = time.Now().UTC()
	st.events = append(st.events, *event)
	return nil
}

func (st *state) GetOrderEventsByOrderID(_ context.Context, orderID int64) ([]models.OrderEvent, error) {
	events := make([]models.OrderEvent, 0, 4)
	for _, event := range st.events {
		if event.OrderID == orderID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (st *state) CreateSale(_ context.Context, sale *models.Sale) error {
	for _, existing := range st.sales {
		if existing.OrderID == sale.OrderID {
			return fmt.Errorf("order %d already has sale %d", sale.OrderID, existing.ID)
		}
	}
	sale.ID = st.nextID()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	for i := range sale.Lines {
		sale.Lines[i].ID = st.nextID()
		sale.Lines[i].SaleID = sale.ID
	}
	for i := range sale.Payments {
		sale.Payments[i].ID = st.nextID()
		sale.Payments[i].SaleID = sale.ID
	}
	st.sales[sale.ID] = copySale(*sale)
	return nil
}

func (st *state) GetSaleByOrderID(_ context.Context, orderID int64) (*models.Sale, error) {
	for _, sale := range st.sales {
		if sale.OrderID == orderID {
			c := copySale(sale)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("sale for order %d: %w", orderID, models.ErrNotFound)
}

func (st *state) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	_, ok := st.processed[eventID]
	return ok, nil
}

func (st *state) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	if _, ok := st.processed[eventID]; ok {
		return nil
	}
	st.processed[eventID] = models.ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now().UTC(),
	}
	return nil
}

func copySale(sale models.Sale) models.Sale {
	lines := make([]models.SaleLine, len(sale.Lines))
	for i, line := range sale.Lines {
		line.Allocations = append([]models.LotAllocation(nil), line.Allocations...)
		lines[i] = line
	}
	sale.Lines = lines
	sale.Payments = append([]models.Payment(nil), sale.Payments...)
	return sale
}
