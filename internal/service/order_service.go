package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"
	"order-fulfillment/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	defaultListLimit      = 50
	maxListLimit          = 500
	defaultIdempotencyTTL = 24 * time.Hour
)

// DefaultPaymentEpsilon is the largest payment/total difference still treated as settled.
var DefaultPaymentEpsilon = decimal.RequireFromString("0.01")

// EventPublisher delivers committed order changes to downstream subscribers
type EventPublisher interface {
	PublishOrderChanged(ctx context.Context, event *models.OrderChangedEvent) error
	PublishPaymentReceived(ctx context.Context, event *models.PaymentReceivedEvent) error
}

// Cache holds the read-side availability snapshot and create idempotency keys.
// SetAvailability must drop writes whose version is older than the stored one.
type Cache interface {
	SetAvailability(ctx context.Context, productID int64, onHand, reserved int, version int64) error
	GetAvailability(ctx context.Context, productID int64) (onHand, reserved int, err error)
	LookupIdempotencyKey(ctx context.Context, key string) (int64, bool, error)
	RememberIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error
}

// OrderServiceOptions tunes the order workflow
type OrderServiceOptions struct {
	PaymentEpsilon decimal.Decimal
	IdempotencyTTL time.Duration
}

// OrderService runs the order state machine. Each public operation is one
// unit of work: stock, lot and order changes commit together or not at all.
type OrderService struct {
	repo           store.Repository
	stock          *StockAccessor
	ledger         *LotLedger
	publisher      EventPublisher
	cache          Cache
	logger         *zap.Logger
	paymentEpsilon decimal.Decimal
	idempotencyTTL time.Duration
	now            func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	repo store.Repository,
	stock *StockAccessor,
	ledger *LotLedger,
	publisher EventPublisher,
	cache Cache,
	opts OrderServiceOptions,
) *OrderService {
	if !opts.PaymentEpsilon.IsPositive() {
		opts.PaymentEpsilon = DefaultPaymentEpsilon
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaultIdempotencyTTL
	}
	return &OrderService{
		repo:           repo,
		stock:          stock,
		ledger:         ledger,
		publisher:      publisher,
		cache:          cache,
		logger:         util.GetLogger(),
		paymentEpsilon: opts.PaymentEpsilon,
		idempotencyTTL: opts.IdempotencyTTL,
		now:            time.Now,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	CustomerID     *int64             `json:"customer_id,omitempty"`
	CreatedBy      string             `json:"created_by" binding:"required"`
	Notes          string             `json:"notes,omitempty"`
	Items          []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order. UnitPrice defaults to the product sale price.
type OrderItemRequest struct {
	ProductID int64            `json:"product_id" binding:"required"`
	Quantity  int              `json:"quantity" binding:"required,min=1"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// EditOrderRequest replaces the line set of a pending order
type EditOrderRequest struct {
	Actor string             `json:"actor" binding:"required"`
	Items []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

// ApproveOrderRequest settles a pending order
type ApproveOrderRequest struct {
	Approver string           `json:"approver" binding:"required"`
	Payments []PaymentRequest `json:"payments" binding:"dive"`
}

// PaymentRequest is one tender offered at approval
type PaymentRequest struct {
	Method    string          `json:"method" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

// CancelOrderRequest cancels a pending order
type CancelOrderRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason,omitempty"`
}

// OrderDetails is an order with its lines, audit trail and sale
type OrderDetails struct {
	Order  models.Order        `json:"order"`
	Lines  []models.OrderLine  `json:"lines"`
	Events []models.OrderEvent `json:"events"`
	Sale   *models.Sale        `json:"sale,omitempty"`
}

// FormatOrderNumber renders a sequence value as a human readable order number
func FormatOrderNumber(n int64) string {
	return fmt.Sprintf("ORD-%06d", n)
}

// CreateOrder validates availability, persists a PENDING order and reserves its stock
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (details *OrderDetails, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer func() { util.EndSpan(span, err) }()

	if req.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, s.repo, req.IdempotencyKey)
		if err != nil {
			return nil, s.fail("create", err)
		}
		if existing != nil {
			s.rememberIdempotencyKey(ctx, req.IdempotencyKey, existing.Order.ID)
			return existing, nil
		}
	}

	if strings.TrimSpace(req.CreatedBy) == "" {
		return nil, s.fail("create", fmt.Errorf("%w: created_by is required", models.ErrInvalidInput))
	}
	items, err := normalizeItems(req.Items)
	if err != nil {
		return nil, s.fail("create", err)
	}

	number, err := s.repo.NextOrderNumber(ctx)
	if err != nil {
		return nil, s.fail("create", err)
	}

	replayed := false
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		if req.IdempotencyKey != "" {
			existing, err := s.findByIdempotencyKey(ctx, tx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				details, replayed = existing, true
				return nil
			}
		}

		products, err := s.checkAvailability(ctx, tx, items)
		if err != nil {
			return err
		}

		order := &models.Order{
			Number:      FormatOrderNumber(number),
			CustomerID:  req.CustomerID,
			Status:      models.OrderStatusPending,
			TotalAmount: decimal.Zero,
			Notes:       req.Notes,
			CreatedBy:   req.CreatedBy,
		}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			order.IdempotencyKey = &key
		}
		lines := make([]models.OrderLine, 0, len(items))
		for _, item := range items {
			line := newOrderLine(products[item.ProductID], item)
			order.TotalAmount = order.TotalAmount.Add(line.LineTotal)
			lines = append(lines, line)
		}

		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		for i := range lines {
			lines[i].OrderID = order.ID
			if err := tx.CreateOrderLine(ctx, &lines[i]); err != nil {
				return fmt.Errorf("failed to create order line: %w", err)
			}
			if err := s.stock.Reserve(ctx, tx, lines[i].ProductID, lines[i].Quantity); err != nil {
				return err
			}
		}

		summary := make([]string, 0, len(lines))
		for _, line := range lines {
			summary = append(summary, fmt.Sprintf("product %d: %d @ %s", line.ProductID, line.Quantity, line.UnitPrice.StringFixed(2)))
		}
		if err := s.appendEvent(ctx, tx, order.ID, req.CreatedBy, models.OrderActionCreated, "", models.OrderStatusPending, strings.Join(summary, "; ")); err != nil {
			return err
		}

		details, err = loadOrderDetails(ctx, tx, order.ID)
		return err
	})
	if errors.Is(err, models.ErrDuplicateRequest) {
		// a concurrent retry committed the same key first; its transaction won
		details, err = s.findByIdempotencyKey(ctx, s.repo, req.IdempotencyKey)
		if err == nil && details == nil {
			err = fmt.Errorf("order with idempotency key %q: %w", req.IdempotencyKey, models.ErrNotFound)
		}
		replayed = err == nil
	}
	if err != nil {
		return nil, s.fail("create", err)
	}

	if req.IdempotencyKey != "" {
		s.rememberIdempotencyKey(ctx, req.IdempotencyKey, details.Order.ID)
	}
	if replayed {
		return details, nil
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", details.Order.ID),
		zap.String("number", details.Order.Number),
		zap.String("total", details.Order.TotalAmount.String()))

	s.afterCommit(ctx, models.EventTypeOrderCreated, req.CreatedBy, details, productIDsOf(details.Lines))
	return details, nil
}

// EditOrder replaces the lines of a pending order, adjusting reservations by the difference
func (s *OrderService) EditOrder(ctx context.Context, orderID int64, req *EditOrderRequest) (details *OrderDetails, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.EditOrder", attribute.Int64("order_id", orderID))
	defer func() { util.EndSpan(span, err) }()

	items, err := normalizeItems(req.Items)
	if err != nil {
		return nil, s.fail("edit", err)
	}

	var touched []int64
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return &models.StateError{OrderID: orderID, Status: order.Status, Operation: "edit"}
		}

		current, err := tx.GetOrderLinesByOrderID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to get order lines: %w", err)
		}

		oldByProduct := make(map[int64]models.OrderLine, len(current))
		for _, line := range current {
			oldByProduct[line.ProductID] = line
		}
		newByProduct := make(map[int64]OrderItemRequest, len(items))
		for _, item := range items {
			newByProduct[item.ProductID] = item
		}
		touched = unionProductIDs(oldByProduct, newByProduct)

		total := decimal.Zero
		changes := make([]string, 0, len(touched))
		for _, productID := range touched {
			old, hadOld := oldByProduct[productID]
			item, hasNew := newByProduct[productID]

			switch {
			case !hadOld:
				if err := s.stock.Reserve(ctx, tx, productID, item.Quantity); err != nil {
					return err
				}
				product, err := tx.GetProductByID(ctx, productID)
				if err != nil {
					return err
				}
				line := newOrderLine(product, item)
				line.OrderID = orderID
				if err := tx.CreateOrderLine(ctx, &line); err != nil {
					return fmt.Errorf("failed to create order line: %w", err)
				}
				total = total.Add(line.LineTotal)
				changes = append(changes, fmt.Sprintf("product %d: added %d", productID, item.Quantity))

			case !hasNew:
				if err := s.stock.Release(ctx, tx, productID, old.Quantity); err != nil {
					return err
				}
				if err := tx.DeleteOrderLine(ctx, old.ID); err != nil {
					return fmt.Errorf("failed to delete order line: %w", err)
				}
				changes = append(changes, fmt.Sprintf("product %d: removed %d", productID, old.Quantity))

			default:
				diff := item.Quantity - old.Quantity
				if err := s.stock.Delta(ctx, tx, productID, diff); err != nil {
					return err
				}

				price := old.UnitPrice
				if item.UnitPrice != nil {
					price = *item.UnitPrice
				}
				if diff != 0 || !price.Equal(old.UnitPrice) {
					change := fmt.Sprintf("product %d: %d -> %d", productID, old.Quantity, item.Quantity)
					if !price.Equal(old.UnitPrice) {
						change += fmt.Sprintf(", price %s -> %s", old.UnitPrice.StringFixed(2), price.StringFixed(2))
					}
					old.Quantity = item.Quantity
					old.UnitPrice = price
					old.LineTotal = price.Mul(decimal.NewFromInt(int64(item.Quantity)))
					if err := tx.UpdateOrderLine(ctx, &old); err != nil {
						return fmt.Errorf("failed to update order line: %w", err)
					}
					changes = append(changes, change)
				}
				total = total.Add(old.LineTotal)
			}
		}

		order.TotalAmount = total
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		summary := "no changes"
		if len(changes) > 0 {
			summary = strings.Join(changes, "; ")
		}
		if err := s.appendEvent(ctx, tx, orderID, req.Actor, models.OrderActionEdited, models.OrderStatusPending, models.OrderStatusPending, summary); err != nil {
			return err
		}

		details, err = loadOrderDetails(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, s.fail("edit", err)
	}

	util.OrdersEditedTotal.Inc()
	s.logger.Info("Order edited",
		zap.Int64("order_id", orderID),
		zap.String("total", details.Order.TotalAmount.String()))

	s.afterCommit(ctx, models.EventTypeOrderEdited, req.Actor, details, touched)
	return details, nil
}

// ApproveOrder consumes FIFO lots and reserved stock for every line and emits the sale
func (s *OrderService) ApproveOrder(ctx context.Context, orderID int64, req *ApproveOrderRequest) (details *OrderDetails, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ApproveOrder", attribute.Int64("order_id", orderID))
	defer func() { util.EndSpan(span, err) }()

	if strings.TrimSpace(req.Approver) == "" {
		return nil, s.fail("approve", fmt.Errorf("%w: approver is required", models.ErrInvalidInput))
	}
	payments, paid, err := normalizePayments(req.Payments)
	if err != nil {
		return nil, s.fail("approve", err)
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return &models.StateError{OrderID: orderID, Status: order.Status, Operation: "approve"}
		}

		if paid.Sub(order.TotalAmount).Abs().GreaterThanOrEqual(s.paymentEpsilon) {
			return &models.PaymentError{OrderID: orderID, Expected: order.TotalAmount, Received: paid}
		}

		lines, err := tx.GetOrderLinesByOrderID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to get order lines: %w", err)
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

		costs := make([]LineCost, 0, len(lines))
		for _, line := range lines {
			cost, err := s.resolveCost(ctx, tx, line)
			if err != nil {
				return err
			}
			if err := s.stock.Consume(ctx, tx, line.ProductID, line.Quantity); err != nil {
				return err
			}
			costs = append(costs, cost)
		}

		approvedAt := s.now().UTC()
		sale := EmitSale(order, costs, payments, req.Approver, approvedAt)
		if err := tx.CreateSale(ctx, sale); err != nil {
			return fmt.Errorf("failed to create sale: %w", err)
		}

		order.Status = models.OrderStatusApproved
		order.ApprovedBy = &req.Approver
		order.ApprovedAt = &approvedAt
		order.SaleID = &sale.ID
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		summary := fmt.Sprintf("sale %d: amount %s, cost %s, %d payment(s)",
			sale.ID, sale.TotalAmount.StringFixed(2), sale.TotalCost.StringFixed(2), len(sale.Payments))
		if err := s.appendEvent(ctx, tx, orderID, req.Approver, models.OrderActionApproved, models.OrderStatusPending, models.OrderStatusApproved, summary); err != nil {
			return err
		}

		details, err = loadOrderDetails(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, s.fail("approve", err)
	}

	util.OrdersApprovedTotal.Inc()
	if profit, _ := details.Sale.TotalProfit.Float64(); profit > 0 {
		util.SaleProfitTotal.Add(profit)
	}
	s.logger.Info("Order approved",
		zap.Int64("order_id", orderID),
		zap.Int64("sale_id", details.Sale.ID),
		zap.String("total_cost", details.Sale.TotalCost.String()),
		zap.String("total_profit", details.Sale.TotalProfit.String()))

	s.afterCommit(ctx, models.EventTypeOrderApproved, req.Approver, details, productIDsOf(details.Lines))
	s.notifyPayments(ctx, details)
	return details, nil
}

// CancelOrder releases the reservations of a pending order
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64, req *CancelOrderRequest) (details *OrderDetails, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder", attribute.Int64("order_id", orderID))
	defer func() { util.EndSpan(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return &models.StateError{OrderID: orderID, Status: order.Status, Operation: "cancel"}
		}

		lines, err := tx.GetOrderLinesByOrderID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to get order lines: %w", err)
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

		for _, line := range lines {
			if err := s.stock.Release(ctx, tx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}

		order.Status = models.OrderStatusCancelled
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		summary := "cancelled"
		if req.Reason != "" {
			summary = "cancelled: " + req.Reason
		}
		if err := s.appendEvent(ctx, tx, orderID, req.Actor, models.OrderActionCancelled, models.OrderStatusPending, models.OrderStatusCancelled, summary); err != nil {
			return err
		}

		details, err = loadOrderDetails(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, s.fail("cancel", err)
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled", zap.Int64("order_id", orderID), zap.String("reason", req.Reason))

	s.afterCommit(ctx, models.EventTypeOrderCancelled, req.Actor, details, productIDsOf(details.Lines))
	return details, nil
}

// GetOrder retrieves an order with its lines, audit trail and sale
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", attribute.Int64("order_id", orderID))
	defer span.End()

	return loadOrderDetails(ctx, s.repo, orderID)
}

// ListOrders lists the newest orders, optionally only those in one status
func (s *OrderService) ListOrders(ctx context.Context, status string, limit int) ([]models.Order, error) {
	switch status {
	case "", models.OrderStatusPending, models.OrderStatusApproved, models.OrderStatusCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown order status %q", models.ErrInvalidInput, status)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	return s.repo.GetOrders(ctx, status, limit)
}

// resolveCost consumes FIFO lots for a line, falling back to the static
// purchase price only when the product has never had a lot
func (s *OrderService) resolveCost(ctx context.Context, tx store.Tx, line models.OrderLine) (LineCost, error) {
	res, err := s.ledger.ConsumeFIFO(ctx, tx, line.ProductID, line.Quantity)
	if err == nil {
		return LineCost{
			Line:        line,
			TotalCost:   res.TotalCost,
			Source:      models.CostSourceFIFO,
			Allocations: res.Allocations,
		}, nil
	}
	if !errors.Is(err, models.ErrNoLots) {
		return LineCost{}, err
	}

	product, err := tx.GetProductByID(ctx, line.ProductID)
	if err != nil {
		return LineCost{}, err
	}

	util.FallbackCostTotal.Inc()
	s.logger.Warn("No lots for product, costing at purchase price",
		zap.Int64("order_id", line.OrderID),
		zap.Int64("product_id", line.ProductID),
		zap.String("purchase_price", product.PurchasePrice.String()))

	return LineCost{
		Line:      line,
		TotalCost: product.PurchasePrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
		Source:    models.CostSourcePurchasePrice,
	}, nil
}

// checkAvailability locks every requested product in ascending id order and
// verifies it can be sold before anything is written
func (s *OrderService) checkAvailability(ctx context.Context, tx store.Tx, items []OrderItemRequest) (map[int64]*models.Product, error) {
	products := make(map[int64]*models.Product, len(items))
	for _, item := range items {
		product, err := tx.LockProductByID(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if !product.IsActive {
			return nil, fmt.Errorf("%w: product %d is inactive", models.ErrInvalidInput, item.ProductID)
		}
		if product.Available() < item.Quantity {
			util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			return nil, &models.StockError{
				Kind:      models.ErrInsufficientStock,
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: product.Available(),
			}
		}
		products[item.ProductID] = product
	}
	return products, nil
}

func (s *OrderService) appendEvent(ctx context.Context, tx store.Tx, orderID int64, actor, action, from, to, changes string) error {
	event := &models.OrderEvent{
		OrderID: orderID,
		Actor:   actor,
		Action:  action,
		Changes: changes,
	}
	if from != "" {
		event.PreviousStatus = &from
	}
	if to != "" {
		event.NewStatus = &to
	}
	if err := tx.CreateOrderEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append order event: %w", err)
	}
	return nil
}

// findByIdempotencyKey returns the order already created under key, or nil.
// The Redis entry is only a shortcut; the unique orders.idempotency_key column is authoritative.
func (s *OrderService) findByIdempotencyKey(ctx context.Context, r store.Reader, key string) (*OrderDetails, error) {
	cachedID, ok, err := s.cache.LookupIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency cache lookup failed", zap.String("idempotency_key", key), zap.Error(err))
	}
	if ok {
		details, err := loadOrderDetails(ctx, r, cachedID)
		if err == nil {
			s.logDuplicate(key, cachedID)
			return details, nil
		}
		s.logger.Warn("Idempotency cache points to unreadable order",
			zap.String("idempotency_key", key),
			zap.Int64("order_id", cachedID),
			zap.Error(err))
	}

	order, err := r.GetOrderByIdempotencyKey(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}

	details, err := loadOrderDetails(ctx, r, order.ID)
	if err != nil {
		return nil, err
	}
	s.logDuplicate(key, order.ID)
	return details, nil
}

func (s *OrderService) logDuplicate(key string, orderID int64) {
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", orderID))
}

func (s *OrderService) rememberIdempotencyKey(ctx context.Context, key string, orderID int64) {
	if err := s.cache.RememberIdempotencyKey(ctx, key, orderID, s.idempotencyTTL); err != nil {
		s.logger.Warn("Failed to remember idempotency key",
			zap.String("idempotency_key", key),
			zap.Error(err))
	}
}

// afterCommit publishes the change and refreshes the availability snapshot.
// Failures are logged: the database already holds the committed state.
func (s *OrderService) afterCommit(ctx context.Context, eventType, actor string, details *OrderDetails, productIDs []int64) {
	items := make([]models.OrderItemData, 0, len(details.Lines))
	for _, line := range details.Lines {
		items = append(items, models.OrderItemData{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	event := &models.OrderChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: s.now().UTC(),
		},
		OrderID:     details.Order.ID,
		OrderNumber: details.Order.Number,
		Status:      details.Order.Status,
		Actor:       actor,
		TotalAmount: details.Order.TotalAmount,
		Items:       items,
		SaleID:      details.Order.SaleID,
	}
	if err := s.publisher.PublishOrderChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", details.Order.ID),
			zap.Error(err))
	}

	refreshAvailability(ctx, s.repo, s.cache, s.logger, productIDs)
}

// notifyPayments tells the cash subsystem about every tender of an approved order
func (s *OrderService) notifyPayments(ctx context.Context, details *OrderDetails) {
	for _, payment := range details.Sale.Payments {
		event := &models.PaymentReceivedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentReceived,
				Timestamp: s.now().UTC(),
			},
			OrderID:   details.Order.ID,
			SaleID:    details.Sale.ID,
			Method:    payment.Method,
			Amount:    payment.Amount,
			Reference: payment.Reference,
		}
		if err := s.publisher.PublishPaymentReceived(ctx, event); err != nil {
			s.logger.Error("Failed to publish PaymentReceived event",
				zap.Int64("order_id", details.Order.ID),
				zap.Int64("payment_id", payment.ID),
				zap.Error(err))
		}
	}
}

func (s *OrderService) fail(operation string, err error) error {
	reason := failureReason(err)
	util.OrdersFailedTotal.WithLabelValues(operation, reason).Inc()
	if reason == "error" {
		s.logger.Error("Order operation failed", zap.String("operation", operation), zap.Error(err))
	} else {
		s.logger.Info("Order operation rejected",
			zap.String("operation", operation),
			zap.String("reason", reason),
			zap.Error(err))
	}
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, models.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrInsufficientLots):
		return "insufficient_lots"
	case errors.Is(err, models.ErrPaymentMismatch):
		return "payment_mismatch"
	case errors.Is(err, models.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, models.ErrDuplicateRequest):
		return "duplicate_request"
	default:
		return "error"
	}
}

func loadOrderDetails(ctx context.Context, r store.Reader, orderID int64) (*OrderDetails, error) {
	order, err := r.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	lines, err := r.GetOrderLinesByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order lines: %w", err)
	}

	events, err := r.GetOrderEventsByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order events: %w", err)
	}

	details := &OrderDetails{Order: *order, Lines: lines, Events: events}
	if order.SaleID != nil {
		sale, err := r.GetSaleByOrderID(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("failed to get sale: %w", err)
		}
		details.Sale = sale
	}
	return details, nil
}

// normalizeItems validates an item list and returns a copy sorted by product id
func normalizeItems(items []OrderItemRequest) ([]OrderItemRequest, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order must have at least one item", models.ErrInvalidInput)
	}

	seen := make(map[int64]bool, len(items))
	out := make([]OrderItemRequest, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %d must be positive", models.ErrInvalidInput, item.ProductID)
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: unit price for product %d must not be negative", models.ErrInvalidInput, item.ProductID)
		}
		if item.UnitPrice != nil && !fitsMoneyScale(*item.UnitPrice) {
			return nil, fmt.Errorf("%w: unit price for product %d has more than %d decimal places", models.ErrInvalidInput, item.ProductID, moneyScale)
		}
		if seen[item.ProductID] {
			return nil, fmt.Errorf("%w: product %d listed more than once", models.ErrInvalidInput, item.ProductID)
		}
		seen[item.ProductID] = true
		out = append(out, item)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func normalizePayments(reqs []PaymentRequest) ([]models.Payment, decimal.Decimal, error) {
	payments := make([]models.Payment, 0, len(reqs))
	paid := decimal.Zero
	for i, p := range reqs {
		if strings.TrimSpace(p.Method) == "" {
			return nil, decimal.Zero, fmt.Errorf("%w: payment %d has no method", models.ErrInvalidInput, i)
		}
		if !p.Amount.IsPositive() {
			return nil, decimal.Zero, fmt.Errorf("%w: payment %d amount must be positive", models.ErrInvalidInput, i)
		}
		if !fitsMoneyScale(p.Amount) {
			return nil, decimal.Zero, fmt.Errorf("%w: payment %d amount has more than %d decimal places", models.ErrInvalidInput, i, moneyScale)
		}
		paid = paid.Add(p.Amount)
		payments = append(payments, models.Payment{Method: p.Method, Amount: p.Amount, Reference: p.Reference})
	}
	return payments, paid, nil
}

// moneyScale matches the NUMERIC(20,4) money columns
const moneyScale = 4

func fitsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(moneyScale))
}

func newOrderLine(product *models.Product, item OrderItemRequest) models.OrderLine {
	price := product.SalePrice
	if item.UnitPrice != nil {
		price = *item.UnitPrice
	}
	return models.OrderLine{
		ProductID:        item.ProductID,
		Quantity:         item.Quantity,
		OriginalQuantity: item.Quantity,
		UnitPrice:        price,
		LineTotal:        price.Mul(decimal.NewFromInt(int64(item.Quantity))),
	}
}

func unionProductIDs(old map[int64]models.OrderLine, updated map[int64]OrderItemRequest) []int64 {
	ids := make([]int64, 0, len(old)+len(updated))
	for id := range old {
		ids = append(ids, id)
	}
	for id := range updated {
		if _, ok := old[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func productIDsOf(lines []models.OrderLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}
