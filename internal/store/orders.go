package store

import (
	"context"
	"errors"
	"fmt"

	"order-fulfillment/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const idempotencyKeyIndex = "orders_idempotency_key_key"

// CreateOrder creates a new order
func (q *queries) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (number, customer_id, status, total_amount, notes, created_by, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := sqlx.GetContext(ctx, q.q, order, query,
		order.Number, order.CustomerID, order.Status, order.TotalAmount, order.Notes, order.CreatedBy, order.IdempotencyKey)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == idempotencyKeyIndex {
		return fmt.Errorf("order with idempotency key %q: %w", *order.IdempotencyKey, models.ErrDuplicateRequest)
	}
	return err
}

// GetOrderByIdempotencyKey retrieves the order created under an idempotency key
func (q *queries) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.q, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err != nil {
		return nil, notFound(err, "order with idempotency key %q", key)
	}
	return &order, nil
}

// GetOrderByID retrieves an order by ID
func (q *queries) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.q, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "order %d", id)
	}
	return &order, nil
}

// LockOrderByID reads an order row with FOR UPDATE
func (q *queries) LockOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q.q, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "order %d", id)
	}
	return &order, nil
}

// GetOrders lists orders, newest first, optionally filtered by status
func (q *queries) GetOrders(ctx context.Context, status string, limit int) ([]models.Order, error) {
	var orders []models.Order
	var err error
	if status == "" {
		err = sqlx.SelectContext(ctx, q.q, &orders,
			"SELECT * FROM orders ORDER BY created_at DESC, id DESC LIMIT $1", limit)
	} else {
		err = sqlx.SelectContext(ctx, q.q, &orders,
			"SELECT * FROM orders WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2", status, limit)
	}
	return orders, err
}

// UpdateOrder writes the mutable columns of an order
func (q *queries) UpdateOrder(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders
		SET status = $1, total_amount = $2, notes = $3, approved_by = $4, approved_at = $5, sale_id = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING updated_at`

	err := sqlx.GetContext(ctx, q.q, &order.UpdatedAt, query,
		order.Status, order.TotalAmount, order.Notes, order.ApprovedBy, order.ApprovedAt, order.SaleID, order.ID)
	if err != nil {
		return notFound(err, "order %d", order.ID)
	}
	return nil
}

// CreateOrderLine creates a new order line
func (q *queries) CreateOrderLine(ctx context.Context, line *models.OrderLine) error {
	query := `
		INSERT INTO order_lines (order_id, product_id, quantity, original_quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return sqlx.GetContext(ctx, q.q, &line.ID, query,
		line.OrderID, line.ProductID, line.Quantity, line.OriginalQuantity, line.UnitPrice, line.LineTotal)
}

// UpdateOrderLine writes the editable columns of a line
func (q *queries) UpdateOrderLine(ctx context.Context, line *models.OrderLine) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE order_lines SET quantity = $1, unit_price = $2, line_total = $3 WHERE id = $4",
		line.Quantity, line.UnitPrice, line.LineTotal, line.ID)
	if err != nil {
		return fmt.Errorf("failed to update order line %d: %w", line.ID, err)
	}
	return expectOne(res, "order line %d", line.ID)
}

// DeleteOrderLine removes a line dropped by an edit
func (q *queries) DeleteOrderLine(ctx context.Context, lineID int64) error {
	res, err := q.q.ExecContext(ctx, "DELETE FROM order_lines WHERE id = $1", lineID)
	if err != nil {
		return fmt.Errorf("failed to delete order line %d: %w", lineID, err)
	}
	return expectOne(res, "order line %d", lineID)
}

// GetOrderLinesByOrderID retrieves all lines of an order
func (q *queries) GetOrderLinesByOrderID(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := sqlx.SelectContext(ctx, q.q, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY product_id", orderID)
	return lines, err
}

// CreateOrderEvent appends to the audit trail
func (q *queries) CreateOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	query := `
		INSERT INTO order_events (order_id, actor, action, previous_status, new_status, changes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return sqlx.GetContext(ctx, q.q, event, query,
		event.OrderID, event.Actor, event.Action, event.PreviousStatus, event.NewStatus, event.Changes)
}

// GetOrderEventsByOrderID retrieves the audit trail of an order
func (q *queries) GetOrderEventsByOrderID(ctx context.Context, orderID int64) ([]models.OrderEvent, error) {
	var events []models.OrderEvent
	err := sqlx.SelectContext(ctx, q.q, &events,
		"SELECT * FROM order_events WHERE order_id = $1 ORDER BY id", orderID)
	return events, err
}

// CreateSale inserts the sale and its children
func (q *queries) CreateSale(ctx context.Context, sale *models.Sale) error {
	err := sqlx.GetContext(ctx, q.q, sale, `
		INSERT INTO sales (order_id, total_amount, total_cost, total_profit, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		sale.OrderID, sale.TotalAmount, sale.TotalCost, sale.TotalProfit, sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sale: %w", err)
	}

	for i := range sale.Lines {
		line := &sale.Lines[i]
		line.SaleID = sale.ID
		err := sqlx.GetContext(ctx, q.q, &line.ID, `
			INSERT INTO sale_lines (sale_id, product_id, quantity, unit_price, unit_cost, line_total, line_cost, profit_amount, profit_margin, cost_source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`,
			line.SaleID, line.ProductID, line.Quantity, line.UnitPrice, line.UnitCost,
			line.LineTotal, line.LineCost, line.ProfitAmount, line.ProfitMargin, line.CostSource)
		if err != nil {
			return fmt.Errorf("failed to create sale line: %w", err)
		}

		for _, alloc := range line.Allocations {
			_, err := q.q.ExecContext(ctx,
				"INSERT INTO sale_lot_allocations (sale_line_id, lot_id, quantity, unit_cost) VALUES ($1, $2, $3, $4)",
				line.ID, alloc.LotID, alloc.Quantity, alloc.UnitCost)
			if err != nil {
				return fmt.Errorf("failed to create lot allocation: %w", err)
			}
		}
	}

	for i := range sale.Payments {
		payment := &sale.Payments[i]
		payment.SaleID = sale.ID
		err := sqlx.GetContext(ctx, q.q, &payment.ID,
			"INSERT INTO payments (sale_id, method, amount, reference) VALUES ($1, $2, $3, $4) RETURNING id",
			payment.SaleID, payment.Method, payment.Amount, payment.Reference)
		if err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
	}

	return nil
}

// GetSaleByOrderID loads the sale emitted for an order
func (q *queries) GetSaleByOrderID(ctx context.Context, orderID int64) (*models.Sale, error) {
	var sale models.Sale
	err := sqlx.GetContext(ctx, q.q, &sale,
		"SELECT id, order_id, total_amount, total_cost, total_profit, created_by, created_at FROM sales WHERE order_id = $1", orderID)
	if err != nil {
		return nil, notFound(err, "sale for order %d", orderID)
	}

	err = sqlx.SelectContext(ctx, q.q, &sale.Lines, `
		SELECT id, sale_id, product_id, quantity, unit_price, unit_cost, line_total, line_cost, profit_amount, profit_margin, cost_source
		FROM sale_lines WHERE sale_id = $1 ORDER BY id`, sale.ID)
	if err != nil {
		return nil, err
	}

	for i := range sale.Lines {
		err := sqlx.SelectContext(ctx, q.q, &sale.Lines[i].Allocations,
			"SELECT lot_id, quantity, unit_cost FROM sale_lot_allocations WHERE sale_line_id = $1 ORDER BY lot_id", sale.Lines[i].ID)
		if err != nil {
			return nil, err
		}
	}

	err = sqlx.SelectContext(ctx, q.q, &sale.Payments,
		"SELECT id, sale_id, method, amount, reference FROM payments WHERE sale_id = $1 ORDER BY id", sale.ID)
	if err != nil {
		return nil, err
	}

	return &sale, nil
}

// IsEventProcessed checks if an event has been processed
func (q *queries) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q.q, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (q *queries) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
