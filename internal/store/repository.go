package store

import (
	"context"

	"order-fulfillment/internal/models"
)

// Reader is the read side shared by the repository and its transactions.
// Missing rows are reported with models.ErrNotFound.
type Reader interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProducts(ctx context.Context) ([]models.Product, error)
	GetLotsByProductID(ctx context.Context, productID int64) ([]models.Lot, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrders(ctx context.Context, status string, limit int) ([]models.Order, error)
	GetOrderLinesByOrderID(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	GetOrderEventsByOrderID(ctx context.Context, orderID int64) ([]models.OrderEvent, error)
	GetSaleByOrderID(ctx context.Context, orderID int64) (*models.Sale, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
}

// Tx is a unit of work. Every stock, lot and order mutation of one workflow
// operation goes through the same Tx so commit or rollback is decided once.
type Tx interface {
	Reader

	// LockProductByID reads a product and holds its row lock until the Tx ends.
	LockProductByID(ctx context.Context, id int64) (*models.Product, error)
	// UpdateProductStock writes both counters and bumps the product's stock version.
	UpdateProductStock(ctx context.Context, productID int64, onHand, reserved int) error

	// LockOpenLots returns lots with remaining quantity, oldest purchase first, locked.
	LockOpenLots(ctx context.Context, productID int64) ([]models.Lot, error)
	CountLots(ctx context.Context, productID int64) (int, error)
	UpdateLotRemaining(ctx context.Context, lotID int64, remaining int) error
	CreateLot(ctx context.Context, lot *models.Lot) error

	// CreateOrder fails with models.ErrDuplicateRequest when another order
	// already holds the same idempotency key.
	CreateOrder(ctx context.Context, order *models.Order) error
	LockOrderByID(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	CreateOrderLine(ctx context.Context, line *models.OrderLine) error
	UpdateOrderLine(ctx context.Context, line *models.OrderLine) error
	DeleteOrderLine(ctx context.Context, lineID int64) error
	CreateOrderEvent(ctx context.Context, event *models.OrderEvent) error

	// CreateSale persists the sale with its lines, lot allocations and payments.
	CreateSale(ctx context.Context, sale *models.Sale) error

	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Repository is the backing store of the fulfillment engine
type Repository interface {
	Reader

	// NextOrderNumber hands out a monotonic number outside any transaction,
	// so a rolled back create skips its number instead of reusing it.
	NextOrderNumber(ctx context.Context) (int64, error)

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}
