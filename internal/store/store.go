package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"order-fulfillment/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// Store is the Postgres repository
type Store struct {
	queries
	db *sqlx.DB
}

// queries runs statements against either the pool or an open transaction
type queries struct {
	q sqlx.ExtContext
}

var (
	_ Repository = (*Store)(nil)
	_ Tx         = (*queries)(nil)
)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{queries: queries{q: db}, db: db}, nil
}

// Migrate creates the schema if it does not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// WithTx runs fn in a read-committed transaction. Stock and lot rows are
// serialized with SELECT ... FOR UPDATE inside fn.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// NextOrderNumber draws from a sequence; sequences are not rolled back.
func (s *Store) NextOrderNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT nextval('order_number_seq')"); err != nil {
		return 0, fmt.Errorf("failed to draw order number: %w", err)
	}
	return n, nil
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), models.ErrNotFound)
	}
	return err
}

// GetProductByID retrieves a product by ID
func (q *queries) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, q.q, &product, "SELECT * FROM products WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "product %d", id)
	}
	return &product, nil
}

// GetProducts retrieves all products
func (q *queries) GetProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := sqlx.SelectContext(ctx, q.q, &products, "SELECT * FROM products ORDER BY id")
	return products, err
}

// LockProductByID reads a product row with FOR UPDATE
func (q *queries) LockProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, q.q, &product, "SELECT * FROM products WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "product %d", id)
	}
	return &product, nil
}

// UpdateProductStock writes both stock counters and bumps the stock version
func (q *queries) UpdateProductStock(ctx context.Context, productID int64, onHand, reserved int) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE products SET on_hand = $1, reserved = $2, stock_version = stock_version + 1, updated_at = NOW() WHERE id = $3",
		onHand, reserved, productID)
	if err != nil {
		return fmt.Errorf("failed to update stock of product %d: %w", productID, err)
	}
	return expectOne(res, "product %d", productID)
}

// GetLotsByProductID lists every lot of a product in FIFO order
func (q *queries) GetLotsByProductID(ctx context.Context, productID int64) ([]models.Lot, error) {
	var lots []models.Lot
	err := sqlx.SelectContext(ctx, q.q, &lots,
		"SELECT * FROM lots WHERE product_id = $1 ORDER BY purchase_date, id", productID)
	return lots, err
}

// LockOpenLots locks the unconsumed lots of a product in FIFO order
func (q *queries) LockOpenLots(ctx context.Context, productID int64) ([]models.Lot, error) {
	var lots []models.Lot
	err := sqlx.SelectContext(ctx, q.q, &lots, `
		SELECT * FROM lots
		WHERE product_id = $1 AND remaining_qty > 0
		ORDER BY purchase_date, id
		FOR UPDATE`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock lots of product %d: %w", productID, err)
	}
	return lots, nil
}

// CountLots counts all lots ever recorded for a product
func (q *queries) CountLots(ctx context.Context, productID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q.q, &n, "SELECT COUNT(*) FROM lots WHERE product_id = $1", productID)
	return n, err
}

// UpdateLotRemaining sets the unconsumed quantity of a lot
func (q *queries) UpdateLotRemaining(ctx context.Context, lotID int64, remaining int) error {
	res, err := q.q.ExecContext(ctx, "UPDATE lots SET remaining_qty = $1 WHERE id = $2", remaining, lotID)
	if err != nil {
		return fmt.Errorf("failed to update lot %d: %w", lotID, err)
	}
	return expectOne(res, "lot %d", lotID)
}

// CreateLot inserts a new lot
func (q *queries) CreateLot(ctx context.Context, lot *models.Lot) error {
	query := `
		INSERT INTO lots (product_id, purchase_ref, quantity, remaining_qty, unit_cost, purchase_date, expiry_date, batch_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	return sqlx.GetContext(ctx, q.q, lot, query,
		lot.ProductID, lot.PurchaseRef, lot.Quantity, lot.RemainingQty, lot.UnitCost,
		lot.PurchaseDate, lot.ExpiryDate, lot.BatchNumber)
}

func expectOne(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), models.ErrNotFound)
	}
	return nil
}
