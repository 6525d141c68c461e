package service

import (
	"context"
	"fmt"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/store"
	"order-fulfillment/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Availability is the stock position of a product
type Availability struct {
	ProductID int64  `json:"product_id"`
	OnHand    int    `json:"on_hand"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
	Source    string `json:"source"`
}

// Availability sources
const (
	AvailabilitySourceCache = "cache"
	AvailabilitySourceStore = "store"
)

// InventoryService handles lot receipts and stock queries
type InventoryService struct {
	repo   store.Repository
	stock  *StockAccessor
	ledger *LotLedger
	cache  Cache
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(repo store.Repository, stock *StockAccessor, ledger *LotLedger, cache Cache) *InventoryService {
	return &InventoryService{
		repo:   repo,
		stock:  stock,
		ledger: ledger,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// ReceiveLot records a purchase lot and adds its quantity to on_hand in one transaction
func (s *InventoryService) ReceiveLot(ctx context.Context, in LotInput) (lot *models.Lot, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ReceiveLot", attribute.Int64("product_id", in.ProductID))
	defer func() { util.EndSpan(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		lot, err = s.receive(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	refreshAvailability(ctx, s.repo, s.cache, s.logger, []int64{in.ProductID})
	return lot, nil
}

// HandleLotReceived applies a LOT_RECEIVED event exactly once per event id
func (s *InventoryService) HandleLotReceived(ctx context.Context, event *models.LotReceivedEvent) (err error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.HandleLotReceived",
		attribute.String("event_id", event.EventID),
		attribute.Int64("product_id", event.ProductID))
	defer func() { util.EndSpan(span, err) }()

	if event.EventID == "" {
		return fmt.Errorf("%w: lot event without event_id", models.ErrInvalidInput)
	}

	applied := false
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		processed, err := tx.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return fmt.Errorf("failed to check processed event: %w", err)
		}
		if processed {
			return nil
		}

		if _, err := s.receive(ctx, tx, LotInput{
			ProductID:    event.ProductID,
			PurchaseRef:  event.PurchaseRef,
			Quantity:     event.Quantity,
			UnitCost:     event.UnitCost,
			PurchaseDate: event.PurchaseDate,
			ExpiryDate:   event.ExpiryDate,
			BatchNumber:  event.BatchNumber,
		}); err != nil {
			return err
		}

		applied = true
		return tx.MarkEventProcessed(ctx, event.EventID, event.EventType)
	})
	if err != nil {
		return err
	}

	if !applied {
		s.logger.Info("Lot event already processed, skipping", zap.String("event_id", event.EventID))
		return nil
	}

	refreshAvailability(ctx, s.repo, s.cache, s.logger, []int64{event.ProductID})
	return nil
}

func (s *InventoryService) receive(ctx context.Context, tx store.Tx, in LotInput) (*models.Lot, error) {
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("%w: lot quantity must be positive, got %d", models.ErrInvalidInput, in.Quantity)
	}

	// Receive locks the product first, so a missing product fails before the lot is written.
	if err := s.stock.Receive(ctx, tx, in.ProductID, in.Quantity); err != nil {
		return nil, err
	}
	return s.ledger.Ingest(ctx, tx, in)
}

// ListLots returns every lot of a product in FIFO order
func (s *InventoryService) ListLots(ctx context.Context, productID int64) ([]models.Lot, error) {
	if _, err := s.repo.GetProductByID(ctx, productID); err != nil {
		return nil, err
	}

	lots, err := s.repo.GetLotsByProductID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to get lots: %w", err)
	}
	sortFIFO(lots)
	return lots, nil
}

// GetAvailability reads the cached snapshot, falling back to the store.
// The snapshot is informational; reservations always check the store.
func (s *InventoryService) GetAvailability(ctx context.Context, productID int64) (*Availability, error) {
	onHand, reserved, err := s.cache.GetAvailability(ctx, productID)
	if err == nil {
		return &Availability{
			ProductID: productID,
			OnHand:    onHand,
			Reserved:  reserved,
			Available: onHand - reserved,
			Source:    AvailabilitySourceCache,
		}, nil
	}

	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetAvailability(ctx, productID, product.OnHand, product.Reserved, product.StockVersion); err != nil {
		s.logger.Debug("Failed to warm availability snapshot", zap.Int64("product_id", productID), zap.Error(err))
	}

	return &Availability{
		ProductID: productID,
		OnHand:    product.OnHand,
		Reserved:  product.Reserved,
		Available: product.Available(),
		Source:    AvailabilitySourceStore,
	}, nil
}

// SyncAvailability rewrites the snapshot of every product from the store
func (s *InventoryService) SyncAvailability(ctx context.Context) (int, error) {
	products, err := s.repo.GetProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get products: %w", err)
	}

	synced := 0
	for _, p := range products {
		if err := s.cache.SetAvailability(ctx, p.ID, p.OnHand, p.Reserved, p.StockVersion); err != nil {
			return synced, fmt.Errorf("failed to sync product %d: %w", p.ID, err)
		}
		synced++
	}

	s.logger.Info("Availability snapshot synced", zap.Int("products", synced))
	return synced, nil
}

// refreshAvailability copies committed counters into the snapshot; errors are only logged.
// The snapshot is eventually consistent: the stock version keeps a slow refresher
// from replacing newer counters with older ones.
func refreshAvailability(ctx context.Context, r store.Reader, cache Cache, logger *zap.Logger, productIDs []int64) {
	for _, id := range productIDs {
		product, err := r.GetProductByID(ctx, id)
		if err != nil {
			logger.Warn("Failed to read product for snapshot", zap.Int64("product_id", id), zap.Error(err))
			continue
		}
		if err := cache.SetAvailability(ctx, id, product.OnHand, product.Reserved, product.StockVersion); err != nil {
			logger.Warn("Failed to refresh availability snapshot", zap.Int64("product_id", id), zap.Error(err))
		}
	}
}

// NoopCache is used when Redis is not configured
type NoopCache struct{}

var errNoCache = fmt.Errorf("cache disabled")

func (NoopCache) SetAvailability(context.Context, int64, int, int, int64) error { return nil }

func (NoopCache) GetAvailability(context.Context, int64) (int, int, error) {
	return 0, 0, errNoCache
}

func (NoopCache) LookupIdempotencyKey(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}

func (NoopCache) RememberIdempotencyKey(context.Context, string, int64, time.Duration) error {
	return nil
}

// NoopPublisher drops events; used when Kafka is not configured
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderChanged(context.Context, *models.OrderChangedEvent) error { return nil }

func (NoopPublisher) PublishPaymentReceived(context.Context, *models.PaymentReceivedEvent) error {
	return nil
}
