package worker

import (
	"context"
	"errors"
	"time"

	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

// LotHandler applies a received purchase lot
type LotHandler interface {
	HandleLotReceived(ctx context.Context, event *models.LotReceivedEvent) error
}

// LotWorker consumes purchase receipts and records them as lots
type LotWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewLotWorker creates a new lot worker
func NewLotWorker(consumer *broker.Consumer, lots LotHandler) *LotWorker {
	logger := util.GetLogger()
	eventHandler := broker.NewEventHandler()
	eventHandler.OnLotReceived(handleLot(lots, logger))

	return &LotWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}
}

// handleLot acknowledges receipts that redelivery cannot fix and surfaces
// everything else so the message stays uncommitted.
func handleLot(lots LotHandler, logger *zap.Logger) func(context.Context, *models.LotReceivedEvent) error {
	return func(ctx context.Context, event *models.LotReceivedEvent) error {
		err := lots.HandleLotReceived(ctx, event)
		if errors.Is(err, models.ErrInvalidInput) || errors.Is(err, models.ErrNotFound) {
			logger.Error("Dropping unusable lot event",
				zap.String("event_id", event.EventID),
				zap.Int64("product_id", event.ProductID),
				zap.Error(err))
			return nil
		}
		return err
	}
}

// Start starts the worker
func (w *LotWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting lot worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *LotWorker) Stop() error {
	w.logger.Info("Stopping lot worker")
	return w.consumer.Close()
}

// Locker is a distributed lock shared by service replicas
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// Syncer rewrites the availability snapshot from the store
type Syncer interface {
	SyncAvailability(ctx context.Context) (int, error)
}

const snapshotLockKey = "availability-sync"

// SnapshotWorker periodically repairs the availability snapshot. Only the
// replica holding the lock syncs in a given round.
type SnapshotWorker struct {
	syncer   Syncer
	locker   Locker
	interval time.Duration
	logger   *zap.Logger
}

// NewSnapshotWorker creates a new snapshot worker
func NewSnapshotWorker(syncer Syncer, locker Locker, interval time.Duration) *SnapshotWorker {
	return &SnapshotWorker{
		syncer:   syncer,
		locker:   locker,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start syncs once, then on every tick until ctx is cancelled
func (w *SnapshotWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting snapshot worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("Stopping snapshot worker")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single locked sync round and reports whether it ran
func (w *SnapshotWorker) RunOnce(ctx context.Context) bool {
	acquired, err := w.locker.AcquireLock(ctx, snapshotLockKey, w.interval)
	if err != nil {
		w.logger.Warn("Failed to acquire snapshot lock", zap.Error(err))
		return false
	}
	if !acquired {
		return false
	}
	defer func() {
		if err := w.locker.ReleaseLock(ctx, snapshotLockKey); err != nil {
			w.logger.Warn("Failed to release snapshot lock", zap.Error(err))
		}
	}()

	if _, err := w.syncer.SyncAvailability(ctx); err != nil {
		w.logger.Error("Availability sync failed", zap.Error(err))
	}
	return true
}
