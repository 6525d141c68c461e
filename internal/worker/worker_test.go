package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"order-fulfillment/internal/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type lotHandlerFunc func(context.Context, *models.LotReceivedEvent) error

func (f lotHandlerFunc) HandleLotReceived(ctx context.Context, e *models.LotReceivedEvent) error {
	return f(ctx, e)
}

func TestHandleLotDropsUnfixableEvents(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"applied", nil, false},
		{"bad payload", fmt.Errorf("%w: quantity", models.ErrInvalidInput), false},
		{"unknown product", fmt.Errorf("product 9: %w", models.ErrNotFound), false},
		{"database down", errors.New("connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handle := handleLot(lotHandlerFunc(func(context.Context, *models.LotReceivedEvent) error {
				return tt.err
			}), zap.NewNop())

			err := handle(context.Background(), &models.LotReceivedEvent{ProductID: 9})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type fakeLocker struct {
	held     bool
	acquired int
	released int
}

func (l *fakeLocker) AcquireLock(context.Context, string, time.Duration) (bool, error) {
	if l.held {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *fakeLocker) ReleaseLock(context.Context, string) error {
	l.released++
	return nil
}

type countingSyncer struct{ runs int }

func (s *countingSyncer) SyncAvailability(context.Context) (int, error) {
	s.runs++
	return 3, nil
}

func TestSnapshotWorkerRunsOnlyWithLock(t *testing.T) {
	locker := &fakeLocker{}
	syncer := &countingSyncer{}
	w := NewSnapshotWorker(syncer, locker, time.Minute)

	assert.True(t, w.RunOnce(context.Background()))
	assert.Equal(t, 1, syncer.runs)
	assert.Equal(t, 1, locker.released)

	locker.held = true
	assert.False(t, w.RunOnce(context.Background()))
	assert.Equal(t, 1, syncer.runs)
}

func TestSnapshotWorkerStopsOnCancel(t *testing.T) {
	w := NewSnapshotWorker(&countingSyncer{}, &fakeLocker{}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, w.Start(ctx), context.Canceled)
}
