package redisclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - set TEST_REDIS_ADDR to run")
	}

	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestAvailabilitySnapshot(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	productID := time.Now().UnixNano()

	_, _, err := c.GetAvailability(ctx, productID)
	assert.True(t, errors.Is(err, ErrSnapshotMissing))

	require.NoError(t, c.SetAvailability(ctx, productID, 12, 5, 3))
	onHand, reserved, err := c.GetAvailability(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 12, onHand)
	assert.Equal(t, 5, reserved)
}

func TestAvailabilitySnapshotIgnoresOlderVersions(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	productID := time.Now().UnixNano()

	require.NoError(t, c.SetAvailability(ctx, productID, 10, 4, 7))
	require.NoError(t, c.SetAvailability(ctx, productID, 10, 1, 6))

	onHand, reserved, err := c.GetAvailability(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 10, onHand)
	assert.Equal(t, 4, reserved)

	require.NoError(t, c.SetAvailability(ctx, productID, 9, 3, 8))
	onHand, reserved, err = c.GetAvailability(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 9, onHand)
	assert.Equal(t, 3, reserved)
}

func TestIdempotencyKeys(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := uuid.NewString()

	_, ok, err := c.LookupIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.RememberIdempotencyKey(ctx, key, 77, time.Minute))
	orderID, ok, err := c.LookupIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(77), orderID)
}

func TestLocks(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := fmt.Sprintf("test-%s", uuid.NewString())

	ok, err := c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, key))
	ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, c.ReleaseLock(ctx, key))
}
