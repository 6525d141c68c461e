package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrSnapshotMissing is returned when no availability snapshot exists for a product
var ErrSnapshotMissing = errors.New("availability snapshot not found")

// Client is the read-side cache: availability snapshots, idempotency keys and
// short-lived locks. It never decides whether stock can be reserved.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromClient wraps an existing go-redis client
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

const maxWatchRetries = 5

func availabilityKey(productID int64) string {
	return fmt.Sprintf("inventory:%d", productID)
}

// SetAvailability writes the snapshot of a product's stock counters unless the
// stored snapshot carries a newer stock version. Concurrent writers retry on WATCH conflicts.
func (c *Client) SetAvailability(ctx context.Context, productID int64, onHand, reserved int, version int64) error {
	key := availabilityKey(productID)

	write := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "version").Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && current > version {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"on_hand", onHand,
				"reserved", reserved,
				"available", onHand-reserved,
				"version", version,
			)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := c.rdb.Watch(ctx, write, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("availability snapshot of product %d: too many concurrent writers", productID)
}

// GetAvailability reads the snapshot of a product's stock counters
func (c *Client) GetAvailability(ctx context.Context, productID int64) (onHand, reserved int, err error) {
	result, err := c.rdb.HGetAll(ctx, availabilityKey(productID)).Result()
	if err != nil {
		return 0, 0, err
	}

	if len(result) == 0 {
		return 0, 0, fmt.Errorf("product %d: %w", productID, ErrSnapshotMissing)
	}

	onHand, err = strconv.Atoi(result["on_hand"])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid on_hand in snapshot of product %d: %w", productID, err)
	}
	reserved, err = strconv.Atoi(result["reserved"])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid reserved in snapshot of product %d: %w", productID, err)
	}

	return onHand, reserved, nil
}

// RememberIdempotencyKey maps an idempotency key to the order it created
func (c *Client) RememberIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), orderID, ttl).Err()
}

// LookupIdempotencyKey returns the order created under an idempotency key, if any
func (c *Client) LookupIdempotencyKey(ctx context.Context, key string) (int64, bool, error) {
	orderID, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return orderID, true, nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
