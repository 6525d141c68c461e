package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "AUTO_MIGRATE", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"KAFKA_BROKERS", "KAFKA_TOPIC_ORDER_EVENTS", "KAFKA_TOPIC_PURCHASE_RECEIPTS", "KAFKA_CONSUMER_GROUP",
		"JAEGER_ENDPOINT", "LOG_LEVEL", "PAYMENT_EPSILON", "IDEMPOTENCY_TTL_SECONDS", "SNAPSHOT_SYNC_INTERVAL_SECONDS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Empty(t, cfg.Database.URL)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "purchase-receipts", cfg.Kafka.TopicPurchases)
	assert.Equal(t, "0.01", cfg.Business.PaymentEpsilon.String())
	assert.Equal(t, 24*time.Hour, cfg.Business.IdempotencyTTL)
	assert.Equal(t, time.Minute, cfg.Business.SnapshotSyncInterval)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PAYMENT_EPSILON", "0.005")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "0.005", cfg.Business.PaymentEpsilon.String())
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"REDIS_DB", "x"},
		{"AUTO_MIGRATE", "maybe"},
		{"PAYMENT_EPSILON", "abc"},
		{"PAYMENT_EPSILON", "0"},
		{"SNAPSHOT_SYNC_INTERVAL_SECONDS", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
