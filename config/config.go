package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Business BusinessConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig selects the store. An empty URL runs on the seeded in-memory store.
type DatabaseConfig struct {
	URL         string
	AutoMigrate bool
}

// RedisConfig configures the availability cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig configures event publishing and the purchase receipt consumer.
// No brokers disables both.
type KafkaConfig struct {
	Brokers        []string
	TopicOrder     string
	TopicPurchases string
	ConsumerGroup  string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	LogLevel       string
}

type BusinessConfig struct {
	PaymentEpsilon       decimal.Decimal
	IdempotencyTTL       time.Duration
	SnapshotSyncInterval time.Duration
}

// Load reads configuration from the environment, after loading .env if present
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	autoMigrate, err := getBool("AUTO_MIGRATE", true)
	if err != nil {
		return nil, err
	}
	idempotencyTTL, err := getInt("IDEMPOTENCY_TTL_SECONDS", 86400)
	if err != nil {
		return nil, err
	}
	syncInterval, err := getInt("SNAPSHOT_SYNC_INTERVAL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	if syncInterval <= 0 {
		return nil, fmt.Errorf("SNAPSHOT_SYNC_INTERVAL_SECONDS must be positive, got %d", syncInterval)
	}

	epsilon, err := decimal.NewFromString(getEnv("PAYMENT_EPSILON", "0.01"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAYMENT_EPSILON: %w", err)
	}
	if !epsilon.IsPositive() {
		return nil, fmt.Errorf("PAYMENT_EPSILON must be positive, got %s", epsilon)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:         os.Getenv("DATABASE_URL"),
			AutoMigrate: autoMigrate,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:        splitList(os.Getenv("KAFKA_BROKERS")),
			TopicOrder:     getEnv("KAFKA_TOPIC_ORDER_EVENTS", "order-events"),
			TopicPurchases: getEnv("KAFKA_TOPIC_PURCHASE_RECEIPTS", "purchase-receipts"),
			ConsumerGroup:  getEnv("KAFKA_CONSUMER_GROUP", "order-fulfillment-group"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
		},
		Business: BusinessConfig{
			PaymentEpsilon:       epsilon,
			IdempotencyTTL:       time.Duration(idempotencyTTL) * time.Second,
			SnapshotSyncInterval: time.Duration(syncInterval) * time.Second,
		},
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
