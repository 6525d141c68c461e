package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-fulfillment/config"
	"order-fulfillment/internal/api"
	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/redisclient"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/store"
	"order-fulfillment/internal/store/memory"
	"order-fulfillment/internal/util"
	"order-fulfillment/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting order fulfillment service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	tp, err := util.InitTracer("order-fulfillment", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()

	var repo store.Repository
	var readiness = map[string]api.ReadinessCheck{}
	if cfg.Database.URL != "" {
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				logger.Fatal("Failed to migrate database", zap.Error(err))
			}
		}
		repo = db
		readiness["postgres"] = db.GetDB().PingContext
		logger.Info("Database connected")
	} else {
		repo = memory.NewSeeded()
		logger.Warn("DATABASE_URL not set, using seeded in-memory store")
	}
	defer repo.Close()

	var cache service.Cache = service.NoopCache{}
	var redisClient *redisclient.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		cache = redisClient
		readiness["redis"] = redisClient.Ping
		logger.Info("Redis connected")
	}

	var publisher service.EventPublisher = service.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))
	}

	stock := service.NewStockAccessor()
	ledger := service.NewLotLedger()
	inventoryService := service.NewInventoryService(repo, stock, ledger, cache)
	orderService := service.NewOrderService(repo, stock, ledger, publisher, cache, service.OrderServiceOptions{
		PaymentEpsilon: cfg.Business.PaymentEpsilon,
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var lotWorker *worker.LotWorker
	if len(cfg.Kafka.Brokers) > 0 {
		lotConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPurchases, cfg.Kafka.ConsumerGroup)
		lotWorker = worker.NewLotWorker(lotConsumer, inventoryService)
		go func() {
			if err := lotWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Lot worker error", zap.Error(err))
			}
		}()
	}

	if redisClient != nil {
		snapshotWorker := worker.NewSnapshotWorker(inventoryService, redisClient, cfg.Business.SnapshotSyncInterval)
		go func() {
			if err := snapshotWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Snapshot worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, inventoryService)
	for name, check := range readiness {
		handler.AddReadinessCheck(name, check)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if lotWorker != nil {
		if err := lotWorker.Stop(); err != nil {
			logger.Warn("Error stopping lot worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
