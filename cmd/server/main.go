package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rl1809/checkout-payments/internal/adapter/gateway"
	"github.com/rl1809/checkout-payments/internal/adapter/handler"
	"github.com/rl1809/checkout-payments/internal/adapter/publisher"
	"github.com/rl1809/checkout-payments/internal/adapter/storage"
	"github.com/rl1809/checkout-payments/internal/config"
	"github.com/rl1809/checkout-payments/internal/core/domain"
	"github.com/rl1809/checkout-payments/internal/core/service"
	"github.com/rl1809/checkout-payments/internal/port"
)

const (
	initiateTimeout = 20 * time.Second
	verifyTimeout   = 20 * time.Second
	publishTimeout  = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	dsn := cfg.MySQLDSN()
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		logger.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	logger.Info("connected to mysql", zap.String("database", cfg.DB.Name))

	if err := storage.RunMigrations(dsn); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("migrations applied")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	// Initialize adapters
	mysqlAdapter := storage.NewMySQLAdapter(db)
	redisAdapter := storage.NewRedisAdapter(rdb, cfg.ClaimTTL)
	sslcommerz := gateway.NewSSLCommerzAdapter(gateway.Config{
		StoreID:       cfg.SSLCommerz.StoreID,
		StorePassword: cfg.SSLCommerz.StorePassword,
		Live:          cfg.SSLCommerz.Live,
		BaseURL:       cfg.SSLCommerz.BaseURL,
		Timeout:       cfg.SSLCommerz.Timeout,
	}, logger)
	kafkaPublisher := publisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)

	// Initialize services
	notifier := service.NewStatusNotifier(cfg.EventQueue, logger)
	ledger := service.NewOrderLedger(mysqlAdapter, notifier, logger)
	coupons := service.NewCouponService(mysqlAdapter, logger)
	checkout := service.NewCheckoutService(coupons, ledger, sslcommerz, service.CheckoutConfig{
		Callbacks: domain.CallbackURLs{
			Success: cfg.CallbackURL("success"),
			Fail:    cfg.CallbackURL("fail"),
			Cancel:  cfg.CallbackURL("cancel"),
			IPN:     cfg.CallbackURL("ipn"),
		},
		ProductName:     cfg.ProductName,
		InitiateTimeout: initiateTimeout,
	}, logger)
	reconciler := service.NewReconciler(ledger, sslcommerz, redisAdapter, logger, verifyTimeout)

	// Start event worker pool
	var wg sync.WaitGroup
	for i := 0; i < cfg.EventWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(id, notifier.GetEventQueue(), kafkaPublisher, logger)
		}(i)
	}
	logger.Info("started event workers", zap.Int("count", cfg.EventWorkers))

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(checkout, reconciler, coupons, cfg.ClientURL, cfg.RequestMaxKiB<<10, logger)
	router := handler.NewRouter(httpHandler, handler.AuthMiddleware([]byte(cfg.JWTSecret), logger), logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	// Stop HTTP server so no new transitions are produced
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	// Close event queue and wait for workers to drain it
	notifier.Close()
	wg.Wait()
	logger.Info("event workers stopped")

	// Close connections
	if err := kafkaPublisher.Close(); err != nil {
		logger.Error("failed to close kafka writer", zap.Error(err))
	}
	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}

func workerLoop(id int, queue <-chan domain.PaymentStatusEvent, events port.EventPublisher, logger *zap.Logger) {
	for event := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)

		if err := events.PublishStatusChanged(ctx, event); err != nil {
			logger.Error("failed to publish status event",
				zap.Int("worker", id),
				zap.String("order_id", event.OrderID),
				zap.String("status", string(event.Status)),
				zap.Error(err),
			)
		} else {
			logger.Debug("published status event",
				zap.Int("worker", id),
				zap.String("order_id", event.OrderID),
				zap.String("status", string(event.Status)),
			)
		}

		cancel()
	}
}
