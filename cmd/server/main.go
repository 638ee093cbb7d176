package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"pizzaflow/config"
	"pizzaflow/internal/api"
	"pizzaflow/internal/broker"
	"pizzaflow/internal/outbox"
	"pizzaflow/internal/redisclient"
	"pizzaflow/internal/service"
	"pizzaflow/internal/store"
	"pizzaflow/internal/util"
	"pizzaflow/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	if err := run(cfg, logger); err != nil {
		logger.Fatal("pizzaflow exited with error", zap.Error(err))
	}
	logger.Info("pizzaflow exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting pizzaflow", zap.String("env", cfg.Server.Env), zap.String("port", cfg.Server.Port))

	shutdownTracer, err := util.InitTracer(util.TracerConfig{
		ServiceName:    "pizzaflow",
		Environment:    cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRatio:    cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	redisClient.WithStockTTL(cfg.Redis.StockTTL)
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	recorder := outbox.NewRecorder(db)
	orderService := service.NewOrderService(db, db, recorder)
	inventoryService := service.NewInventoryService(db, db, recorder, redisClient, service.InventoryOptions{
		ConflictMaxRetries:     cfg.Inventory.ConflictMaxRetries,
		ConflictInitialBackoff: cfg.Inventory.ConflictInitialBackoff,
	})
	paymentService := service.NewPaymentService(db, db, recorder,
		service.NewMockGateway(cfg.Payment.ApprovalRate, cfg.Payment.MaxLatency))
	kitchenService := service.NewKitchenService(db, redisClient)

	scheduler := outbox.NewScheduler(db, db, producer, outbox.Config{
		Interval:   cfg.Outbox.PollInterval,
		BatchSize:  cfg.Outbox.BatchSize,
		MaxRetries: cfg.Outbox.MaxRetries,
	})

	workers := []*worker.Worker{
		worker.NewOrderWorker(cfg.Kafka.Brokers, cfg.Kafka.OrderGroup, orderService),
		worker.NewInventoryWorker(cfg.Kafka.Brokers, cfg.Kafka.InventoryGroup, inventoryService),
		worker.NewPaymentWorker(cfg.Kafka.Brokers, cfg.Kafka.PaymentGroup, paymentService),
		worker.NewKitchenWorker(cfg.Kafka.Brokers, cfg.Kafka.KitchenGroup, kitchenService),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := inventoryService.WarmCache(ctx); err != nil {
		logger.Warn("Failed to warm stock cache", zap.Error(err))
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	handler := api.NewHandler(orderService, inventoryService, paymentService, kitchenService, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(scheduler.Start(gctx))
	})

	for _, w := range workers {
		w := w
		g.Go(func() error {
			return ignoreCanceled(w.Start(gctx))
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown", zap.Error(err))
		}
		for _, w := range workers {
			if err := w.Stop(); err != nil {
				logger.Warn("Error stopping worker", zap.String("worker", w.Name()), zap.Error(err))
			}
		}
		return nil
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
