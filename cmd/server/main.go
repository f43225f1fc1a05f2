package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/app"
	"github.com/clutchstake/backend/internal/config"
	"github.com/clutchstake/backend/internal/database"
	"github.com/clutchstake/backend/internal/events"
	"github.com/clutchstake/backend/internal/handlers"
	"github.com/clutchstake/backend/internal/logger"
	"github.com/clutchstake/backend/internal/metrics"
	"github.com/clutchstake/backend/internal/workers"
)

// @title Clutchstake Escrow API
// @version 1.0
// @description Stake escrow and settlement for head-to-head matches
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.App.Name, cfg.App.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to initialize services", zap.Error(err))
	}
	defer a.Close()

	sinks, closeSinks := buildSinks(ctx, cfg, zl)
	defer closeSinks()

	var wg sync.WaitGroup
	if cfg.Workers.Enabled {
		relay := workers.NewOutboxRelay(a.Store, sinks, a.Metrics, zl, cfg.Workers.OutboxBatch)
		sweeper := workers.NewEscalationSweeper(a.Escrow, zl, cfg.Workers.EscalationBatch)
		reconciler := workers.NewReconciler(a.Ledger, a.Metrics, zl)

		wg.Add(3)
		go func() { defer wg.Done(); relay.Run(ctx, cfg.Workers.OutboxInterval) }()
		go func() { defer wg.Done(); sweeper.Run(ctx, cfg.Workers.EscalationInterval) }()
		go func() { defer wg.Done(); reconciler.Run(ctx, cfg.Workers.ReconcileInterval) }()
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, a.Registry, a.Store.Ping)

	router := handlers.NewRouter(handlers.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         zl,
		Matches:        handlers.NewMatchHandler(a.Escrow),
		Wallet:         handlers.NewWalletHandler(a.Wallet),
		Disputes:       handlers.NewDisputeHandler(a.Disputes),
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zl.Info("server starting", zap.String("addr", server.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	zl.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		zl.Error("metrics server forced to shutdown", zap.Error(err))
	}
	wg.Wait()

	zl.Info("server stopped")
}

// buildSinks returns the configured event sinks, falling back to the log
// sink when neither Kafka nor Redis is available.
func buildSinks(ctx context.Context, cfg *config.Config, zl *zap.Logger) ([]events.Publisher, func()) {
	var (
		sinks   []events.Publisher
		closers []func()
	)

	if cfg.Kafka.Brokers != "" {
		w := events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sinks = append(sinks, events.NewKafkaPublisher(w))
		closers = append(closers, func() {
			if err := w.Close(); err != nil {
				zl.Warn("kafka writer close", zap.Error(err))
			}
		})
	}

	if cfg.Redis.Enabled {
		rdb, err := database.InitRedis(ctx)
		if err != nil {
			zl.Warn("redis unavailable, live fan-out disabled", zap.Error(err))
		} else {
			sinks = append(sinks, events.NewRedisPublisher(rdb, cfg.Redis.Channel))
			closers = append(closers, func() { rdb.Close() })
		}
	}

	if len(sinks) == 0 {
		sinks = append(sinks, events.NewLogPublisher(zl))
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}
