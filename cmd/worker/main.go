package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/equity-lens/internal/bootstrap"
	"github.com/kirillkom/equity-lens/internal/config"
	"github.com/kirillkom/equity-lens/internal/observability/logging"
	"github.com/kirillkom/equity-lens/internal/observability/metrics"
)

func main() {
	bootLogger := logging.NewJSONLogger("worker", os.Getenv("LOG_LEVEL"))
	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("config_error", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.StoreDriver == bootstrap.DriverMemory {
		logger.Error("worker_requires_shared_store", "store_driver", cfg.StoreDriver, "hint", "use WORKER_INLINE=true with the api")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:          logger,
		BreakerObserver: workerMetrics.ObserveBreakerState,
	})
	if err != nil {
		logger.Error("bootstrap_error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed",
		"subject", cfg.NATSUploadSubject,
		"concurrency", cfg.WorkerConcurrency,
	)
	if err := app.RunWorker(ctx, workerMetrics, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_subscribe_error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker_stopped")
}
