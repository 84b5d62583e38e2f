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

	httpadapter "github.com/kirillkom/equity-lens/internal/adapters/http"
	"github.com/kirillkom/equity-lens/internal/bootstrap"
	"github.com/kirillkom/equity-lens/internal/config"
	"github.com/kirillkom/equity-lens/internal/observability/logging"
	"github.com/kirillkom/equity-lens/internal/observability/metrics"
)

func main() {
	bootLogger := logging.NewJSONLogger("api", os.Getenv("LOG_LEVEL"))
	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("config_error", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:          logger,
		BreakerObserver: workerMetrics.ObserveBreakerState,
	})
	if err != nil {
		logger.Error("bootstrap_error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerDone := make(chan struct{})
	if cfg.WorkerInline {
		go func() {
			defer close(workerDone)
			logger.Info("inline_worker_started", "concurrency", cfg.WorkerConcurrency)
			if err := app.RunWorker(ctx, workerMetrics, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("inline_worker_error", "error", err)
			}
		}()
	} else {
		close(workerDone)
	}

	router := httpadapter.NewRouter(cfg, httpadapter.Services{
		Projects:   app.Projects,
		Files:      app.Projects,
		Uploads:    app.Uploads,
		Insights:   app.Insights,
		EquityRisk: app.EquityRisk,
		Events:     app.Events,
	}, metrics.NewHTTPServerMetrics("api"), logger)

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "store_driver", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err)
	}
	<-workerDone
}
