package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/equity-lens/internal/adapters/mcp"
	"github.com/kirillkom/equity-lens/internal/bootstrap"
	"github.com/kirillkom/equity-lens/internal/config"
	"github.com/kirillkom/equity-lens/internal/observability/logging"
)

var version = "dev"

func main() {
	// stdout carries the MCP protocol; logs go to stderr.
	bootLogger := logging.NewJSONLoggerTo(os.Stderr, "mcp", os.Getenv("LOG_LEVEL"))
	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("config_error", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
	if err != nil {
		logger.Error("bootstrap_error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	tools := mcpadapter.NewTools(app.Projects, app.Insights, app.EquityRisk, logger)
	logger.Info("mcp_stdio_started", "store_driver", cfg.StoreDriver)
	if err := server.ServeStdio(tools.Server(version)); err != nil {
		logger.Error("mcp_server_error", "error", err)
		os.Exit(1)
	}
}
