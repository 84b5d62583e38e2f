package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/equity-lens/internal/config"
	"github.com/kirillkom/equity-lens/internal/core/ports"
	"github.com/kirillkom/equity-lens/internal/core/usecase"
	"github.com/kirillkom/equity-lens/internal/infrastructure/extractor"
	"github.com/kirillkom/equity-lens/internal/infrastructure/geojson"
	"github.com/kirillkom/equity-lens/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/equity-lens/internal/infrastructure/queue/inproc"
	"github.com/kirillkom/equity-lens/internal/infrastructure/queue/nats"
	"github.com/kirillkom/equity-lens/internal/infrastructure/repository/memory"
	"github.com/kirillkom/equity-lens/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/equity-lens/internal/infrastructure/resilience"
	"github.com/kirillkom/equity-lens/internal/infrastructure/storage/localfs"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	inprocQueueBuffer = 256
)

type Options struct {
	Logger *slog.Logger
	// BreakerObserver receives circuit breaker state changes, e.g. for metrics.
	BreakerObserver resilience.StateObserver
}

type App struct {
	Config config.Config

	Queue  ports.UploadQueue
	Events ports.EventSubscriber

	Projects   *usecase.ProjectUseCase
	Uploads    ports.FileUploader
	ProcessUC  ports.FileProcessor
	Insights   ports.InsightCurator
	EquityRisk ports.EquityRiskAnalyzer

	closeFn func()
}

type repositories struct {
	projects ports.ProjectRepository
	files    ports.FileRepository
	insights ports.InsightRepository
	db       *sql.DB
}

type transport struct {
	queue  ports.UploadQueue
	events interface {
		ports.EventPublisher
		ports.EventSubscriber
	}
	close func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	executorOpts := []resilience.Option{resilience.WithLogger(logger)}
	if opts.BreakerObserver != nil {
		executorOpts = append(executorOpts, resilience.WithStateObserver(opts.BreakerObserver))
	}
	executor := resilience.NewExecutor(resilienceConfig(cfg), executorOpts...)

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		closeDB(repos.db)
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	tr, err := openTransport(cfg, executor, logger)
	if err != nil {
		closeDB(repos.db)
		return nil, err
	}

	ollamaClient := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, ollama.Options{
		HTTPTimeout:        ollamaHTTPTimeout(cfg),
		ResilienceExecutor: executor,
		Logger:             logger,
	})

	projectUC := usecase.NewProjectUseCase(repos.projects, repos.files)
	uploadUC := usecase.NewUploadFileUseCase(repos.projects, repos.files, storage, tr.queue, tr.events, logger)
	processUC := usecase.NewProcessFileUseCase(
		repos.files,
		extractor.NewExtractor(storage),
		usecase.NewInsightExtractor(ollama.NewInsightModel(ollamaClient), cfg.ExtractionTimeout),
		usecase.NewInsightFanout(repos.insights, tr.events, logger, usecase.FanoutOptions{
			RequireVerbatimExcerpt: cfg.InsightRequireVerbatimExcerpt,
		}),
		geojson.NewValidator(storage, cfg.MaxUploadBytes),
		tr.events,
		logger,
	)
	reviewUC := usecase.NewReviewUseCase(repos.projects, repos.insights, tr.events, logger, usecase.ReviewOptions{
		AllowReReview: cfg.ReviewAllowReReview,
	})
	equityRiskUC := usecase.NewEquityRiskUseCase(
		repos.projects,
		repos.files,
		repos.insights,
		ollama.NewRiskModel(ollamaClient),
		usecase.ContextLimits{
			MaxQualitativeBytes: cfg.AnalysisMaxQualitativeBytes,
			MaxGeospatialBytes:  cfg.AnalysisMaxGeospatialBytes,
		},
		cfg.AnalysisTimeout,
	)

	return &App{
		Config: cfg,
		Queue:  tr.queue,
		Events: tr.events,

		Projects:   projectUC,
		Uploads:    uploadUC,
		ProcessUC:  processUC,
		Insights:   reviewUC,
		EquityRisk: equityRiskUC,

		closeFn: func() {
			tr.close()
			closeDB(repos.db)
		},
	}, nil
}

func openRepositories(ctx context.Context, cfg config.Config) (repositories, error) {
	if cfg.StoreDriver == DriverMemory {
		store := memory.NewStore()
		return repositories{projects: store, files: store, insights: store}, nil
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return repositories{}, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return repositories{}, fmt.Errorf("ensure schema: %w", err)
	}
	return repositories{
		projects: postgres.NewProjectRepository(db),
		files:    postgres.NewFileRepository(db),
		insights: postgres.NewInsightRepository(db),
		db:       db,
	}, nil
}

// openTransport pairs the trigger queue with the event bus. The memory store
// lives in one process, so it uses the in-process transport as well.
func openTransport(cfg config.Config, executor *resilience.Executor, logger *slog.Logger) (transport, error) {
	if cfg.StoreDriver == DriverMemory {
		return transport{
			queue:  inproc.NewQueue(inprocQueueBuffer, cfg.WorkerConcurrency, logger),
			events: inproc.NewEventBus(),
			close:  func() {},
		}, nil
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSUploadSubject, nats.Options{
		Concurrency:        cfg.WorkerConcurrency,
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return transport{}, fmt.Errorf("init message queue: %w", err)
	}
	return transport{
		queue:  queue,
		events: nats.NewEventBus(queue.Conn(), cfg.NATSEventsSubjectPrefix, logger),
		close:  queue.Close,
	}, nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	out.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	out.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	if cfg.ResilienceBreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.ResilienceBreakerMinRequests)
	}
	out.BreakerFailureRatio = cfg.ResilienceBreakerFailureRatio
	out.BreakerOpenTimeout = cfg.ResilienceBreakerOpenTimeout
	return out
}

func closeDB(db *sql.DB) {
	if db != nil {
		_ = db.Close()
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// ollamaHTTPTimeout covers the longer of the two model calls; each call is
// still bounded by its own context deadline.
func ollamaHTTPTimeout(cfg config.Config) time.Duration {
	return max(cfg.ExtractionTimeout, cfg.AnalysisTimeout)
}
