package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/infrastructure/resilience"
)

const workerQueueGroup = "pipeline-workers"

type Queue struct {
	conn        *nats.Conn
	subject     string
	concurrency int
	executor    *resilience.Executor
	logger      *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	// Concurrency bounds how many pipeline runs one subscriber executes at once.
	Concurrency        int
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := connect(url, options, logger)
	if err != nil {
		return nil, err
	}
	return &Queue{
		conn:        conn,
		subject:     subject,
		concurrency: normalizeConcurrency(options.Concurrency),
		executor:    options.ResilienceExecutor,
		logger:      logger,
	}, nil
}

func connect(url string, options Options, logger *slog.Logger) (*nats.Conn, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("equity-lens"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

func normalizeConcurrency(n int) int {
	if n <= 0 {
		return 4
	}
	return n
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Conn exposes the underlying connection so the event bus can share it.
func (q *Queue) Conn() *nats.Conn {
	return q.conn
}

func (q *Queue) PublishFileUploaded(ctx context.Context, msg domain.FileUploaded) error {
	payload, err := encodeFileUploaded(msg)
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return asTemporary(err)
	}
	return nil
}

// SubscribeFileUploaded consumes triggers with at most Concurrency handlers in
// flight. The message callback blocks while every slot is busy, so a burst
// waits in the subscription's pending buffer instead of being dropped. On ctx
// cancellation the subscription is drained and the runs, which keep a context
// detached from ctx, are awaited so they can reach a terminal status.
func (q *Queue) SubscribeFileUploaded(ctx context.Context, handler func(context.Context, domain.FileUploaded) error) error {
	d := newDispatcher(ctx, q.concurrency, handler, q.logger)
	sub, err := q.conn.QueueSubscribe(q.subject, workerQueueGroup, d.handle)
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	drainErr := sub.Drain()
	if drainErr == nil {
		waitClosed(sub)
	}
	d.wait()

	if drainErr != nil && !errors.Is(drainErr, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats drain: %w", drainErr)
	}
	return nil
}

func waitClosed(sub *nats.Subscription) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for sub.IsValid() {
		<-ticker.C
	}
}

type dispatcher struct {
	group   errgroup.Group
	runCtx  context.Context
	handler func(context.Context, domain.FileUploaded) error
	logger  *slog.Logger
}

func newDispatcher(
	ctx context.Context,
	concurrency int,
	handler func(context.Context, domain.FileUploaded) error,
	logger *slog.Logger,
) *dispatcher {
	d := &dispatcher{
		runCtx:  context.WithoutCancel(ctx),
		handler: handler,
		logger:  logger,
	}
	d.group.SetLimit(normalizeConcurrency(concurrency))
	return d
}

// handle blocks until a run slot is free.
func (d *dispatcher) handle(msg *nats.Msg) {
	trigger, err := decodeFileUploaded(msg.Data)
	if err != nil {
		d.logger.Error("pipeline_trigger_invalid", "error", err, "payload_bytes", len(msg.Data))
		return
	}
	d.group.Go(func() error {
		if err := d.handler(d.runCtx, trigger); err != nil {
			d.logger.Error("pipeline_handler_failed",
				"file_id", trigger.FileID,
				"project_id", trigger.ProjectID,
				"error", err,
			)
		}
		return nil
	})
}

func (d *dispatcher) wait() {
	_ = d.group.Wait()
}

func encodeFileUploaded(msg domain.FileUploaded) ([]byte, error) {
	if msg.FileID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode trigger", errors.New("file_id is required"))
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode trigger: %w", err)
	}
	return payload, nil
}

func decodeFileUploaded(data []byte) (domain.FileUploaded, error) {
	var msg domain.FileUploaded
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.FileUploaded{}, fmt.Errorf("decode trigger: %w", err)
	}
	if msg.FileID == "" {
		return domain.FileUploaded{}, errors.New("decode trigger: missing file_id")
	}
	return msg, nil
}
