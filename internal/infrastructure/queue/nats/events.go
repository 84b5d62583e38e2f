package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

// EventBus carries project change notifications on <prefix>.<projectID>.
type EventBus struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

func NewEventBus(conn *nats.Conn, prefix string, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger,
	}
}

func (b *EventBus) Publish(_ context.Context, event domain.Event) error {
	subject, err := projectSubject(b.prefix, event.ProjectID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.conn.Publish(subject, payload); err != nil {
		return asTemporary(fmt.Errorf("nats publish event: %w", err))
	}
	return nil
}

func (b *EventBus) SubscribeProject(ctx context.Context, projectID string, handler func(domain.Event)) error {
	subject, err := projectSubject(b.prefix, projectID)
	if err != nil {
		return err
	}
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event domain.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("event_decode_failed", "subject", msg.Subject, "error", err)
			return
		}
		handler(event)
	})
	if err != nil {
		return asTemporary(fmt.Errorf("nats subscribe events: %w", err))
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats unsubscribe events: %w", err)
	}
	return nil
}

func projectSubject(prefix, projectID string) (string, error) {
	if projectID == "" || strings.ContainsAny(projectID, ".*> \t\r\n") {
		return "", domain.WrapError(domain.ErrInvalidInput, "event subject", fmt.Errorf("invalid project id %q", projectID))
	}
	return prefix + "." + projectID, nil
}
