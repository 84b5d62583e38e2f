package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/core/ports"
)

// publishEvent is best-effort: the state change it announces is already durable.
func publishEvent(ctx context.Context, publisher ports.EventPublisher, logger *slog.Logger, event domain.Event) {
	if publisher == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Warn("event_publish_failed",
			"type", string(event.Type),
			"project_id", event.ProjectID,
			"file_id", event.FileID,
			"insight_id", event.InsightID,
			"error", err,
		)
	}
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func utcNow() time.Time {
	return time.Now().UTC()
}
