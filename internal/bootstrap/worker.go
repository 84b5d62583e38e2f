package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/observability/metrics"
)

const pipelineRunTimeout = 5 * time.Minute

// RunWorker consumes upload triggers and runs the pipeline for each until ctx
// is cancelled. In-flight runs finish before it returns.
func (a *App) RunWorker(ctx context.Context, workerMetrics *metrics.WorkerMetrics, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	return a.Queue.SubscribeFileUploaded(ctx, func(handlerCtx context.Context, msg domain.FileUploaded) error {
		if workerMetrics != nil && !msg.UploadedAt.IsZero() {
			workerMetrics.ObserveQueueLag(time.Since(msg.UploadedAt))
		}
		runCtx, cancel := context.WithTimeout(handlerCtx, pipelineRunTimeout)
		defer cancel()

		if workerMetrics != nil {
			workerMetrics.StartFile()
		}
		started := time.Now()
		result, err := a.ProcessUC.ProcessByID(runCtx, msg.FileID)
		if workerMetrics != nil {
			workerMetrics.FinishFile(time.Since(started), result)
		}
		if err != nil {
			logger.Error("file_processing_error",
				"file_id", msg.FileID,
				"project_id", msg.ProjectID,
				"error", err,
			)
			return err
		}
		logger.Info("file_processed",
			"file_id", result.FileID,
			"kind", string(result.Kind),
			"status", string(result.Status),
			"skipped", result.Skipped,
			"insights_written", result.InsightsWritten,
			"candidates_dropped", result.CandidatesDropped,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		return nil
	})
}
