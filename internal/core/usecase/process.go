package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/core/ports"
)

const failureWriteTimeout = 10 * time.Second

type ProcessFileUseCase struct {
	files      ports.FileRepository
	extractor  ports.TextExtractor
	invoker    *InsightExtractor
	fanout     *InsightFanout
	geospatial ports.GeospatialValidator
	events     ports.EventPublisher
	logger     *slog.Logger
}

func NewProcessFileUseCase(
	files ports.FileRepository,
	extractor ports.TextExtractor,
	invoker *InsightExtractor,
	fanout *InsightFanout,
	geospatial ports.GeospatialValidator,
	events ports.EventPublisher,
	logger *slog.Logger,
) *ProcessFileUseCase {
	return &ProcessFileUseCase{
		files:      files,
		extractor:  extractor,
		invoker:    invoker,
		fanout:     fanout,
		geospatial: geospatial,
		events:     events,
		logger:     loggerOrDefault(logger),
	}
}

// ProcessByID runs the pipeline for one uploaded file. Re-delivered triggers
// for a file that already left "uploaded" are skipped without side effects.
// Extraction and persistence failures are recorded on the file and reported
// through the result; the returned error is reserved for failures the
// pipeline could not record.
func (uc *ProcessFileUseCase) ProcessByID(ctx context.Context, fileID string) (*domain.ProcessResult, error) {
	file, err := uc.files.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("fetch file by id: %w", err)
	}

	started, current, err := uc.beginProcessing(ctx, file)
	if err != nil {
		return nil, err
	}
	if !started {
		uc.logger.Info("file_processing_skipped",
			"file_id", file.ID,
			"status", string(current),
		)
		return &domain.ProcessResult{
			FileID:  file.ID,
			Kind:    file.Kind,
			Status:  current,
			Skipped: true,
		}, nil
	}
	file.Status = domain.FileStatusProcessing
	uc.announceStatus(ctx, file)

	switch file.Kind {
	case domain.FileKindDocument:
		return uc.processDocument(ctx, file)
	case domain.FileKindGeospatial:
		return uc.processGeospatial(ctx, file)
	default:
		return uc.markFailed(ctx, file, domain.WrapError(
			domain.ErrInvalidInput,
			"process file",
			fmt.Errorf("unsupported kind %q", file.Kind),
		))
	}
}

func (uc *ProcessFileUseCase) beginProcessing(ctx context.Context, file *domain.File) (bool, domain.FileStatus, error) {
	if file.Status != domain.FileStatusUploaded {
		return false, file.Status, nil
	}
	changed, err := uc.files.TransitionStatus(ctx, file.ID, domain.FileStatusUploaded, domain.FileStatusProcessing, "")
	if err != nil {
		return false, "", fmt.Errorf("mark processing status: %w", err)
	}
	if changed {
		return true, domain.FileStatusProcessing, nil
	}

	// Lost the race to another delivery of the same trigger.
	reloaded, err := uc.files.GetFile(ctx, file.ID)
	if err != nil {
		return false, "", fmt.Errorf("reload file after guard miss: %w", err)
	}
	return false, reloaded.Status, nil
}

func (uc *ProcessFileUseCase) processDocument(ctx context.Context, file *domain.File) (*domain.ProcessResult, error) {
	text, err := uc.extractor.Extract(ctx, file)
	if err != nil {
		if !domain.IsKind(err, domain.ErrExtractionFailed) {
			err = domain.WrapError(domain.ErrExtractionFailed, "extract text", err)
		}
		return uc.markFailed(ctx, file, err)
	}

	var candidates []domain.InsightCandidate
	if strings.TrimSpace(text) != "" {
		candidates, err = uc.invoker.Extract(ctx, text)
		if err != nil {
			return uc.markFailed(ctx, file, err)
		}
	}

	outcome, err := uc.fanout.Persist(ctx, file, text, candidates)
	if err != nil {
		return uc.markFailed(ctx, file, err)
	}

	file.Status = domain.FileStatusCompleted
	uc.announceStatus(ctx, file)
	uc.logger.Info("file_processing_completed",
		"file_id", file.ID,
		"project_id", file.ProjectID,
		"insights_written", len(outcome.Written),
		"candidates_dropped", outcome.Dropped,
	)
	return &domain.ProcessResult{
		FileID:            file.ID,
		Kind:              file.Kind,
		Status:            domain.FileStatusCompleted,
		InsightsWritten:   len(outcome.Written),
		CandidatesDropped: outcome.Dropped,
	}, nil
}

func (uc *ProcessFileUseCase) processGeospatial(ctx context.Context, file *domain.File) (*domain.ProcessResult, error) {
	if uc.geospatial != nil {
		if err := uc.geospatial.Validate(ctx, file); err != nil {
			if !domain.IsKind(err, domain.ErrValidationFailed) {
				err = domain.WrapError(domain.ErrValidationFailed, "validate geospatial file", err)
			}
			return uc.markFailed(ctx, file, err)
		}
	}

	changed, err := uc.files.TransitionStatus(ctx, file.ID, domain.FileStatusProcessing, domain.FileStatusCompleted, "")
	if err != nil {
		return uc.markFailed(ctx, file, domain.WrapError(domain.ErrPersistenceFailed, "mark completed status", err))
	}
	if !changed {
		return uc.markFailed(ctx, file, domain.WrapError(
			domain.ErrPersistenceFailed,
			"mark completed status",
			errors.New("file left processing state"),
		))
	}

	file.Status = domain.FileStatusCompleted
	uc.announceStatus(ctx, file)
	uc.logger.Info("file_processing_completed",
		"file_id", file.ID,
		"project_id", file.ProjectID,
		"kind", string(file.Kind),
	)
	return &domain.ProcessResult{
		FileID: file.ID,
		Kind:   file.Kind,
		Status: domain.FileStatusCompleted,
	}, nil
}

func (uc *ProcessFileUseCase) markFailed(ctx context.Context, file *domain.File, cause error) (*domain.ProcessResult, error) {
	reason := cause.Error()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	changed, err := uc.files.TransitionStatus(writeCtx, file.ID, domain.FileStatusProcessing, domain.FileStatusFailed, reason)
	if err != nil {
		return nil, fmt.Errorf("%w; mark failed status: %v", cause, err)
	}
	if !changed {
		reloaded, getErr := uc.files.GetFile(writeCtx, file.ID)
		if getErr != nil {
			return nil, fmt.Errorf("%w; reload file after failed guard: %v", cause, getErr)
		}
		return &domain.ProcessResult{
			FileID:        file.ID,
			Kind:          file.Kind,
			Status:        reloaded.Status,
			FailureReason: reason,
		}, nil
	}

	file.Status = domain.FileStatusFailed
	file.Error = reason
	uc.announceStatus(writeCtx, file)
	uc.logger.Warn("file_processing_failed",
		"file_id", file.ID,
		"project_id", file.ProjectID,
		"kind", string(file.Kind),
		"error", reason,
	)
	return &domain.ProcessResult{
		FileID:        file.ID,
		Kind:          file.Kind,
		Status:        domain.FileStatusFailed,
		FailureReason: reason,
	}, nil
}

func (uc *ProcessFileUseCase) announceStatus(ctx context.Context, file *domain.File) {
	publishEvent(ctx, uc.events, uc.logger, domain.Event{
		Type:      domain.EventFileStatusChanged,
		ProjectID: file.ProjectID,
		FileID:    file.ID,
		Status:    string(file.Status),
	})
}
