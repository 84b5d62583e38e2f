package usecase

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/core/ports"
)

type UploadFileUseCase struct {
	projects ports.ProjectRepository
	files    ports.FileRepository
	storage  ports.ObjectStorage
	queue    ports.UploadQueue
	events   ports.EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

func NewUploadFileUseCase(
	projects ports.ProjectRepository,
	files ports.FileRepository,
	storage ports.ObjectStorage,
	queue ports.UploadQueue,
	events ports.EventPublisher,
	logger *slog.Logger,
) *UploadFileUseCase {
	return &UploadFileUseCase{
		projects: projects,
		files:    files,
		storage:  storage,
		queue:    queue,
		events:   events,
		logger:   loggerOrDefault(logger),
		now:      utcNow,
	}
}

func (uc *UploadFileUseCase) Upload(ctx context.Context, req ports.UploadRequest) (*domain.File, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload file", errors.New("owner id is required"))
	}
	if req.Body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload file", errors.New("file body is required"))
	}
	kind, err := domain.DetectFileKind(req.Filename, req.MimeType)
	if err != nil {
		return nil, err
	}
	if _, err := uc.projects.GetProject(ctx, req.ProjectID); err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}

	body := bufio.NewReader(req.Body)
	if _, err := body.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "upload file", errors.New("file is empty"))
		}
		return nil, fmt.Errorf("read upload body: %w", err)
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s/%s_%s", sanitizeKeySegment(req.ProjectID), id, sanitizeFilename(req.Filename))
	now := uc.now()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	file := &domain.File{
		ID:         id,
		ProjectID:  req.ProjectID,
		OwnerID:    req.OwnerID,
		Name:       req.Filename,
		MimeType:   req.MimeType,
		StorageKey: storageKey,
		Kind:       kind,
		Status:     domain.FileStatusUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := uc.files.CreateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("create file metadata: %w", err)
	}

	publishEvent(ctx, uc.events, uc.logger, domain.Event{
		Type:       domain.EventFileStatusChanged,
		ProjectID:  file.ProjectID,
		FileID:     file.ID,
		Status:     string(file.Status),
		OccurredAt: now,
	})

	if err := uc.queue.PublishFileUploaded(ctx, domain.FileUploaded{
		ProjectID:  file.ProjectID,
		FileID:     file.ID,
		UploadedAt: now,
	}); err != nil {
		uc.markEnqueueFailed(ctx, file, err)
		return nil, fmt.Errorf("publish upload event: %w", err)
	}

	return file, nil
}

// markEnqueueFailed moves a file whose trigger never reached the queue to
// failed, so it is not left waiting for a worker that will never run.
func (uc *UploadFileUseCase) markEnqueueFailed(ctx context.Context, file *domain.File, cause error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	reason := "enqueue processing: " + cause.Error()
	changed, err := uc.files.TransitionStatus(writeCtx, file.ID, domain.FileStatusUploaded, domain.FileStatusFailed, reason)
	if err != nil || !changed {
		uc.logger.Error("file_enqueue_failure_not_recorded",
			"file_id", file.ID,
			"project_id", file.ProjectID,
			"changed", changed,
			"error", err,
		)
		return
	}
	file.Status = domain.FileStatusFailed
	file.Error = reason
	publishEvent(writeCtx, uc.events, uc.logger, domain.Event{
		Type:       domain.EventFileStatusChanged,
		ProjectID:  file.ProjectID,
		FileID:     file.ID,
		Status:     string(file.Status),
		OccurredAt: uc.now(),
	})
	uc.logger.Warn("file_enqueue_failed",
		"file_id", file.ID,
		"project_id", file.ProjectID,
		"error", cause,
	)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "upload.bin"
	}
	return base
}

func sanitizeKeySegment(segment string) string {
	cleaned := strings.Trim(sanitizeFilename(segment), ".")
	if cleaned == "" {
		return "project"
	}
	return cleaned
}
