package ports

import (
	"context"
	"io"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

// ProjectRepository persists project workspaces.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
}

// FileRepository persists file records and their lifecycle.
type FileRepository interface {
	CreateFile(ctx context.Context, file *domain.File) error
	GetFile(ctx context.Context, id string) (*domain.File, error)
	ListFiles(ctx context.Context, projectID string, filter domain.FileFilter) ([]domain.File, error)
	// TransitionStatus applies from -> to only while the stored status equals
	// from. It reports false when the guard did not match.
	TransitionStatus(ctx context.Context, id string, from, to domain.FileStatus, errMessage string) (bool, error)
}

// InsightRepository persists insights and their review state.
type InsightRepository interface {
	// CommitFanout writes the whole batch and flips the file
	// processing -> completed in one transaction.
	CommitFanout(ctx context.Context, fileID string, insights []domain.Insight) error
	GetInsight(ctx context.Context, id string) (*domain.Insight, error)
	ListInsights(ctx context.Context, projectID string, filter domain.InsightFilter) ([]domain.Insight, error)
	// UpdateReview applies the update only while the stored status is one of
	// update.From. It reports false when the guard did not match.
	UpdateReview(ctx context.Context, update domain.ReviewUpdate) (*domain.Insight, bool, error)
}

// ObjectStorage stores uploaded artifacts.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// UploadQueue publishes/consumes pipeline trigger messages.
type UploadQueue interface {
	PublishFileUploaded(ctx context.Context, msg domain.FileUploaded) error
	SubscribeFileUploaded(ctx context.Context, handler func(context.Context, domain.FileUploaded) error) error
}

// EventPublisher fans out change notifications to live subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// EventSubscriber delivers a project's change notifications until ctx ends.
type EventSubscriber interface {
	SubscribeProject(ctx context.Context, projectID string, handler func(domain.Event)) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, file *domain.File) (string, error)
}

// GeospatialValidator checks an uploaded geospatial artifact.
type GeospatialValidator interface {
	Validate(ctx context.Context, file *domain.File) error
}

// InsightModel is the opaque extraction call: document text in, candidates out.
// Structurally invalid responses must be reported as ErrExtractionFailed.
type InsightModel interface {
	ExtractInsights(ctx context.Context, documentText string) ([]domain.InsightCandidate, error)
}

// RiskModel is the opaque risk-analysis call.
type RiskModel interface {
	AnalyzeEquityRisk(ctx context.Context, policyText, qualitativeContext, geospatialContext string) (*domain.EquityRiskReport, error)
}
