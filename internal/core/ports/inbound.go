package ports

import (
	"context"
	"io"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

// ProjectService is the inbound contract for project workspaces.
type ProjectService interface {
	CreateProject(ctx context.Context, ownerID, name string) (*domain.Project, error)
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context, ownerID string) ([]domain.Project, error)
}

// UploadRequest describes one uploaded artifact.
type UploadRequest struct {
	ProjectID string
	OwnerID   string
	Filename  string
	MimeType  string
	Body      io.Reader
}

// FileUploader is the inbound contract for upload orchestration.
type FileUploader interface {
	Upload(ctx context.Context, req UploadRequest) (*domain.File, error)
}

// FileReader is the inbound read model for file metadata/state.
type FileReader interface {
	GetFile(ctx context.Context, projectID, fileID string) (*domain.File, error)
	ListFiles(ctx context.Context, projectID string, filter domain.FileFilter) ([]domain.File, error)
}

// FileProcessor is the inbound contract for asynchronous pipeline runs.
type FileProcessor interface {
	ProcessByID(ctx context.Context, fileID string) (*domain.ProcessResult, error)
}

// ReviewRequest is one reviewer decision.
type ReviewRequest struct {
	ProjectID  string
	InsightID  string
	Status     domain.ReviewStatus
	ReviewerID string
}

// InsightCurator is the inbound contract for listing and reviewing insights.
type InsightCurator interface {
	ListInsights(ctx context.Context, projectID string, filter domain.InsightFilter) ([]domain.Insight, error)
	SetReviewStatus(ctx context.Context, req ReviewRequest) (*domain.Insight, error)
}

// EquityRiskAnalyzer is the inbound contract for on-demand risk assessment.
type EquityRiskAnalyzer interface {
	AssembleContext(ctx context.Context, projectID string) (*domain.EquityRiskContext, error)
	Analyze(ctx context.Context, projectID, policyText string) (*domain.EquityRiskReport, error)
}
