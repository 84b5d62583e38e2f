package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/core/ports"
)

type ReviewOptions struct {
	// AllowReReview lets a reviewer overwrite an earlier decision.
	AllowReReview bool
}

type ReviewUseCase struct {
	projects ports.ProjectRepository
	insights ports.InsightRepository
	events   ports.EventPublisher
	logger   *slog.Logger
	opts     ReviewOptions
	now      func() time.Time
}

func NewReviewUseCase(
	projects ports.ProjectRepository,
	insights ports.InsightRepository,
	events ports.EventPublisher,
	logger *slog.Logger,
	opts ReviewOptions,
) *ReviewUseCase {
	return &ReviewUseCase{
		projects: projects,
		insights: insights,
		events:   events,
		logger:   loggerOrDefault(logger),
		opts:     opts,
		now:      utcNow,
	}
}

func (uc *ReviewUseCase) ListInsights(ctx context.Context, projectID string, filter domain.InsightFilter) ([]domain.Insight, error) {
	if _, err := uc.projects.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	insights, err := uc.insights.ListInsights(ctx, projectID, filter)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	return insights, nil
}

// SetReviewStatus moves a pending insight to accepted or rejected. The write
// is conditional on the stored status, so concurrent reviewers cannot both win.
func (uc *ReviewUseCase) SetReviewStatus(ctx context.Context, req ports.ReviewRequest) (*domain.Insight, error) {
	if req.Status != domain.ReviewAccepted && req.Status != domain.ReviewRejected {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"set review status",
			fmt.Errorf("status must be %q or %q, got %q", domain.ReviewAccepted, domain.ReviewRejected, req.Status),
		)
	}
	if strings.TrimSpace(req.ReviewerID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "set review status", fmt.Errorf("reviewer id is required"))
	}

	from := []domain.ReviewStatus{domain.ReviewPending}
	if uc.opts.AllowReReview {
		from = append(from, domain.ReviewAccepted, domain.ReviewRejected)
	}

	updated, applied, err := uc.insights.UpdateReview(ctx, domain.ReviewUpdate{
		ProjectID:  req.ProjectID,
		InsightID:  req.InsightID,
		From:       from,
		To:         req.Status,
		ReviewerID: req.ReviewerID,
		ReviewedAt: uc.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("update review status: %w", err)
	}
	if !applied {
		return nil, uc.explainRejectedReview(ctx, req)
	}

	uc.logger.Info("insight_reviewed",
		"insight_id", updated.ID,
		"project_id", updated.ProjectID,
		"status", string(updated.Status),
		"reviewer_id", req.ReviewerID,
	)
	publishEvent(ctx, uc.events, uc.logger, domain.Event{
		Type:      domain.EventInsightReviewed,
		ProjectID: updated.ProjectID,
		FileID:    updated.FileID,
		InsightID: updated.ID,
		Status:    string(updated.Status),
	})
	return updated, nil
}

func (uc *ReviewUseCase) explainRejectedReview(ctx context.Context, req ports.ReviewRequest) error {
	current, err := uc.insights.GetInsight(ctx, req.InsightID)
	if err != nil {
		return fmt.Errorf("load insight: %w", err)
	}
	if current.ProjectID != req.ProjectID {
		return domain.WrapError(
			domain.ErrInsightNotFound,
			"set review status",
			fmt.Errorf("insight %s is not in project %s", req.InsightID, req.ProjectID),
		)
	}
	return domain.WrapError(
		domain.ErrInvalidTransition,
		"set review status",
		fmt.Errorf("insight %s is already %s", current.ID, current.Status),
	)
}
