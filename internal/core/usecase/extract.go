package usecase

import (
	"context"
	"time"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/core/ports"
)

// MaxInsightCandidates bounds the fan-out of a single document.
const MaxInsightCandidates = 20

// InsightExtractor wraps the model call and bounds its output.
type InsightExtractor struct {
	model         ports.InsightModel
	timeout       time.Duration
	maxCandidates int
}

func NewInsightExtractor(model ports.InsightModel, timeout time.Duration) *InsightExtractor {
	return &InsightExtractor{
		model:         model,
		timeout:       timeout,
		maxCandidates: MaxInsightCandidates,
	}
}

// Extract returns at most MaxInsightCandidates candidates in model order.
// Any failure, including a timeout, is ErrExtractionFailed with no partial result.
func (e *InsightExtractor) Extract(ctx context.Context, documentText string) ([]domain.InsightCandidate, error) {
	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	candidates, err := e.model.ExtractInsights(callCtx, documentText)
	if err != nil {
		if domain.IsKind(err, domain.ErrExtractionFailed) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrExtractionFailed, "invoke insight model", err)
	}
	if ctxErr := callCtx.Err(); ctxErr != nil {
		return nil, domain.WrapError(domain.ErrExtractionFailed, "invoke insight model", ctxErr)
	}

	if len(candidates) > e.maxCandidates {
		candidates = candidates[:e.maxCandidates]
	}
	out := make([]domain.InsightCandidate, len(candidates))
	copy(out, candidates)
	return out, nil
}
