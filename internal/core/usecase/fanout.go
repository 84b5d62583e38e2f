package usecase

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/core/ports"
)

type FanoutOptions struct {
	// RequireVerbatimExcerpt drops candidates whose excerpt does not occur in
	// the source text. Runs of whitespace may differ; the stored excerpt is the
	// matching span of the source, so it is always a verbatim substring.
	RequireVerbatimExcerpt bool
}

// InsightFanout turns model candidates into pending insight records.
type InsightFanout struct {
	insights ports.InsightRepository
	events   ports.EventPublisher
	logger   *slog.Logger
	opts     FanoutOptions
	now      func() time.Time
}

type FanoutOutcome struct {
	Written []domain.Insight
	Dropped int
}

func NewInsightFanout(
	insights ports.InsightRepository,
	events ports.EventPublisher,
	logger *slog.Logger,
	opts FanoutOptions,
) *InsightFanout {
	return &InsightFanout{
		insights: insights,
		events:   events,
		logger:   loggerOrDefault(logger),
		opts:     opts,
		now:      utcNow,
	}
}

// Persist validates each candidate independently and commits the survivors
// together with the file's completion. Either every surviving insight is
// written and the file is completed, or nothing is written.
func (f *InsightFanout) Persist(
	ctx context.Context,
	file *domain.File,
	sourceText string,
	candidates []domain.InsightCandidate,
) (*FanoutOutcome, error) {
	now := f.now()

	outcome := &FanoutOutcome{Written: make([]domain.Insight, 0, len(candidates))}
	for i, candidate := range candidates {
		category, err := candidate.Validate()
		excerpt := strings.TrimSpace(candidate.Excerpt)
		if err == nil && f.opts.RequireVerbatimExcerpt {
			span, ok := sourceSpan(sourceText, excerpt)
			if ok {
				excerpt = span
			} else {
				err = domain.ErrValidationFailed
			}
		}
		if err != nil {
			outcome.Dropped++
			f.logger.Info("insight_candidate_dropped",
				"file_id", file.ID,
				"candidate_index", i,
				"reason", err.Error(),
			)
			continue
		}

		outcome.Written = append(outcome.Written, domain.Insight{
			ID:        uuid.NewString(),
			ProjectID: file.ProjectID,
			FileID:    file.ID,
			OwnerID:   file.OwnerID,
			Excerpt:   excerpt,
			Insight:   strings.TrimSpace(candidate.Insight),
			Category:  category,
			Status:    domain.ReviewPending,
			Ordinal:   len(outcome.Written),
			CreatedAt: now,
		})
	}

	if err := f.insights.CommitFanout(ctx, file.ID, outcome.Written); err != nil {
		if domain.IsKind(err, domain.ErrPersistenceFailed) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrPersistenceFailed, "commit insight fan-out", err)
	}

	if len(outcome.Written) > 0 {
		publishEvent(ctx, f.events, f.logger, domain.Event{
			Type:       domain.EventInsightsCreated,
			ProjectID:  file.ProjectID,
			FileID:     file.ID,
			Count:      len(outcome.Written),
			OccurredAt: now,
		})
	}
	return outcome, nil
}

// sourceSpan finds excerpt in source, letting any whitespace run in one match
// any whitespace run in the other, and returns the source text it covers.
func sourceSpan(source, excerpt string) (string, bool) {
	words := strings.Fields(excerpt)
	if len(words) == 0 {
		return "", false
	}
	for i, word := range words {
		words[i] = regexp.QuoteMeta(word)
	}
	span := regexp.MustCompile(strings.Join(words, `\s+`)).FindString(source)
	return span, span != ""
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
