package usecase

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/infrastructure/repository/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func newStorageFake() *storageFake {
	return &storageFake{objects: make(map[string]string)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = string(raw)
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrFileNotFound, "open object", io.ErrUnexpectedEOF)
	}
	return io.NopCloser(strings.NewReader(raw)), nil
}

type queueFake struct {
	published []domain.FileUploaded
	err       error
}

func (f *queueFake) PublishFileUploaded(_ context.Context, msg domain.FileUploaded) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *queueFake) SubscribeFileUploaded(context.Context, func(context.Context, domain.FileUploaded) error) error {
	return nil
}

type eventsFake struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (f *eventsFake) Publish(_ context.Context, event domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *eventsFake) ofType(eventType domain.EventType) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Event, 0)
	for _, event := range f.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type textExtractorFake struct {
	text string
	err  error
}

func (f *textExtractorFake) Extract(context.Context, *domain.File) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type insightModelFake struct {
	candidates []domain.InsightCandidate
	err        error
	block      bool
	calls      int
}

func (f *insightModelFake) ExtractInsights(ctx context.Context, _ string) ([]domain.InsightCandidate, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type riskModelFake struct {
	report      *domain.EquityRiskReport
	err         error
	policy      string
	qualitative string
	geospatial  string
	calls       int
}

func (f *riskModelFake) AnalyzeEquityRisk(_ context.Context, policyText, qualitative, geospatial string) (*domain.EquityRiskReport, error) {
	f.calls++
	f.policy = policyText
	f.qualitative = qualitative
	f.geospatial = geospatial
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

type geoValidatorFake struct {
	err error
}

func (f *geoValidatorFake) Validate(context.Context, *domain.File) error {
	return f.err
}

// failingCommitStore fails the fan-out commit while delegating everything else.
type failingCommitStore struct {
	*memory.Store
	err error
}

func (s *failingCommitStore) CommitFanout(context.Context, string, []domain.Insight) error {
	return s.err
}

func seedProject(store *memory.Store, id string) {
	_ = store.CreateProject(context.Background(), &domain.Project{
		ID:        id,
		Name:      "Project " + id,
		OwnerID:   "owner-1",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
}

func seedFile(store *memory.Store, file domain.File) {
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	}
	if file.Kind == "" {
		file.Kind = domain.FileKindDocument
	}
	if file.Status == "" {
		file.Status = domain.FileStatusUploaded
	}
	if file.OwnerID == "" {
		file.OwnerID = "owner-1"
	}
	_ = store.CreateFile(context.Background(), &file)
}

func validCandidate(insight, excerpt string) domain.InsightCandidate {
	return domain.InsightCandidate{
		Insight:  insight,
		Excerpt:  excerpt,
		Category: string(domain.CategorySystemic),
	}
}
