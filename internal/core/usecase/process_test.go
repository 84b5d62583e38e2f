package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/core/ports"
	"github.com/kirillkom/equity-lens/internal/infrastructure/repository/memory"
)

type processFixture struct {
	uc     *ProcessFileUseCase
	store  *memory.Store
	model  *insightModelFake
	text   *textExtractorFake
	geo    *geoValidatorFake
	events *eventsFake
}

func newProcessFixture(t *testing.T, insights ports.InsightRepository, store *memory.Store) *processFixture {
	t.Helper()
	if store == nil {
		store = memory.NewStore()
	}
	if insights == nil {
		insights = store
	}
	seedProject(store, "p1")

	f := &processFixture{
		store:  store,
		model:  &insightModelFake{},
		text:   &textExtractorFake{},
		geo:    &geoValidatorFake{},
		events: &eventsFake{},
	}
	invoker := NewInsightExtractor(f.model, time.Second)
	fanout := NewInsightFanout(insights, f.events, discardLogger(), FanoutOptions{RequireVerbatimExcerpt: true})
	f.uc = NewProcessFileUseCase(store, f.text, invoker, fanout, f.geo, f.events, discardLogger())
	return f
}

func (f *processFixture) insightsFor(t *testing.T, fileID string) []domain.Insight {
	t.Helper()
	out, err := f.store.ListInsights(context.Background(), "p1", domain.InsightFilter{FileID: fileID})
	if err != nil {
		t.Fatalf("list insights: %v", err)
	}
	return out
}

func (f *processFixture) fileStatus(t *testing.T, fileID string) domain.FileStatus {
	t.Helper()
	file, err := f.store.GetFile(context.Background(), fileID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	return file.Status
}

const meetingNotes = `Residents believe the new transit line will raise rents.
The council approved a $4M budget for sidewalk repair.
Tenant groups say they have no influence over the zoning board.`

func TestProcessDocumentDropsInvalidCandidatesAndCompletes(t *testing.T) {
	f := newProcessFixture(t, nil, nil)
	seedFile(f.store, domain.File{ID: "f1", ProjectID: "p1"})
	f.text.text = meetingNotes
	f.model.candidates = []domain.InsightCandidate{
		{Insight: "Displacement fear", Excerpt: "Residents believe the new transit line will raise rents.", Category: string(domain.CategoryPerceptions)},
		{Insight: "Capital spending", Excerpt: "approved a $4M budget", Category: string(domain.CategoryPolicies)},
		{Insight: "Exclusion", Excerpt: "no influence over the zoning board", Category: string(domain.CategoryRelationships)},
		{Insight: "Off taxonomy", Excerpt: "sidewalk repair", Category: "Economic Outlook"},
	}

	result, err := f.uc.ProcessByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if result.Status != domain.FileStatusCompleted || result.InsightsWritten != 3 || result.CandidatesDropped != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := f.fileStatus(t, "f1"); got != domain.FileStatusCompleted {
		t.Fatalf("expected completed file, got %s", got)
	}

	insights := f.insightsFor(t, "f1")
	if len(insights) != 3 {
		t.Fatalf("expected 3 insights, got %d", len(insights))
	}
	for i, insight := range insights {
		if insight.Status != domain.ReviewPending {
			t.Fatalf("insight %d: expected pending, got %s", i, insight.Status)
		}
		if insight.Excerpt == "" {
			t.Fatalf("insight %d: empty excerpt", i)
		}
		if _, err := domain.ParseCategory(string(insight.Category)); err != nil {
			t.Fatalf("insight %d: category outside taxonomy: %q", i, insight.Category)
		}
		if insight.OwnerID != "owner-1" || insight.ProjectID != "p1" {
			t.Fatalf("insight %d: ownership not inherited: %+v", i, insight)
		}
		if insight.Ordinal != i {
			t.Fatalf("insight %d: expected ordinal %d, got %d", i, i, insight.Ordinal)
		}
	}

	statuses := make([]string, 0)
	for _, event := range f.events.ofType(domain.EventFileStatusChanged) {
		statuses = append(statuses, event.Status)
	}
	if strings.Join(statuses, ",") != "processing,completed" {
		t.Fatalf("unexpected status events: %v", statuses)
	}
	if created := f.events.ofType(domain.EventInsightsCreated); len(created) != 1 || created[0].Count != 3 {
		t.Fatalf("unexpected insights.created events: %+v", created)
	}
}

func TestProcessDocumentDropsParaphrasedExcerpt(t *testing.T) {
	f := newProcessFixture(t, nil, nil)
	seedFile(f.store, domain.File{ID: "f1", ProjectID: "p1"})
	f.text.text = meetingNotes
	f.model.candidates = []domain.InsightCandidate{
		validCandidate("Rents", "residents think rents will go up"),
		validCandidate("Budget", "The council approved a $4M   budget\nfor sidewalk repair."),
	}

	result, err := f.uc.ProcessByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if result.InsightsWritten != 1 || result.CandidatesDropped != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	insights := f.insightsFor(t, "f1")
	want := "The council approved a $4M budget for sidewalk repair."
	if len(insights) != 1 || insights[0].Excerpt != want {
		t.Fatalf("expected stored excerpt %q, got %+v", want, insights)
	}
}

func TestProcessDocumentStoresSourceSpanForReflowedExcerpt(t *testing.T) {
	f := newProcessFixture(t, nil, nil)
	seedFile(f.store, domain.File{ID: "f1", ProjectID: "p1"})
	f.text.text = "Seniors said the bus\n   stop is too far."
	f.model.candidates = []domain.InsightCandidate{validCandidate("Access", "the bus stop is too far")}

	if _, err := f.uc.ProcessByID(context.Background(), "f1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}

	insights := f.insightsFor(t, "f1")
	if len(insights) != 1 {
		t.Fatalf("expected one insight, got %d", len(insights))
	}
	if insights[0].Excerpt != "the bus\n   stop is too far" {
		t.Fatalf("expected the source span, got %q", insights[0].Excerpt)
	}
	if !strings.Contains(f.text.text, insights[0].Excerpt) {
		t.Fatalf("stored excerpt %q is not a substring of the source", insights[0].Excerpt)
	}
}

func TestProcessDocumentWithNoCandidatesCompletes(t *testing.T) {
	f := newProcessFixture(t, nil, nil)
	seedFile(f.store, domain.File{ID: "f1", ProjectID: "p1"})
	f.text.text = "Agenda: call to order, adjournment."

	result, err := f.uc.ProcessByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if result.Status != domain.FileStatusCompleted || result.InsightsWritten != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(f.events.ofType(domain.EventInsightsCreated)) != 0 {
		t.Fatalf("expected no insights.created event for an empty batch")
	}
}

func TestProcessEmptyDocumentSkipsModel(t *testing.T) {
	f := newProcessFixture(t, nil, nil)
	seedFile(f.store, domain.File{ID: "f1", ProjectID: "p1"})
	f.text.text = "   "

	result, err := f.uc.ProcessByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if result.Status != domain.FileStatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if f.model.calls != 0 {
		t.Fatalf("expected model not to be called, got %d calls", f.model.calls)
	}
}

func TestProcessCapsCandidatesAtTwenty(t *testing.T) {
	f := newProcessFixture(t, nil, nil)
	seedFile(f.store, domain.File{ID: "f1", ProjectID: "p1"})

	var text strings.Builder
	for i := 0; i < 35; i++ {
		excerpt := fmt.Sprintf("finding number %02d.", i)
		text.WriteString(excerpt + "\n")
		f.model.candidates = append(f.model.candidates, validCandidate(fmt.Sprintf("insight %02d", i), excerpt))
	}
	f.text.text = text.String()

	result, err := f.uc.ProcessByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if result.InsightsWritten != MaxInsightCandidates {
		t.Fatalf("expected %d insights, got %d", MaxInsightCandidates, result.InsightsWritten)
	}
	insights := f.insightsFor(t, "f1")
	for i, insight := range insights {
		if want := fmt.Sprintf("insight %02d", i); insight.Insight != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, insight.Insight)
		}
	}
}

func TestProcessIsIdempotentAcrossDuplicateTriggers(t *testing.T) {
	f := newProcessFixture(t, nil, nil)
	seedFile(f.store, domain.File{ID: "f1", ProjectID: "p1"})
	f.text.text = meetingNotes
	f.model.candidates = []domain.InsightCandidate{
		validCandidate("Rents", "will raise rents"),
		validCandidate("Budget", "sidewalk repair"),
	}

	first, err := f.uc.ProcessByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := f.uc.ProcessByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.Skipped || !second.Skipped {
		t.Fatalf("expected only the second run to be skipped: first=%+v second=%+v", first, second)
	}
	if second.Status != domain.FileStatusCompleted {
		t.Fatalf("expected skipped run to report current status completed, got %s", second.Status)
	}
	if f.model.calls != 1 {
		t.Fatalf("expected exactly one model call, got %d", f.model.calls)
	}
	if got := len(f.insightsFor(t, "f1")); got != 2 {
		t.Fatalf("expected 2 insights after duplicate trigger, got %d", got)
	}
}

func TestProcessConcurrentDuplicateTriggersFanOutOnce(t *testing.T) {
	f := newProcessFixture(t, nil, nil)
	seedFile(f.store, domain.File{ID: "f1", ProjectID: "p1"})
	f.text.text = meetingNotes
	f.model.candidates = []domain.InsightCandidate{validCandidate("Rents", "will raise rents")}

	var wg sync.WaitGroup
	var mu sync.Mutex
	skipped := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.uc.ProcessByID(context.Background(), "f1")
			if err != nil {
				t.Errorf("ProcessByID() error = %v", err)
				return
			}
			if result.Skipped {
				mu.Lock()
				skipped++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if skipped != 7 {
		t.Fatalf("expected 7 skipped runs, got %d", skipped)
	}
	if got := len(f.insightsFor(t, "f1")); got != 1 {
		t.Fatalf("expected a single fan-out, got %d insights", got)
	}
}

func TestProcessMarksFailedWhenModelFails(t *testing.T) {
	f := newProcessFixture(t, nil, nil)
	seedFile(f.store, domain.File{ID: "f1", ProjectID: "p1"})
	f.text.text = meetingNotes
	f.model.err = errors.New("model exploded")

	result, err := f.uc.ProcessByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("expected failure to be recorded, got error %v", err)
	}
	if result.Status != domain.FileStatusFailed || result.FailureReason == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.Contains(result.FailureReason, domain.ErrExtractionFailed.Error()) {
		t.Fatalf("expected extraction failure reason, got %q", result.FailureReason)
	}

	file, _ := f.store.GetFile(context.Background(), "f1")
	if file.Status != domain.FileStatusFailed || file.Error == "" {
		t.Fatalf("unexpected stored file: %+v", file)
	}
	if got := len(f.insightsFor(t, "f1")); got != 0 {
		t.Fatalf("expected no insights for failed file, got %d", got)
	}
}

func TestProcessMarksFailedOnModelTimeout(t *testing.T) {
	store := memory.NewStore()
	seedProject(store, "p1")
	seedFile(store, domain.File{ID: "f1", ProjectID: "p1"})

	model := &insightModelFake{block: true}
	events := &eventsFake{}
	uc := NewProcessFileUseCase(
		store,
		&textExtractorFake{text: meetingNotes},
		NewInsightExtractor(model, 20*time.Millisecond),
		NewInsightFanout(store, events, discardLogger(), FanoutOptions{}),
		nil,
		events,
		discardLogger(),
	)

	result, err := uc.ProcessByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if result.Status != domain.FileStatusFailed {
		t.Fatalf("expected failed status after timeout, got %s", result.Status)
	}
	insights, _ := store.ListInsights(context.Background(), "p1", domain.InsightFilter{})
	if len(insights) != 0 {
		t.Fatalf("expected no insights, got %d", len(insights))
	}
}

func TestProcessMarksFailedWhenTextExtractionFails(t *testing.T) {
	f := newProcessFixture(t, nil, nil)
	seedFile(f.store, domain.File{ID: "f1", ProjectID: "p1"})
	f.text.err = errors.New("corrupt pdf")

	result, err := f.uc.ProcessByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if result.Status != domain.FileStatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if f.model.calls != 0 {
		t.Fatalf("model must not run after text extraction failure")
	}
}

func TestProcessMarksFailedWhenFanoutCommitFails(t *testing.T) {
	store := memory.NewStore()
	failing := &failingCommitStore{Store: store, err: errors.New("disk full")}
	f := newProcessFixture(t, failing, store)
	seedFile(f.store, domain.File{ID: "f1", ProjectID: "p1"})
	f.text.text = meetingNotes
	f.model.candidates = []domain.InsightCandidate{validCandidate("Rents", "will raise rents")}

	result, err := f.uc.ProcessByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if result.Status != domain.FileStatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if !strings.Contains(result.FailureReason, domain.ErrPersistenceFailed.Error()) {
		t.Fatalf("expected persistence failure reason, got %q", result.FailureReason)
	}
	if got := len(f.insightsFor(t, "f1")); got != 0 {
		t.Fatalf("expected no insights, got %d", got)
	}
}

func TestProcessGeospatialCompletesWithoutExtraction(t *testing.T) {
	f := newProcessFixture(t, nil, nil)
	seedFile(f.store, domain.File{ID: "g1", ProjectID: "p1", Kind: domain.FileKindGeospatial, Name: "flood.geojson"})

	result, err := f.uc.ProcessByID(context.Background(), "g1")
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if result.Status != domain.FileStatusCompleted || result.Kind != domain.FileKindGeospatial {
		t.Fatalf("unexpected result: %+v", result)
	}
	if f.model.calls != 0 {
		t.Fatalf("geospatial files must not reach the insight model")
	}
}

func TestProcessGeospatialValidationFailure(t *testing.T) {
	f := newProcessFixture(t, nil, nil)
	seedFile(f.store, domain.File{ID: "g1", ProjectID: "p1", Kind: domain.FileKindGeospatial})
	f.geo.err = errors.New("not a FeatureCollection")

	result, err := f.uc.ProcessByID(context.Background(), "g1")
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if result.Status != domain.FileStatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if !strings.Contains(result.FailureReason, domain.ErrValidationFailed.Error()) {
		t.Fatalf("expected validation failure reason, got %q", result.FailureReason)
	}
}

func TestProcessSkipsTerminalFile(t *testing.T) {
	f := newProcessFixture(t, nil, nil)
	seedFile(f.store, domain.File{ID: "f1", ProjectID: "p1", Status: domain.FileStatusFailed})

	result, err := f.uc.ProcessByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if !result.Skipped || result.Status != domain.FileStatusFailed {
		t.Fatalf("expected skip for failed file, got %+v", result)
	}
	if len(f.events.events) != 0 {
		t.Fatalf("expected no events for skipped run, got %+v", f.events.events)
	}
}

func TestProcessUnknownFile(t *testing.T) {
	f := newProcessFixture(t, nil, nil)

	_, err := f.uc.ProcessByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}
