package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/equity-lens/internal/core/domain"
	"github.com/kirillkom/equity-lens/internal/infrastructure/resilience"
)

func newGenerateServer(t *testing.T, status int, response string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		if status != http.StatusOK {
			http.Error(w, response, status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": response})
	}))
}

func TestExtractInsightsBuildsFrameworkPrompt(t *testing.T) {
	var payload map[string]any
	server := newGenerateServer(t, http.StatusOK, `{"insights":[{"insight":"Fear of displacement","excerpt":"rents will rise","category":"Systemic Challenges"}]}`, &payload)
	defer server.Close()

	model := NewInsightModel(New(server.URL, "llama3.1:8b"))
	got, err := model.ExtractInsights(context.Background(), "Neighbors worry rents will rise.")
	if err != nil {
		t.Fatalf("ExtractInsights() error = %v", err)
	}
	if len(got) != 1 || got[0].Category != "Systemic Challenges" || got[0].Excerpt != "rents will rise" {
		t.Fatalf("unexpected candidates: %+v", got)
	}

	prompt, _ := payload["prompt"].(string)
	if !strings.Contains(prompt, "Neighbors worry rents will rise.") {
		t.Fatalf("document text missing from prompt")
	}
	for _, category := range domain.Categories {
		if !strings.Contains(prompt, string(category)) {
			t.Fatalf("category %q missing from prompt", category)
		}
	}
	if payload["format"] != "json" || payload["model"] != "llama3.1:8b" {
		t.Fatalf("unexpected request payload: %+v", payload)
	}
}

func TestParseInsightCandidatesLeavesValueChecksToCaller(t *testing.T) {
	got, err := parseInsightCandidates("Here you go:\n" + `{"insights":[{"insight":"x","excerpt":"","category":"Weather"}]}`)
	if err != nil {
		t.Fatalf("parseInsightCandidates() error = %v", err)
	}
	if len(got) != 1 || got[0].Category != "Weather" || got[0].Excerpt != "" {
		t.Fatalf("unexpected candidates: %+v", got)
	}

	empty, err := parseInsightCandidates(`{"insights":[]}`)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty result, got %+v, %v", empty, err)
	}
}

func TestParseInsightCandidatesRejectsWrongShape(t *testing.T) {
	cases := map[string]string{
		"not json":           "I could not find any insights.",
		"missing key":        `{"keyInsights":[]}`,
		"null insights":      `{"insights":null}`,
		"insights object":    `{"insights":{"insight":"x"}}`,
		"element not obj":    `{"insights":["x"]}`,
		"missing excerpt":    `{"insights":[{"insight":"x","category":"Systemic Challenges"}]}`,
		"non-string field":   `{"insights":[{"insight":"x","excerpt":3,"category":"Systemic Challenges"}]}`,
		"null element":       `{"insights":[null]}`,
		"missing category":   `{"insights":[{"insight":"x","excerpt":"y"}]}`,
		"missing insight":    `{"insights":[{"excerpt":"y","category":"Systemic Challenges"}]}`,
		"array at top level": `[{"insight":"x","excerpt":"y","category":"Systemic Challenges"}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parseInsightCandidates(raw); err == nil {
				t.Fatalf("expected structural error for %s", raw)
			}
		})
	}
}

func TestExtractInsightsReportsExtractionFailure(t *testing.T) {
	server := newGenerateServer(t, http.StatusOK, `{"answer":"none"}`, nil)
	defer server.Close()

	_, err := NewInsightModel(New(server.URL, "gen")).ExtractInsights(context.Background(), "text")
	if !domain.IsKind(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
}

func TestGenerateIncludesHTTPBodyInError(t *testing.T) {
	server := newGenerateServer(t, http.StatusNotFound, "model not found", nil)
	defer server.Close()

	_, err := NewInsightModel(New(server.URL, "gen")).ExtractInsights(context.Background(), "text")
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("404 must not be classified as temporary: %v", err)
	}
}

func TestGenerateRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"response": `{"summary":"s","keyRisks":["r"],"recommendations":["m"]}`,
		})
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		BreakerEnabled:      false,
	})
	client := NewWithOptions(server.URL, "gen", Options{ResilienceExecutor: executor})

	report, err := NewRiskModel(client).AnalyzeEquityRisk(context.Background(), "policy", "q", "g")
	if err != nil {
		t.Fatalf("AnalyzeEquityRisk() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if report.Summary != "s" || len(report.KeyRisks) != 1 || len(report.Recommendations) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestAnalyzeEquityRiskBuildsPromptAndWrapsFailures(t *testing.T) {
	var payload map[string]any
	server := newGenerateServer(t, http.StatusOK, "no json here", &payload)
	defer server.Close()

	_, err := NewRiskModel(New(server.URL, "gen")).AnalyzeEquityRisk(
		context.Background(),
		"Rezone the corridor",
		domain.NoQualitativeContext,
		"- flood_zones.geojson",
	)
	if !domain.IsKind(err, domain.ErrAnalysisUnavailable) {
		t.Fatalf("expected ErrAnalysisUnavailable, got %v", err)
	}
	prompt, _ := payload["prompt"].(string)
	for _, want := range []string{"Rezone the corridor", domain.NoQualitativeContext, "- flood_zones.geojson", "keyRisks"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestStatusErrorPrefersOllamaErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"model is loading"}`))
	}))
	defer server.Close()

	_, err := NewRiskModel(New(server.URL, "gen")).AnalyzeEquityRisk(context.Background(), "p", "q", "g")
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected HTTPStatusError, got %v", err)
	}
	if statusErr.Message != "model is loading" || !statusErr.Busy() {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
}

func TestClassifyOllamaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want resilience.ErrorClassification
	}{
		{name: "canceled", err: context.Canceled, want: resilience.Ignored},
		{name: "busy", err: &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, want: resilience.Transient},
		{name: "missing model", err: &HTTPStatusError{StatusCode: http.StatusNotFound}, want: resilience.Ignored},
		{name: "truncated json", err: fmt.Errorf("decode: %w", &json.SyntaxError{}), want: resilience.Malformed},
		{name: "unknown", err: errors.New("boom"), want: resilience.Permanent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyOllamaError(tc.err); got != tc.want {
				t.Fatalf("classifyOllamaError(%v) = %+v, want %+v", tc.err, got, tc.want)
			}
		})
	}
}
