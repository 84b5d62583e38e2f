package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

// InsightModel asks the generation model for framework insights.
type InsightModel struct {
	client *Client
}

func NewInsightModel(client *Client) *InsightModel {
	return &InsightModel{client: client}
}

func (m *InsightModel) ExtractInsights(ctx context.Context, documentText string) ([]domain.InsightCandidate, error) {
	respText, err := m.client.generateJSON(ctx, "extract_insights", buildInsightPrompt(documentText))
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtractionFailed, "generate insights", err)
	}
	candidates, err := parseInsightCandidates(respText)
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtractionFailed, "parse insights", err)
	}
	return candidates, nil
}

// parseInsightCandidates checks the response shape only. Values that are
// present but empty or off-taxonomy are left for per-candidate validation.
func parseInsightCandidates(raw string) ([]domain.InsightCandidate, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &envelope); err != nil {
		return nil, fmt.Errorf("decode response object: %w", err)
	}
	rawItems, ok := envelope["insights"]
	if !ok {
		return nil, errors.New(`missing "insights" key`)
	}
	if bytes.Equal(bytes.TrimSpace(rawItems), []byte("null")) {
		return nil, errors.New(`"insights" is null`)
	}

	var items []map[string]json.RawMessage
	if err := json.Unmarshal(rawItems, &items); err != nil {
		return nil, fmt.Errorf(`"insights" is not an array of objects: %w`, err)
	}

	out := make([]domain.InsightCandidate, 0, len(items))
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("insight %d is not an object", i)
		}
		var candidate domain.InsightCandidate
		fields := []struct {
			key string
			dst *string
		}{
			{key: "insight", dst: &candidate.Insight},
			{key: "excerpt", dst: &candidate.Excerpt},
			{key: "category", dst: &candidate.Category},
		}
		for _, field := range fields {
			value, present := item[field.key]
			if !present {
				return nil, fmt.Errorf("insight %d: missing %q", i, field.key)
			}
			if err := json.Unmarshal(value, field.dst); err != nil {
				return nil, fmt.Errorf("insight %d: %q is not a string", i, field.key)
			}
		}
		out = append(out, candidate)
	}
	return out, nil
}
