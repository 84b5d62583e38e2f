package ollama

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

// RiskModel runs the equity-risk assessment prompt.
type RiskModel struct {
	client *Client
}

func NewRiskModel(client *Client) *RiskModel {
	return &RiskModel{client: client}
}

func (m *RiskModel) AnalyzeEquityRisk(
	ctx context.Context,
	policyText, qualitativeContext, geospatialContext string,
) (*domain.EquityRiskReport, error) {
	respText, err := m.client.generateJSON(ctx, "equity_risk", buildEquityRiskPrompt(policyText, qualitativeContext, geospatialContext))
	if err != nil {
		return nil, domain.WrapError(domain.ErrAnalysisUnavailable, "generate equity risk", err)
	}

	var result struct {
		Summary         string   `json:"summary"`
		KeyRisks        []string `json:"keyRisks"`
		Recommendations []string `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &result); err != nil {
		return nil, domain.WrapError(domain.ErrAnalysisUnavailable, "parse equity risk", fmt.Errorf("decode: %w", err))
	}
	return &domain.EquityRiskReport{
		Summary:         result.Summary,
		KeyRisks:        result.KeyRisks,
		Recommendations: result.Recommendations,
	}, nil
}
