package domain

import "time"

const (
	NoQualitativeContext = "No qualitative insights have been accepted for this project yet."
	NoGeospatialContext  = "No geospatial data has been uploaded for this project yet."
)

// AcceptedInsight is the projection of an accepted insight fed to risk analysis.
type AcceptedInsight struct {
	InsightID string    `json:"insight_id"`
	FileID    string    `json:"file_id"`
	Insight   string    `json:"insight"`
	Excerpt   string    `json:"excerpt"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// EquityRiskContext is assembled per request and never persisted.
type EquityRiskContext struct {
	ProjectID        string            `json:"project_id"`
	Insights         []AcceptedInsight `json:"insights"`
	GeospatialLayers []string          `json:"geospatial_layers"`
	QualitativeBlock string            `json:"qualitative_block"`
	GeospatialBlock  string            `json:"geospatial_block"`
}

type EquityRiskReport struct {
	ProjectID       string   `json:"project_id"`
	Summary         string   `json:"summary"`
	KeyRisks        []string `json:"key_risks"`
	Recommendations []string `json:"recommendations"`
	InsightsUsed    int      `json:"insights_used"`
	LayersUsed      int      `json:"layers_used"`
}

// IsEmpty reports whether the model returned nothing usable.
func (r *EquityRiskReport) IsEmpty() bool {
	return r == nil || (r.Summary == "" && len(r.KeyRisks) == 0 && len(r.Recommendations) == 0)
}
