package domain

import "time"

type EventType string

const (
	EventFileStatusChanged EventType = "file.status_changed"
	EventInsightsCreated   EventType = "insights.created"
	EventInsightReviewed   EventType = "insight.reviewed"
)

// Event is a change notification for live subscribers of a project.
type Event struct {
	Type       EventType `json:"type"`
	ProjectID  string    `json:"project_id"`
	FileID     string    `json:"file_id,omitempty"`
	InsightID  string    `json:"insight_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Count      int       `json:"count,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FileUploaded is the trigger message that starts a pipeline run.
type FileUploaded struct {
	ProjectID  string    `json:"project_id"`
	FileID     string    `json:"file_id"`
	UploadedAt time.Time `json:"uploaded_at"`
}
