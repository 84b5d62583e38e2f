package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Category string

const (
	CategoryPerceptions   Category = "Perceptions & Mental Models"
	CategoryRelationships Category = "Relationships & Power Dynamics"
	CategoryPolicies      Category = "Policies, Practices, & Investments"
	CategorySystemic      Category = "Systemic Challenges"
)

// Categories lists the framework taxonomy in prompt order.
var Categories = []Category{
	CategoryPerceptions,
	CategoryRelationships,
	CategoryPolicies,
	CategorySystemic,
}

func ParseCategory(raw string) (Category, error) {
	switch Category(strings.TrimSpace(raw)) {
	case CategoryPerceptions:
		return CategoryPerceptions, nil
	case CategoryRelationships:
		return CategoryRelationships, nil
	case CategoryPolicies:
		return CategoryPolicies, nil
	case CategorySystemic:
		return CategorySystemic, nil
	default:
		return "", WrapError(ErrValidationFailed, "parse category", fmt.Errorf("unknown category %q", raw))
	}
}

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewAccepted ReviewStatus = "accepted"
	ReviewRejected ReviewStatus = "rejected"
)

func ParseReviewStatus(raw string) (ReviewStatus, error) {
	switch ReviewStatus(strings.TrimSpace(raw)) {
	case ReviewPending:
		return ReviewPending, nil
	case ReviewAccepted:
		return ReviewAccepted, nil
	case ReviewRejected:
		return ReviewRejected, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse review status", fmt.Errorf("unknown status %q", raw))
	}
}

func (s ReviewStatus) IsTerminal() bool {
	return s == ReviewAccepted || s == ReviewRejected
}

// InsightCandidate is one unvalidated finding returned by the model.
type InsightCandidate struct {
	Insight  string `json:"insight"`
	Excerpt  string `json:"excerpt"`
	Category string `json:"category"`
}

// Validate checks the candidate against the schema and returns its parsed category.
func (c InsightCandidate) Validate() (Category, error) {
	if strings.TrimSpace(c.Excerpt) == "" {
		return "", WrapError(ErrValidationFailed, "validate candidate", errors.New("empty excerpt"))
	}
	if strings.TrimSpace(c.Insight) == "" {
		return "", WrapError(ErrValidationFailed, "validate candidate", errors.New("empty insight"))
	}
	return ParseCategory(c.Category)
}

type Insight struct {
	ID         string       `json:"id"`
	ProjectID  string       `json:"project_id"`
	FileID     string       `json:"file_id"`
	OwnerID    string       `json:"owner_id"`
	Excerpt    string       `json:"excerpt"`
	Insight    string       `json:"insight"`
	Category   Category     `json:"category"`
	Status     ReviewStatus `json:"status"`
	Ordinal    int          `json:"ordinal"`
	CreatedAt  time.Time    `json:"created_at"`
	ReviewedBy string       `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time   `json:"reviewed_at,omitempty"`
}

type InsightFilter struct {
	Status ReviewStatus
	FileID string
}

// ReviewUpdate is a conditional status write: it applies only while the
// insight is in one of the From statuses.
type ReviewUpdate struct {
	ProjectID  string
	InsightID  string
	From       []ReviewStatus
	To         ReviewStatus
	ReviewerID string
	ReviewedAt time.Time
}
