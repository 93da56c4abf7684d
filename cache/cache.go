package cache

import (
	"context"
	"time"

	"example.com/backstage/services/changeorder/domain"
)

// CaseMetadata is the summary of a case kept for listing. It is advisory:
// the event log stays the source of truth and any entry can be rebuilt by
// replaying the case.
type CaseMetadata struct {
	CaseID           string                `json:"case_id"`
	Title            string                `json:"title"`
	ProjectID        string                `json:"project_id,omitempty"`
	Status           domain.CaseStatus     `json:"status"`
	CombinedResponse domain.CombinedStatus `json:"combined_response,omitempty"`
	RequiresRevision bool                  `json:"requires_revision"`
	Version          int                   `json:"version"`
	LastEventAt      time.Time             `json:"last_event_at"`
}

// FromState builds the metadata entry for a projected case
func FromState(s domain.SakState) CaseMetadata {
	return CaseMetadata{
		CaseID:           s.CaseID,
		Title:            s.Title,
		ProjectID:        s.ProjectID,
		Status:           s.Status,
		CombinedResponse: s.CombinedResponse,
		RequiresRevision: s.RequiresRevision,
		Version:          s.Version,
		LastEventAt:      s.LastEventAt,
	}
}

// MetadataCache stores one CaseMetadata per case.
//
// Update never replaces an entry with one of a lower version, so a slow
// writer cannot roll a summary back.
type MetadataCache interface {
	Update(ctx context.Context, meta CaseMetadata) error
	// Get returns nil and no error when the case has no entry
	Get(ctx context.Context, caseID string) (*CaseMetadata, error)
	ListAll(ctx context.Context) ([]CaseMetadata, error)
}
