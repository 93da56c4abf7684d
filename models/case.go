package models

import (
	"time"
)

// CaseMetadata is the denormalised per-case summary row
type CaseMetadata struct {
	CaseID           string    `gorm:"primaryKey" json:"case_id"`
	Title            string    `json:"title"`
	ProjectID        string    `gorm:"index" json:"project_id"`
	Status           string    `gorm:"index" json:"status"`
	CombinedResponse string    `json:"combined_response"`
	RequiresRevision bool      `json:"requires_revision"`
	Version          int       `json:"version"`
	LastEventAt      time.Time `json:"last_event_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName pins the table name
func (CaseMetadata) TableName() string {
	return "case_metadata"
}

// ProcessedTrigger records an inbound trigger that has already been handled
type ProcessedTrigger struct {
	TriggerID string    `gorm:"primaryKey" json:"trigger_id"`
	CaseID    string    `gorm:"index" json:"case_id"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// All returns every model managed by migrations
func All() []interface{} {
	return []interface{}{
		&Event{},
		&CaseMetadata{},
		&ProcessedTrigger{},
	}
}
