package models

import (
	"time"
)

// Event represents a stored case event in the database.
//
// (case_id, position) is unique: two writers racing for the same position
// cannot both commit.
type Event struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CaseID    string    `gorm:"not null;uniqueIndex:idx_events_case_position,priority:1" json:"case_id"`
	Position  int       `gorm:"not null;uniqueIndex:idx_events_case_position,priority:2" json:"position"`
	EventType string    `gorm:"not null" json:"event_type"`
	Payload   []byte    `gorm:"type:jsonb;not null" json:"payload"`
	Actor     *string   `json:"actor"`
	Timestamp time.Time `gorm:"not null" json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     *string   `json:"error"`
	Processed bool      `gorm:"index" json:"processed"`
}

// TableName pins the table name
func (Event) TableName() string {
	return "events"
}
