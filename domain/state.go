package domain

import (
	"time"
)

// CaseStatus is the coarse workflow status of a case. It is never stored;
// the projector infers it from the events that have occurred.
type CaseStatus string

const (
	StatusDraft            CaseStatus = "DRAFT"
	StatusNotified         CaseStatus = "NOTIFIED"
	StatusClaimSubmitted   CaseStatus = "CLAIM_SUBMITTED"
	StatusAwaitingResponse CaseStatus = "AWAITING_RESPONSE"
	StatusRequiresRevision CaseStatus = "REQUIRES_REVISION"
	StatusResolved         CaseStatus = "RESOLVED"
	StatusDisputed         CaseStatus = "DISPUTED"
	StatusWithdrawn        CaseStatus = "WITHDRAWN"
)

// Closed reports whether no further claims or responses are accepted
func (s CaseStatus) Closed() bool {
	return s == StatusResolved || s == StatusWithdrawn
}

// TrackStatus is the status of one sub-track (grounds, compensation, deadline)
type TrackStatus string

const (
	TrackNotStarted TrackStatus = ""
	TrackSubmitted  TrackStatus = "submitted"
	TrackRevised    TrackStatus = "revised"
	TrackResponded  TrackStatus = "responded"
	TrackWithdrawn  TrackStatus = "withdrawn"
)

// TrackState holds what all tracks have in common
type TrackState struct {
	Status            TrackStatus  `json:"status"`
	Revision          int          `json:"revision"`
	Response          ResponseCode `json:"response,omitempty"`
	ResponseReason    string       `json:"response_reason,omitempty"`
	RespondedRevision int          `json:"responded_revision"`
	SubmittedAt       *time.Time   `json:"submitted_at,omitempty"`
	RespondedAt       *time.Time   `json:"responded_at,omitempty"`
}

// Active reports whether the track has a claim that is not withdrawn
func (t TrackState) Active() bool {
	return t.Status != TrackNotStarted && t.Status != TrackWithdrawn
}

// CurrentResponse returns the response if it answers the latest revision of
// the claim, and ResponseNone otherwise
func (t TrackState) CurrentResponse() ResponseCode {
	if !t.Active() || t.Response == ResponseNone || t.RespondedRevision != t.Revision {
		return ResponseNone
	}
	return t.Response
}

// Pending reports whether the track is waiting for the counterparty
func (t TrackState) Pending() bool {
	return t.Active() && t.CurrentResponse() == ResponseNone
}

// GroundsTrack is the state of the grounds (grunnlag) track
type GroundsTrack struct {
	TrackState
	Category     string     `json:"category,omitempty"`
	Subcategory  string     `json:"subcategory,omitempty"`
	Description  string     `json:"description,omitempty"`
	DiscoveredOn *time.Time `json:"discovered_on,omitempty"`
	NotifiedOn   *time.Time `json:"notified_on,omitempty"`
}

// CompensationTrack is the state of the compensation (vederlag) track
type CompensationTrack struct {
	TrackState
	ClaimedAmount  int64              `json:"claimed_amount"`
	Method         CompensationMethod `json:"method,omitempty"`
	Description    string             `json:"description,omitempty"`
	ApprovedAmount *int64             `json:"approved_amount,omitempty"`
}

// DeadlineTrack is the state of the deadline (frist) track
type DeadlineTrack struct {
	TrackState
	ClaimedDays  int    `json:"claimed_days"`
	Description  string `json:"description,omitempty"`
	ApprovedDays *int   `json:"approved_days,omitempty"`
}

// ChangeOrder is a change order issued by the counterparty
type ChangeOrder struct {
	Number      string    `json:"number"`
	Amount      *int64    `json:"amount,omitempty"`
	Days        *int      `json:"days,omitempty"`
	Description string    `json:"description,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Acceleration is an acceleration notice from the claimant
type Acceleration struct {
	EstimatedCost int64     `json:"estimated_cost"`
	Reason        string    `json:"reason,omitempty"`
	NotifiedAt    time.Time `json:"notified_at"`
}

// HistoryCategory groups history entries by the track they concern
type HistoryCategory string

const (
	HistoryCase         HistoryCategory = "case"
	HistoryGrounds      HistoryCategory = "grounds"
	HistoryCompensation HistoryCategory = "compensation"
	HistoryDeadline     HistoryCategory = "deadline"
	HistoryResponse     HistoryCategory = "response"
	HistoryChangeOrder  HistoryCategory = "change-order"
	HistoryAcceleration HistoryCategory = "acceleration"
)

// HistoryEntry is a structured line in the case history
type HistoryEntry struct {
	Position  int             `json:"position"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     string          `json:"actor,omitempty"`
	EventType EventType       `json:"event_type"`
	Category  HistoryCategory `json:"category"`
	Revision  int             `json:"revision"`
	Summary   string          `json:"summary"`
}

// SakState is the current state of a case, derived by replaying its events.
// It is never the source of truth.
type SakState struct {
	CaseID      string    `json:"case_id"`
	Title       string    `json:"title"`
	ProjectID   string    `json:"project_id,omitempty"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastEventAt time.Time `json:"last_event_at"`
	Version     int       `json:"version"`

	Status           CaseStatus     `json:"status"`
	CombinedResponse CombinedStatus `json:"combined_response,omitempty"`
	RequiresRevision bool           `json:"requires_revision"`
	Revision         int            `json:"revision"`

	Grounds      GroundsTrack      `json:"grounds"`
	Compensation CompensationTrack `json:"compensation"`
	Deadline     DeadlineTrack     `json:"deadline"`
	ChangeOrder  *ChangeOrder      `json:"change_order,omitempty"`
	Acceleration *Acceleration     `json:"acceleration,omitempty"`

	History []HistoryEntry `json:"history"`
}

// HistoryFor returns the history entries of one category, in order
func (s SakState) HistoryFor(category HistoryCategory) []HistoryEntry {
	var out []HistoryEntry
	for _, h := range s.History {
		if h.Category == category {
			out = append(out, h)
		}
	}
	return out
}

// HasClaims reports whether a compensation or deadline claim has been made
func (s SakState) HasClaims() bool {
	return s.Compensation.Status != TrackNotStarted || s.Deadline.Status != TrackNotStarted
}
