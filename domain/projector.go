package domain

import (
	"fmt"
	"strings"
	"time"
)

// handler folds one event into the working state. It only touches the
// fields carried by the event's payload.
type handler func(s *SakState, e Event) error

// handlers maps every known event type to its fold. Event types missing
// here are skipped by the projector.
var handlers = map[EventType]handler{
	CaseCreated:           applyCaseCreated,
	GroundsSubmitted:      applyGroundsSubmitted,
	GroundsRevised:        applyGroundsRevised,
	GroundsWithdrawn:      applyGroundsWithdrawn,
	CompensationClaimed:   applyCompensationClaimed,
	CompensationRevised:   applyCompensationRevised,
	CompensationWithdrawn: applyCompensationWithdrawn,
	DeadlineClaimed:       applyDeadlineClaimed,
	DeadlineRevised:       applyDeadlineRevised,
	DeadlineWithdrawn:     applyDeadlineWithdrawn,
	CounterpartyResponded: applyCounterpartyResponded,
	ChangeOrderIssued:     applyChangeOrderIssued,
	AccelerationNotified:  applyAccelerationNotified,
}

// ComputeState replays events into a SakState. Events must be ordered by
// position starting at 1. The function has no side effects: the same
// events always give the same state.
func ComputeState(events []Event) (SakState, error) {
	state := SakState{
		Status:  StatusDraft,
		History: []HistoryEntry{},
	}

	for _, e := range events {
		if err := apply(&state, e); err != nil {
			return SakState{}, err
		}
	}

	derive(&state)
	return state, nil
}

// apply folds a single event and advances the version
func apply(s *SakState, e Event) error {
	if e.Position != s.Version+1 {
		return &CorruptionError{
			CaseID:   e.CaseID,
			Position: e.Position,
			Type:     e.Type,
			Err:      fmt.Errorf("expected position %d", s.Version+1),
		}
	}
	if s.CaseID == "" {
		s.CaseID = e.CaseID
	} else if e.CaseID != s.CaseID {
		return &CorruptionError{
			CaseID:   s.CaseID,
			Position: e.Position,
			Type:     e.Type,
			Err:      fmt.Errorf("event belongs to case %s", e.CaseID),
		}
	}

	if h, ok := handlers[e.Type]; ok {
		if err := h(s, e); err != nil {
			return &CorruptionError{CaseID: e.CaseID, Position: e.Position, Type: e.Type, Err: err}
		}
	}

	s.Version = e.Position
	s.LastEventAt = e.Timestamp
	return nil
}

func payloadMismatch(e Event) error {
	return fmt.Errorf("payload %T does not match event type", e.Payload)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func (s *SakState) record(e Event, category HistoryCategory, revision int, summary string) {
	s.History = append(s.History, HistoryEntry{
		Position:  e.Position,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		EventType: e.Type,
		Category:  category,
		Revision:  revision,
		Summary:   summary,
	})
}

func applyCaseCreated(s *SakState, e Event) error {
	p, ok := e.Payload.(CaseCreatedEvent)
	if !ok {
		return payloadMismatch(e)
	}
	s.Title = p.Title
	if p.ProjectID != "" {
		s.ProjectID = p.ProjectID
	}
	if p.ExternalRef != "" {
		s.ExternalRef = p.ExternalRef
	}
	if p.Description != "" {
		s.Description = p.Description
	}
	s.CreatedBy = e.Actor
	s.CreatedAt = e.Timestamp
	s.record(e, HistoryCase, 0, "case created: "+p.Title)
	return nil
}

func applyGroundsSubmitted(s *SakState, e Event) error {
	p, ok := e.Payload.(GroundsSubmittedEvent)
	if !ok {
		return payloadMismatch(e)
	}
	g := &s.Grounds
	g.Status = TrackSubmitted
	g.Category = p.Category
	if p.Subcategory != "" {
		g.Subcategory = p.Subcategory
	}
	g.Description = p.Description
	g.DiscoveredOn = timePtr(p.DiscoveredOn)
	if p.NotifiedOn != nil {
		g.NotifiedOn = timePtr(*p.NotifiedOn)
	} else {
		g.NotifiedOn = timePtr(e.Timestamp)
	}
	g.SubmittedAt = timePtr(e.Timestamp)
	s.record(e, HistoryGrounds, g.Revision, "grounds submitted: "+p.Category)
	return nil
}

func applyGroundsRevised(s *SakState, e Event) error {
	p, ok := e.Payload.(GroundsRevisedEvent)
	if !ok {
		return payloadMismatch(e)
	}
	g := &s.Grounds
	g.Revision++
	g.Status = TrackRevised
	if p.Category != nil {
		g.Category = *p.Category
	}
	if p.Subcategory != nil {
		g.Subcategory = *p.Subcategory
	}
	if p.Description != nil {
		g.Description = *p.Description
	}
	if p.DiscoveredOn != nil {
		g.DiscoveredOn = timePtr(*p.DiscoveredOn)
	}
	g.SubmittedAt = timePtr(e.Timestamp)
	s.Revision++
	s.record(e, HistoryGrounds, g.Revision, fmt.Sprintf("grounds revised (revision %d)", g.Revision))
	return nil
}

func applyGroundsWithdrawn(s *SakState, e Event) error {
	p, ok := e.Payload.(GroundsWithdrawnEvent)
	if !ok {
		return payloadMismatch(e)
	}
	s.Grounds.Status = TrackWithdrawn
	s.record(e, HistoryGrounds, s.Grounds.Revision, withReason("grounds withdrawn", p.Reason))
	return nil
}

func applyCompensationClaimed(s *SakState, e Event) error {
	p, ok := e.Payload.(CompensationClaimedEvent)
	if !ok {
		return payloadMismatch(e)
	}
	c := &s.Compensation
	c.Status = TrackSubmitted
	c.ClaimedAmount = p.Amount
	c.Method = p.Method
	if p.Description != "" {
		c.Description = p.Description
	}
	c.SubmittedAt = timePtr(e.Timestamp)
	s.record(e, HistoryCompensation, c.Revision, fmt.Sprintf("compensation claimed: %d (%s)", p.Amount, p.Method))
	return nil
}

func applyCompensationRevised(s *SakState, e Event) error {
	p, ok := e.Payload.(CompensationRevisedEvent)
	if !ok {
		return payloadMismatch(e)
	}
	c := &s.Compensation
	c.Revision++
	c.Status = TrackRevised
	if p.Amount != nil {
		c.ClaimedAmount = *p.Amount
	}
	if p.Method != nil {
		c.Method = *p.Method
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	c.SubmittedAt = timePtr(e.Timestamp)
	s.Revision++
	s.record(e, HistoryCompensation, c.Revision,
		fmt.Sprintf("compensation revised (revision %d): %d (%s)", c.Revision, c.ClaimedAmount, c.Method))
	return nil
}

func applyCompensationWithdrawn(s *SakState, e Event) error {
	p, ok := e.Payload.(CompensationWithdrawnEvent)
	if !ok {
		return payloadMismatch(e)
	}
	s.Compensation.Status = TrackWithdrawn
	s.record(e, HistoryCompensation, s.Compensation.Revision, withReason("compensation withdrawn", p.Reason))
	return nil
}

func applyDeadlineClaimed(s *SakState, e Event) error {
	p, ok := e.Payload.(DeadlineClaimedEvent)
	if !ok {
		return payloadMismatch(e)
	}
	d := &s.Deadline
	d.Status = TrackSubmitted
	d.ClaimedDays = p.Days
	if p.Description != "" {
		d.Description = p.Description
	}
	d.SubmittedAt = timePtr(e.Timestamp)
	s.record(e, HistoryDeadline, d.Revision, fmt.Sprintf("deadline extension claimed: %d days", p.Days))
	return nil
}

func applyDeadlineRevised(s *SakState, e Event) error {
	p, ok := e.Payload.(DeadlineRevisedEvent)
	if !ok {
		return payloadMismatch(e)
	}
	d := &s.Deadline
	d.Revision++
	d.Status = TrackRevised
	if p.Days != nil {
		d.ClaimedDays = *p.Days
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	d.SubmittedAt = timePtr(e.Timestamp)
	s.Revision++
	s.record(e, HistoryDeadline, d.Revision,
		fmt.Sprintf("deadline revised (revision %d): %d days", d.Revision, d.ClaimedDays))
	return nil
}

func applyDeadlineWithdrawn(s *SakState, e Event) error {
	p, ok := e.Payload.(DeadlineWithdrawnEvent)
	if !ok {
		return payloadMismatch(e)
	}
	s.Deadline.Status = TrackWithdrawn
	s.record(e, HistoryDeadline, s.Deadline.Revision, withReason("deadline withdrawn", p.Reason))
	return nil
}

func applyCounterpartyResponded(s *SakState, e Event) error {
	p, ok := e.Payload.(CounterpartyRespondedEvent)
	if !ok {
		return payloadMismatch(e)
	}

	var parts []string
	if r := p.Grounds; r != nil {
		respond(&s.Grounds.TrackState, r.Result, r.Reason, e.Timestamp)
		parts = append(parts, "grounds "+string(r.Result))
	}
	if r := p.Compensation; r != nil {
		respond(&s.Compensation.TrackState, r.Result, r.Reason, e.Timestamp)
		if r.ApprovedAmount != nil {
			amount := *r.ApprovedAmount
			s.Compensation.ApprovedAmount = &amount
			parts = append(parts, fmt.Sprintf("compensation %s (%d)", r.Result, amount))
		} else {
			parts = append(parts, "compensation "+string(r.Result))
		}
	}
	if r := p.Deadline; r != nil {
		respond(&s.Deadline.TrackState, r.Result, r.Reason, e.Timestamp)
		if r.ApprovedDays != nil {
			days := *r.ApprovedDays
			s.Deadline.ApprovedDays = &days
			parts = append(parts, fmt.Sprintf("deadline %s (%d days)", r.Result, days))
		} else {
			parts = append(parts, "deadline "+string(r.Result))
		}
	}

	s.record(e, HistoryResponse, s.Revision, "counterparty response: "+strings.Join(parts, ", "))
	return nil
}

func respond(t *TrackState, result ResponseCode, reason string, at time.Time) {
	t.Status = TrackResponded
	t.Response = result
	t.RespondedRevision = t.Revision
	if reason != "" {
		t.ResponseReason = reason
	}
	t.RespondedAt = timePtr(at)
}

func applyChangeOrderIssued(s *SakState, e Event) error {
	p, ok := e.Payload.(ChangeOrderIssuedEvent)
	if !ok {
		return payloadMismatch(e)
	}
	co := &ChangeOrder{
		Number:      p.Number,
		Description: p.Description,
		IssuedAt:    e.Timestamp,
	}
	if p.Amount != nil {
		amount := *p.Amount
		co.Amount = &amount
	}
	if p.Days != nil {
		days := *p.Days
		co.Days = &days
	}
	s.ChangeOrder = co
	s.record(e, HistoryChangeOrder, s.Revision, "change order issued: "+p.Number)
	return nil
}

func applyAccelerationNotified(s *SakState, e Event) error {
	p, ok := e.Payload.(AccelerationNotifiedEvent)
	if !ok {
		return payloadMismatch(e)
	}
	s.Acceleration = &Acceleration{
		EstimatedCost: p.EstimatedCost,
		Reason:        p.Reason,
		NotifiedAt:    e.Timestamp,
	}
	s.record(e, HistoryAcceleration, s.Deadline.Revision,
		fmt.Sprintf("acceleration notified: estimated cost %d", p.EstimatedCost))
	return nil
}

func withReason(msg, reason string) string {
	if reason == "" {
		return msg
	}
	return msg + ": " + reason
}

// derive computes the composite fields once all events are folded
func derive(s *SakState) {
	comp := s.Compensation.CurrentResponse()
	dl := s.Deadline.CurrentResponse()
	s.CombinedResponse = CombineResponses(comp, dl)
	s.RequiresRevision = RequiresRevision(comp, dl)
	s.Status = deriveStatus(s)
}

// deriveStatus infers the workflow status. Rules are checked in order and
// the first match wins.
func deriveStatus(s *SakState) CaseStatus {
	claims := []TrackState{s.Compensation.TrackState, s.Deadline.TrackState}

	active, pending, answered := 0, 0, 0
	for _, t := range claims {
		if !t.Active() {
			continue
		}
		active++
		if t.Pending() {
			pending++
		} else {
			answered++
		}
	}

	switch {
	case s.Grounds.Status == TrackWithdrawn || (s.HasClaims() && active == 0):
		return StatusWithdrawn
	case s.ChangeOrder != nil:
		return StatusResolved
	case s.Acceleration != nil || s.Grounds.CurrentResponse().Rejected():
		return StatusDisputed
	case s.Grounds.Status == TrackNotStarted && !s.HasClaims():
		return StatusDraft
	case active == 0:
		return StatusNotified
	case pending > 0 && answered > 0:
		return StatusAwaitingResponse
	case pending > 0:
		return StatusClaimSubmitted
	case s.RequiresRevision:
		return StatusRequiresRevision
	case s.CombinedResponse == CombinedRequiresClarification:
		return StatusAwaitingResponse
	default:
		return StatusResolved
	}
}
