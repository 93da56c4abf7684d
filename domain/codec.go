package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// payloadFactories maps each event type to a constructor used when decoding
var payloadFactories = map[EventType]func() Payload{
	CaseCreated:           func() Payload { return &CaseCreatedEvent{} },
	GroundsSubmitted:      func() Payload { return &GroundsSubmittedEvent{} },
	GroundsRevised:        func() Payload { return &GroundsRevisedEvent{} },
	GroundsWithdrawn:      func() Payload { return &GroundsWithdrawnEvent{} },
	CompensationClaimed:   func() Payload { return &CompensationClaimedEvent{} },
	CompensationRevised:   func() Payload { return &CompensationRevisedEvent{} },
	CompensationWithdrawn: func() Payload { return &CompensationWithdrawnEvent{} },
	DeadlineClaimed:       func() Payload { return &DeadlineClaimedEvent{} },
	DeadlineRevised:       func() Payload { return &DeadlineRevisedEvent{} },
	DeadlineWithdrawn:     func() Payload { return &DeadlineWithdrawnEvent{} },
	CounterpartyResponded: func() Payload { return &CounterpartyRespondedEvent{} },
	ChangeOrderIssued:     func() Payload { return &ChangeOrderIssuedEvent{} },
	AccelerationNotified:  func() Payload { return &AccelerationNotifiedEvent{} },
}

// EncodePayload marshals a payload for storage
func EncodePayload(p Payload) ([]byte, error) {
	if u, ok := p.(UnknownPayload); ok {
		return u.Raw, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.EventType(), err)
	}
	return data, nil
}

// DecodePayload unmarshals a stored payload. Unknown event types decode to
// UnknownPayload; a known type that fails to decode is an error.
func DecodePayload(t EventType, data []byte) (Payload, error) {
	factory, ok := payloadFactories[t]
	if !ok {
		raw := make([]byte, len(data))
		copy(raw, data)
		return UnknownPayload{Type: t, Raw: raw}, nil
	}

	ptr := factory()
	if err := json.Unmarshal(data, ptr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", t, err)
	}
	// Handlers match on value types
	switch p := ptr.(type) {
	case *CaseCreatedEvent:
		return *p, nil
	case *GroundsSubmittedEvent:
		return *p, nil
	case *GroundsRevisedEvent:
		return *p, nil
	case *GroundsWithdrawnEvent:
		return *p, nil
	case *CompensationClaimedEvent:
		return *p, nil
	case *CompensationRevisedEvent:
		return *p, nil
	case *CompensationWithdrawnEvent:
		return *p, nil
	case *DeadlineClaimedEvent:
		return *p, nil
	case *DeadlineRevisedEvent:
		return *p, nil
	case *DeadlineWithdrawnEvent:
		return *p, nil
	case *CounterpartyRespondedEvent:
		return *p, nil
	case *ChangeOrderIssuedEvent:
		return *p, nil
	case *AccelerationNotifiedEvent:
		return *p, nil
	}
	return nil, fmt.Errorf("no value form for %T", ptr)
}

// eventRecord is the persisted shape of an event
type eventRecord struct {
	CaseID    string          `json:"case_id"`
	Position  int             `json:"position"`
	Type      EventType       `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Actor     *string         `json:"actor"`
}

// MarshalJSON writes the event in its backend-agnostic record shape
func (e Event) MarshalJSON() ([]byte, error) {
	rec := eventRecord{
		CaseID:    e.CaseID,
		Position:  e.Position,
		Type:      e.Type,
		Timestamp: e.Timestamp.UTC(),
	}
	if e.Actor != "" {
		actor := e.Actor
		rec.Actor = &actor
	}
	if e.Payload != nil {
		data, err := EncodePayload(e.Payload)
		if err != nil {
			return nil, err
		}
		rec.Payload = data
	} else {
		rec.Payload = json.RawMessage("null")
	}
	return json.Marshal(rec)
}

// UnmarshalJSON reads an event record. A payload that does not decode for
// its declared type yields a CorruptionError.
func (e *Event) UnmarshalJSON(data []byte) error {
	var rec eventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	payload, err := DecodePayload(rec.Type, rec.Payload)
	if err != nil {
		return &CorruptionError{CaseID: rec.CaseID, Position: rec.Position, Type: rec.Type, Err: err}
	}
	*e = Event{
		CaseID:    rec.CaseID,
		Type:      rec.Type,
		Position:  rec.Position,
		Timestamp: rec.Timestamp.UTC(),
		Payload:   payload,
	}
	if rec.Actor != nil {
		e.Actor = *rec.Actor
	}
	return nil
}
