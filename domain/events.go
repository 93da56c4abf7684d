package domain

import (
	"time"
)

// EventType is the tag stored alongside every event payload
type EventType string

// EventType constants
const (
	// Case events
	CaseCreated EventType = "V1_CASE_CREATED"

	// Grounds (grunnlag) events
	GroundsSubmitted EventType = "V1_GROUNDS_SUBMITTED"
	GroundsRevised   EventType = "V1_GROUNDS_REVISED"
	GroundsWithdrawn EventType = "V1_GROUNDS_WITHDRAWN"

	// Compensation (vederlag) events
	CompensationClaimed   EventType = "V1_COMPENSATION_CLAIMED"
	CompensationRevised   EventType = "V1_COMPENSATION_REVISED"
	CompensationWithdrawn EventType = "V1_COMPENSATION_WITHDRAWN"

	// Deadline (frist) events
	DeadlineClaimed   EventType = "V1_DEADLINE_CLAIMED"
	DeadlineRevised   EventType = "V1_DEADLINE_REVISED"
	DeadlineWithdrawn EventType = "V1_DEADLINE_WITHDRAWN"

	// Counterparty events
	CounterpartyResponded EventType = "V1_COUNTERPARTY_RESPONDED"
	ChangeOrderIssued     EventType = "V1_CHANGE_ORDER_ISSUED"
	AccelerationNotified  EventType = "V1_ACCELERATION_NOTIFIED"
)

// Event is an immutable fact recorded for a case.
//
// Position and Timestamp are assigned by the event store when the event is
// appended. Callers only fill in Type, Payload and Actor.
type Event struct {
	CaseID    string    `json:"case_id"`
	Type      EventType `json:"event_type"`
	Position  int       `json:"position"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor,omitempty"`
	Payload   Payload   `json:"payload"`
}

// NewEvent creates an unsaved event for the given payload
func NewEvent(payload Payload, actor string) Event {
	return Event{
		Type:    payload.EventType(),
		Payload: payload,
		Actor:   actor,
	}
}

// Payload is implemented by every event payload. The set of payloads is
// closed: only types in this package satisfy it.
type Payload interface {
	EventType() EventType
	Validate() error
	isPayload()
}

// CompensationMethod is the pricing basis of a compensation claim
type CompensationMethod string

const (
	MethodUnitPrices CompensationMethod = "unit-prices"
	MethodCostPlus   CompensationMethod = "cost-plus"
	MethodFixedPrice CompensationMethod = "fixed-price"
	MethodAgreed     CompensationMethod = "agreed"
)

// Case Events

// CaseCreatedEvent opens a new case
type CaseCreatedEvent struct {
	Title       string `json:"title" validate:"required,max=300"`
	ProjectID   string `json:"project_id,omitempty" validate:"max=100"`
	ExternalRef string `json:"external_ref,omitempty" validate:"max=200"`
	Description string `json:"description,omitempty"`
}

// Grounds Events

// GroundsSubmittedEvent notifies the counterparty of the basis for a change
type GroundsSubmittedEvent struct {
	Category     string     `json:"category" validate:"required,max=100"`
	Subcategory  string     `json:"subcategory,omitempty" validate:"max=100"`
	Description  string     `json:"description" validate:"required"`
	DiscoveredOn time.Time  `json:"discovered_on" validate:"required"`
	NotifiedOn   *time.Time `json:"notified_on,omitempty"`
}

// GroundsRevisedEvent updates a previously submitted grounds notice.
// Only the fields that are set are changed.
type GroundsRevisedEvent struct {
	Category     *string    `json:"category,omitempty" validate:"omitempty,min=1,max=100"`
	Subcategory  *string    `json:"subcategory,omitempty" validate:"omitempty,max=100"`
	Description  *string    `json:"description,omitempty" validate:"omitempty,min=1"`
	DiscoveredOn *time.Time `json:"discovered_on,omitempty"`
}

// GroundsWithdrawnEvent withdraws the grounds and with it the whole case
type GroundsWithdrawnEvent struct {
	Reason string `json:"reason,omitempty"`
}

// Compensation Events

// CompensationClaimedEvent submits the monetary claim
type CompensationClaimedEvent struct {
	Amount      int64              `json:"amount" validate:"gte=0"`
	Method      CompensationMethod `json:"method" validate:"required,oneof=unit-prices cost-plus fixed-price agreed"`
	Description string             `json:"description,omitempty"`
}

// CompensationRevisedEvent resubmits the monetary claim after a response
type CompensationRevisedEvent struct {
	Amount      *int64              `json:"amount,omitempty" validate:"omitempty,gte=0"`
	Method      *CompensationMethod `json:"method,omitempty" validate:"omitempty,oneof=unit-prices cost-plus fixed-price agreed"`
	Description *string             `json:"description,omitempty"`
}

// CompensationWithdrawnEvent withdraws the monetary claim
type CompensationWithdrawnEvent struct {
	Reason string `json:"reason,omitempty"`
}

// Deadline Events

// DeadlineClaimedEvent submits a schedule extension claim in calendar days
type DeadlineClaimedEvent struct {
	Days        int    `json:"days" validate:"gt=0"`
	Description string `json:"description,omitempty"`
}

// DeadlineRevisedEvent resubmits the schedule extension claim
type DeadlineRevisedEvent struct {
	Days        *int    `json:"days,omitempty" validate:"omitempty,gt=0"`
	Description *string `json:"description,omitempty"`
}

// DeadlineWithdrawnEvent withdraws the schedule extension claim
type DeadlineWithdrawnEvent struct {
	Reason string `json:"reason,omitempty"`
}

// Counterparty Events

// GroundsResponse is the counterparty's decision on the grounds
type GroundsResponse struct {
	Result ResponseCode `json:"result" validate:"required,response_code"`
	Reason string       `json:"reason,omitempty"`
}

// CompensationResponse is the counterparty's decision on the monetary claim
type CompensationResponse struct {
	Result         ResponseCode `json:"result" validate:"required,response_code"`
	ApprovedAmount *int64       `json:"approved_amount,omitempty" validate:"omitempty,gte=0"`
	Reason         string       `json:"reason,omitempty"`
}

// DeadlineResponse is the counterparty's decision on the deadline claim
type DeadlineResponse struct {
	Result       ResponseCode `json:"result" validate:"required,response_code"`
	ApprovedDays *int         `json:"approved_days,omitempty" validate:"omitempty,gte=0"`
	Reason       string       `json:"reason,omitempty"`
}

// CounterpartyRespondedEvent carries one or more sub-responses. Tracks
// without a sub-response are left as they were.
type CounterpartyRespondedEvent struct {
	Grounds      *GroundsResponse      `json:"grounds,omitempty"`
	Compensation *CompensationResponse `json:"compensation,omitempty"`
	Deadline     *DeadlineResponse     `json:"deadline,omitempty"`
	Comment      string                `json:"comment,omitempty"`
}

// ChangeOrderIssuedEvent records a formal change order from the counterparty
type ChangeOrderIssuedEvent struct {
	Number      string `json:"number" validate:"required,max=50"`
	Amount      *int64 `json:"amount,omitempty" validate:"omitempty,gte=0"`
	Days        *int   `json:"days,omitempty" validate:"omitempty,gte=0"`
	Description string `json:"description,omitempty"`
}

// AccelerationNotifiedEvent records that the claimant accelerates at the
// counterparty's cost after a rejected deadline claim
type AccelerationNotifiedEvent struct {
	EstimatedCost int64  `json:"estimated_cost" validate:"gte=0"`
	Reason        string `json:"reason,omitempty"`
}

// UnknownPayload holds the raw payload of an event type this version does
// not know about. The projector skips it.
type UnknownPayload struct {
	Type EventType
	Raw  []byte
}

func (CaseCreatedEvent) EventType() EventType           { return CaseCreated }
func (GroundsSubmittedEvent) EventType() EventType      { return GroundsSubmitted }
func (GroundsRevisedEvent) EventType() EventType        { return GroundsRevised }
func (GroundsWithdrawnEvent) EventType() EventType      { return GroundsWithdrawn }
func (CompensationClaimedEvent) EventType() EventType   { return CompensationClaimed }
func (CompensationRevisedEvent) EventType() EventType   { return CompensationRevised }
func (CompensationWithdrawnEvent) EventType() EventType { return CompensationWithdrawn }
func (DeadlineClaimedEvent) EventType() EventType       { return DeadlineClaimed }
func (DeadlineRevisedEvent) EventType() EventType       { return DeadlineRevised }
func (DeadlineWithdrawnEvent) EventType() EventType     { return DeadlineWithdrawn }
func (CounterpartyRespondedEvent) EventType() EventType { return CounterpartyResponded }
func (ChangeOrderIssuedEvent) EventType() EventType     { return ChangeOrderIssued }
func (AccelerationNotifiedEvent) EventType() EventType  { return AccelerationNotified }
func (p UnknownPayload) EventType() EventType           { return p.Type }

func (CaseCreatedEvent) isPayload()           {}
func (GroundsSubmittedEvent) isPayload()      {}
func (GroundsRevisedEvent) isPayload()        {}
func (GroundsWithdrawnEvent) isPayload()      {}
func (CompensationClaimedEvent) isPayload()   {}
func (CompensationRevisedEvent) isPayload()   {}
func (CompensationWithdrawnEvent) isPayload() {}
func (DeadlineClaimedEvent) isPayload()       {}
func (DeadlineRevisedEvent) isPayload()       {}
func (DeadlineWithdrawnEvent) isPayload()     {}
func (CounterpartyRespondedEvent) isPayload() {}
func (ChangeOrderIssuedEvent) isPayload()     {}
func (AccelerationNotifiedEvent) isPayload()  {}
func (UnknownPayload) isPayload()             {}
