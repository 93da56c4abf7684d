package domain

import (
	"example.com/backstage/services/changeorder/utils"
)

func init() {
	utils.RegisterStringValidation("response_code", func(v string) bool {
		return ResponseCode(v).Valid()
	})
}

// validateTags runs the struct tag rules and converts the result
func validateTags(v interface{}) error {
	if err := utils.ValidateStruct(v); err != nil {
		return &ValidationError{Fields: utils.FieldErrors(err)}
	}
	return nil
}

func (p CaseCreatedEvent) Validate() error { return validateTags(p) }

func (p GroundsSubmittedEvent) Validate() error { return validateTags(p) }

func (p GroundsRevisedEvent) Validate() error {
	if p.Category == nil && p.Subcategory == nil && p.Description == nil && p.DiscoveredOn == nil {
		return NewValidationError("", "required", "grounds revision changes nothing")
	}
	return validateTags(p)
}

func (p GroundsWithdrawnEvent) Validate() error { return nil }

func (p CompensationClaimedEvent) Validate() error { return validateTags(p) }

func (p CompensationRevisedEvent) Validate() error {
	if p.Amount == nil && p.Method == nil && p.Description == nil {
		return NewValidationError("", "required", "compensation revision changes nothing")
	}
	return validateTags(p)
}

func (p CompensationWithdrawnEvent) Validate() error { return nil }

func (p DeadlineClaimedEvent) Validate() error { return validateTags(p) }

func (p DeadlineRevisedEvent) Validate() error {
	if p.Days == nil && p.Description == nil {
		return NewValidationError("", "required", "deadline revision changes nothing")
	}
	return validateTags(p)
}

func (p DeadlineWithdrawnEvent) Validate() error { return nil }

func (p CounterpartyRespondedEvent) Validate() error {
	if p.Grounds == nil && p.Compensation == nil && p.Deadline == nil {
		return NewValidationError("", "required", "response must cover at least one track")
	}
	return validateTags(p)
}

func (p ChangeOrderIssuedEvent) Validate() error { return validateTags(p) }

func (p AccelerationNotifiedEvent) Validate() error { return validateTags(p) }

// Validate rejects payloads of unknown types; they may be read but never written
func (p UnknownPayload) Validate() error {
	return NewValidationError("event_type", "oneof", "unknown event type "+string(p.Type))
}

// ValidateEvent checks that the event's tag matches its payload and that the
// payload is well formed
func ValidateEvent(e Event) error {
	if e.Payload == nil {
		return NewValidationError("payload", "required", "is required")
	}
	if e.Type != e.Payload.EventType() {
		return NewValidationError("event_type", "eqfield", "does not match payload type "+string(e.Payload.EventType()))
	}
	return e.Payload.Validate()
}
