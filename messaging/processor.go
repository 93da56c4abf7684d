package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/changeorder/cache"
	"example.com/backstage/services/changeorder/domain"
	"example.com/backstage/services/changeorder/handlers"
	"example.com/backstage/services/changeorder/utils"
)

// EventType definitions
const (
	// CreateCase opens a case from an external document
	CreateCase = "CreateCase"
	// SubmitCommand runs any named command against an existing case
	SubmitCommand = "SubmitCommand"
)

// AzureBusMessage is the common message structure
type AzureBusMessage struct {
	EventType string          `json:"eventType"`
	TriggerID string          `json:"triggerId"`
	Data      json.RawMessage `json:"data"`
}

// CreateCaseTrigger is the data of a CreateCase message
type CreateCaseTrigger struct {
	CaseID string `json:"case_id" validate:"required,case_id"`
	Actor  string `json:"actor"`
	handlers.CreateCaseCommand
}

// CommandTrigger is the data of a SubmitCommand message
type CommandTrigger struct {
	CaseID          string          `json:"case_id" validate:"required,case_id"`
	Actor           string          `json:"actor"`
	Command         string          `json:"command"`
	ExpectedVersion int             `json:"expected_version"`
	Payload         json.RawMessage `json:"payload"`
}

type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// permanentError marks a message that will never succeed on redelivery
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// IsPermanent reports whether err should dead-letter the message
func IsPermanent(err error) bool {
	var p permanentError
	if errors.As(err, &p) {
		return true
	}
	// A stale expected version never becomes current again
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrConcurrency) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrCorruption)
}

type Processor struct {
	caseHandler *handlers.CaseHandler
	dedup       cache.TriggerDeduplicator
}

func NewProcessor(caseHandler *handlers.CaseHandler, dedup cache.TriggerDeduplicator) *Processor {
	return &Processor{
		caseHandler: caseHandler,
		dedup:       dedup,
	}
}

func (p *Processor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var msg AzureBusMessage
	if err := json.Unmarshal(message.Body, &msg); err != nil {
		return permanentError{fmt.Errorf("error unmarshalling message: %w", err)}
	}

	triggerID := msg.TriggerID
	if triggerID == "" {
		triggerID = message.MessageID
	}

	log.Info().Str("eventType", msg.EventType).Str("triggerID", triggerID).Msg("Processing message")

	switch msg.EventType {
	case CreateCase:
		var trigger CreateCaseTrigger
		if err := decodeTrigger(msg.Data, &trigger); err != nil {
			return err
		}
		return p.once(ctx, triggerID, trigger.CaseID, func(ctx context.Context) error {
			_, err := p.caseHandler.CreateCase(handlers.WithActor(ctx, trigger.Actor), trigger.CaseID, trigger.CreateCaseCommand)
			return err
		})

	case SubmitCommand:
		var trigger CommandTrigger
		if err := decodeTrigger(msg.Data, &trigger); err != nil {
			return err
		}
		cmd, err := handlers.DecodeCommand(trigger.Command, trigger.Payload)
		if err != nil {
			return err
		}
		return p.once(ctx, triggerID, trigger.CaseID, func(ctx context.Context) error {
			_, err := p.caseHandler.SubmitCommand(handlers.WithActor(ctx, trigger.Actor), trigger.CaseID, cmd, trigger.ExpectedVersion)
			return err
		})

	default:
		return permanentError{fmt.Errorf("unknown event type: %s", msg.EventType)}
	}
}

// decodeTrigger unmarshals and validates the data of a message. Both
// failures are permanent.
func decodeTrigger(data []byte, trigger interface{}) error {
	if err := json.Unmarshal(data, trigger); err != nil {
		return permanentError{err}
	}
	if err := utils.ValidateStruct(trigger); err != nil {
		return permanentError{&domain.ValidationError{Fields: utils.FieldErrors(err)}}
	}
	return nil
}

// once runs fn unless triggerID was already handled. A failed run releases
// the id so the redelivered message is handled again.
func (p *Processor) once(ctx context.Context, triggerID, caseID string, fn func(context.Context) error) error {
	if p.dedup == nil || triggerID == "" {
		return fn(ctx)
	}

	first, err := p.dedup.MarkProcessed(ctx, triggerID, caseID)
	if err != nil {
		return err
	}
	if !first {
		log.Info().Str("triggerID", triggerID).Str("caseID", caseID).Msg("Duplicate trigger ignored")
		return nil
	}

	if err := fn(ctx); err != nil {
		if rerr := p.dedup.Release(ctx, triggerID); rerr != nil {
			log.Error().Err(rerr).Str("triggerID", triggerID).Msg("Failed to release trigger")
		}
		return err
	}
	return nil
}
