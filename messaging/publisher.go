package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/changeorder/domain"
)

// messageSender is the part of *azservicebus.Sender used by Publisher
type messageSender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// Publisher sends stored case events to Service Bus
type Publisher struct {
	sender messageSender
}

// NewPublisher creates a publisher on an existing sender
func NewPublisher(sender messageSender) *Publisher {
	return &Publisher{sender: sender}
}

// eventMessageID is stable per event so Service Bus duplicate detection
// drops a resend after a crash between send and mark
func eventMessageID(event domain.Event) string {
	name := fmt.Sprintf("%s/%d", event.CaseID, event.Position)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// HandleEvent publishes one event. The case id is the session id so
// consumers see each case's events in order.
func (p *Publisher) HandleEvent(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	body, err := json.Marshal(AzureBusMessage{
		EventType: string(event.Type),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	messageID := eventMessageID(event)
	sessionID := event.CaseID
	contentType := "application/json"
	subject := string(event.Type)

	if err := p.sender.SendMessage(ctx, &azservicebus.Message{
		Body:        body,
		MessageID:   &messageID,
		SessionID:   &sessionID,
		ContentType: &contentType,
		Subject:     &subject,
	}, nil); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().Str("caseID", event.CaseID).Int("position", event.Position).Msg("Event published")
	return nil
}

// Close closes the sender
func (p *Publisher) Close(ctx context.Context) error {
	return p.sender.Close(ctx)
}
