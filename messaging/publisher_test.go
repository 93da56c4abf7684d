package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/changeorder/domain"
)

type fakeSender struct {
	sent []*azservicebus.Message
	err  error
}

func (f *fakeSender) SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeSender) Close(ctx context.Context) error { return nil }

func claimEvent(position int) domain.Event {
	return domain.Event{
		CaseID:    "C1",
		Type:      domain.DeadlineClaimed,
		Position:  position,
		Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Payload:   domain.DeadlineClaimedEvent{Days: 14},
	}
}

func TestPublisherHandleEvent(t *testing.T) {
	sender := &fakeSender{}
	p := NewPublisher(sender)

	require.NoError(t, p.HandleEvent(context.Background(), claimEvent(3)))
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "C1", *msg.SessionID)
	assert.Equal(t, "V1_DEADLINE_CLAIMED", *msg.Subject)
	assert.Equal(t, "application/json", *msg.ContentType)

	var envelope AzureBusMessage
	require.NoError(t, json.Unmarshal(msg.Body, &envelope))
	assert.Equal(t, "V1_DEADLINE_CLAIMED", envelope.EventType)

	var event domain.Event
	require.NoError(t, json.Unmarshal(envelope.Data, &event))
	assert.Equal(t, 3, event.Position)
	assert.Equal(t, domain.DeadlineClaimedEvent{Days: 14}, event.Payload)
}

func TestPublisherMessageIDIsStable(t *testing.T) {
	sender := &fakeSender{}
	p := NewPublisher(sender)

	require.NoError(t, p.HandleEvent(context.Background(), claimEvent(3)))
	require.NoError(t, p.HandleEvent(context.Background(), claimEvent(3)))
	require.NoError(t, p.HandleEvent(context.Background(), claimEvent(4)))

	assert.Equal(t, *sender.sent[0].MessageID, *sender.sent[1].MessageID)
	assert.NotEqual(t, *sender.sent[0].MessageID, *sender.sent[2].MessageID)
}

func TestPublisherSendError(t *testing.T) {
	p := NewPublisher(&fakeSender{err: errors.New("link detached")})
	err := p.HandleEvent(context.Background(), claimEvent(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link detached")
}
