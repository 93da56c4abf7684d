package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/changeorder/cache"
	"example.com/backstage/services/changeorder/domain"
	"example.com/backstage/services/changeorder/eventstore"
	"example.com/backstage/services/changeorder/handlers"
)

func newTestProcessor() (*Processor, *eventstore.MemoryEventStore, *cache.MemoryTriggerDedup) {
	store := eventstore.NewMemoryEventStore()
	dedup := cache.NewMemoryTriggerDedup(time.Hour)
	h := handlers.NewCaseHandler(store, cache.NewMemoryMetadataCache())
	return NewProcessor(h, dedup), store, dedup
}

func busMessage(t *testing.T, eventType, triggerID string, data interface{}) *azservicebus.ReceivedMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(AzureBusMessage{EventType: eventType, TriggerID: triggerID, Data: raw})
	require.NoError(t, err)
	return &azservicebus.ReceivedMessage{MessageID: "msg-" + triggerID, Body: body}
}

func createTrigger(caseID string) CreateCaseTrigger {
	return CreateCaseTrigger{
		CaseID:            caseID,
		Actor:             "integration@example.com",
		CreateCaseCommand: handlers.CreateCaseCommand{Title: "Imported change", ProjectID: "P-9"},
	}
}

func TestProcessCreateCaseOnce(t *testing.T) {
	p, store, _ := newTestProcessor()
	ctx := context.Background()
	msg := busMessage(t, CreateCase, "T1", createTrigger("C1"))

	require.NoError(t, p.ProcessMessage(ctx, msg))
	// Redelivery of the same trigger is a no-op
	require.NoError(t, p.ProcessMessage(ctx, msg))

	events, version, err := store.GetEvents(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, "integration@example.com", events[0].Actor)
}

func TestProcessSubmitCommand(t *testing.T) {
	p, store, _ := newTestProcessor()
	ctx := context.Background()
	require.NoError(t, p.ProcessMessage(ctx, busMessage(t, CreateCase, "T1", createTrigger("C1"))))

	msg := busMessage(t, SubmitCommand, "T2", CommandTrigger{
		CaseID:          "C1",
		Actor:           "integration@example.com",
		Command:         "submit-grounds",
		ExpectedVersion: 1,
		Payload:         json.RawMessage(`{"category":"design","description":"Revised drawings","discovered_on":"2026-03-01T00:00:00Z"}`),
	})
	require.NoError(t, p.ProcessMessage(ctx, msg))

	_, version, err := store.GetEvents(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestProcessFailureReleasesTrigger(t *testing.T) {
	p, _, dedup := newTestProcessor()
	ctx := context.Background()

	msg := busMessage(t, SubmitCommand, "T3", CommandTrigger{
		CaseID:          "C404",
		Command:         "withdraw-grounds",
		ExpectedVersion: 0,
	})
	err := p.ProcessMessage(ctx, msg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.True(t, IsPermanent(err))

	first, err := dedup.MarkProcessed(ctx, "T3", "C404")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestProcessMessageFallsBackToMessageID(t *testing.T) {
	p, store, _ := newTestProcessor()
	ctx := context.Background()
	msg := busMessage(t, CreateCase, "", createTrigger("C1"))
	msg.MessageID = "broker-id"

	require.NoError(t, p.ProcessMessage(ctx, msg))
	require.NoError(t, p.ProcessMessage(ctx, msg))

	_, version, err := store.GetEvents(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestProcessMessagePermanentErrors(t *testing.T) {
	p, _, _ := newTestProcessor()
	ctx := context.Background()

	err := p.ProcessMessage(ctx, &azservicebus.ReceivedMessage{Body: []byte("not json")})
	assert.True(t, IsPermanent(err))

	err = p.ProcessMessage(ctx, busMessage(t, "Unknown", "T4", map[string]string{}))
	assert.True(t, IsPermanent(err))

	err = p.ProcessMessage(ctx, busMessage(t, SubmitCommand, "T5", CommandTrigger{CaseID: "C1", Command: "nope"}))
	assert.True(t, IsPermanent(err))

	assert.False(t, IsPermanent(errors.New("connection reset")))
}

func TestProcessMessageRejectsMalformedCaseID(t *testing.T) {
	p, store, _ := newTestProcessor()
	ctx := context.Background()

	for _, id := range []string{"", "bad id!"} {
		err := p.ProcessMessage(ctx, busMessage(t, CreateCase, "T6", createTrigger(id)))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrValidation))
		assert.True(t, IsPermanent(err))
	}

	ids, err := store.ListCaseIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

type MockSettler struct {
	mock.Mock
}

func (m *MockSettler) CompleteMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.CompleteMessageOptions) error {
	return m.Called(message).Error(0)
}

func (m *MockSettler) AbandonMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.AbandonMessageOptions) error {
	return m.Called(message).Error(0)
}

func (m *MockSettler) DeadLetterMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.DeadLetterOptions) error {
	return m.Called(message, *options.Reason).Error(0)
}

func TestSettle(t *testing.T) {
	ctx := context.Background()
	msg := &azservicebus.ReceivedMessage{MessageID: "m1"}

	completed := new(MockSettler)
	completed.On("CompleteMessage", msg).Return(nil)
	settle(ctx, completed, msg, nil)
	completed.AssertExpectations(t)

	deadLettered := new(MockSettler)
	deadLettered.On("DeadLetterMessage", msg, "rejected").Return(nil)
	settle(ctx, deadLettered, msg, &domain.ConcurrencyError{CaseID: "C1", Expected: 1, Actual: 2})
	deadLettered.AssertExpectations(t)

	abandoned := new(MockSettler)
	abandoned.On("AbandonMessage", msg).Return(nil)
	settle(ctx, abandoned, msg, errors.New("store unavailable"))
	abandoned.AssertExpectations(t)
}
