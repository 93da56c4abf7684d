package projections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/changeorder/domain"
	"example.com/backstage/services/changeorder/eventstore"
	"example.com/backstage/services/changeorder/metrics"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) HandleEvent(ctx context.Context, event domain.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func atPosition(caseID string, position int) interface{} {
	return mock.MatchedBy(func(e domain.Event) bool {
		return e.CaseID == caseID && e.Position == position
	})
}

func seed(t *testing.T, store *eventstore.MemoryEventStore) {
	t.Helper()
	ctx := context.Background()
	appends := []struct {
		caseID   string
		expected int
	}{
		{"C1", 0}, {"C2", 0}, {"C1", 1},
	}
	for _, a := range appends {
		var payload domain.Payload = domain.CaseCreatedEvent{Title: "case " + a.caseID}
		if a.expected > 0 {
			payload = domain.DeadlineClaimedEvent{Days: 5}
		}
		_, err := store.Append(ctx, a.caseID, domain.NewEvent(payload, ""), a.expected)
		require.NoError(t, err)
	}
}

func TestProcessBatchDeliversAll(t *testing.T) {
	store := eventstore.NewMemoryEventStore()
	seed(t, store)

	sink := new(MockSink)
	sink.On("HandleEvent", mock.Anything, mock.Anything).Return(nil)

	processor := NewEventProcessor(store, metrics.New("test"), sink)
	n, err := processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	sink.AssertNumberOfCalls(t, "HandleEvent", 3)

	pending, err := store.GetUnprocessedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessBatchKeepsCaseOrderOnFailure(t *testing.T) {
	store := eventstore.NewMemoryEventStore()
	seed(t, store)

	sink := new(MockSink)
	sink.On("HandleEvent", mock.Anything, atPosition("C1", 1)).Return(errors.New("downstream unavailable")).Once()
	sink.On("HandleEvent", mock.Anything, atPosition("C2", 1)).Return(nil)

	processor := NewEventProcessor(store, nil, sink)
	n, err := processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// C1 position 2 must not be delivered before position 1
	sink.AssertNotCalled(t, "HandleEvent", mock.Anything, atPosition("C1", 2))

	pending, err := store.GetUnprocessedEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "C1", pending[0].CaseID)

	// Next tick the sink recovers
	sink.On("HandleEvent", mock.Anything, mock.Anything).Return(nil)
	n, err = processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestProcessBatchStopsAtFirstFailingSink(t *testing.T) {
	store := eventstore.NewMemoryEventStore()
	_, err := store.Append(context.Background(), "C1", domain.NewEvent(domain.CaseCreatedEvent{Title: "x"}, ""), 0)
	require.NoError(t, err)

	first := new(MockSink)
	first.On("HandleEvent", mock.Anything, mock.Anything).Return(errors.New("boom"))
	second := new(MockSink)

	n, err := NewEventProcessor(store, nil, first, second).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	second.AssertNotCalled(t, "HandleEvent", mock.Anything, mock.Anything)
}

func TestEventProcessorStartStop(t *testing.T) {
	store := eventstore.NewMemoryEventStore()
	seed(t, store)

	delivered := make(chan domain.Event, 3)
	sink := new(MockSink)
	sink.On("HandleEvent", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { delivered <- args.Get(1).(domain.Event) }).
		Return(nil)

	processor := NewEventProcessor(store, nil, sink)
	processor.SetInterval(10 * time.Millisecond)
	processor.Start(context.Background())

	for i := 0; i < 3; i++ {
		select {
		case <-delivered:
		case <-time.After(2 * time.Second):
			t.Fatal("events were not delivered")
		}
	}

	processor.Stop()
	processor.Stop()
}
