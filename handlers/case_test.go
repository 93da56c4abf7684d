package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/changeorder/cache"
	"example.com/backstage/services/changeorder/domain"
	"example.com/backstage/services/changeorder/eventstore"
	"example.com/backstage/services/changeorder/metrics"
)

var discovered = time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)

type failingCache struct {
	cache.MetadataCache
}

func (failingCache) Update(ctx context.Context, meta cache.CaseMetadata) error {
	return errors.New("cache down")
}

func (failingCache) ListAll(ctx context.Context) ([]cache.CaseMetadata, error) {
	return nil, errors.New("cache down")
}

// corruptStore reports the log of one case as undecodable
type corruptStore struct {
	*eventstore.MemoryEventStore
	corrupt string
}

func (s corruptStore) GetEvents(ctx context.Context, caseID string) ([]domain.Event, int, error) {
	if caseID == s.corrupt {
		return nil, 0, &domain.CorruptionError{CaseID: caseID, Position: 1, Type: domain.CaseCreated, Err: errors.New("bad payload")}
	}
	return s.MemoryEventStore.GetEvents(ctx, caseID)
}

func newHandler(opts ...HandlerOption) (*CaseHandler, *eventstore.MemoryEventStore, *cache.MemoryMetadataCache) {
	store := eventstore.NewMemoryEventStore()
	metadata := cache.NewMemoryMetadataCache()
	opts = append(opts, WithMetrics(metrics.New("test")))
	return NewCaseHandler(store, metadata, opts...), store, metadata
}

func submitGrounds() SubmitGroundsCommand {
	return SubmitGroundsCommand{
		Category:     "ground-conditions",
		Description:  "Unexpected rock",
		DiscoveredOn: discovered,
	}
}

// openCase creates C1 with grounds and a compensation claim, at version 3
func openCase(t *testing.T, h *CaseHandler) {
	t.Helper()
	ctx := WithActor(context.Background(), "contractor@example.com")

	_, err := h.CreateCase(ctx, "C1", CreateCaseCommand{Title: "Rock in tunnel", ProjectID: "P-1"})
	require.NoError(t, err)
	_, err = h.SubmitCommand(ctx, "C1", submitGrounds(), 1)
	require.NoError(t, err)
	_, err = h.SubmitCommand(ctx, "C1", ClaimCompensationCommand{Amount: 100000, Method: domain.MethodUnitPrices}, 2)
	require.NoError(t, err)
}

func TestSubmitCommandEndToEnd(t *testing.T) {
	h, _, metadata := newHandler()
	ctx := context.Background()
	openCase(t, h)

	approved := int64(60000)
	result, err := h.SubmitCommand(ctx, "C1", RespondCommand{
		Compensation: &domain.CompensationResponse{Result: domain.ResponsePartiallyApproved, ApprovedAmount: &approved},
	}, 3)
	require.NoError(t, err)

	assert.Equal(t, 4, result.NewVersion)
	assert.Equal(t, 4, result.State.Version)
	assert.Equal(t, int64(100000), result.State.Compensation.ClaimedAmount)
	assert.Equal(t, int64(60000), *result.State.Compensation.ApprovedAmount)
	assert.Equal(t, domain.CombinedPartiallyApproved, result.State.CombinedResponse)
	assert.True(t, result.State.RequiresRevision)
	assert.Equal(t, "contractor@example.com", result.State.CreatedBy)

	cached, err := metadata.Get(ctx, "C1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 4, cached.Version)
	assert.Equal(t, domain.StatusRequiresRevision, cached.Status)

	state, err := h.GetState(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, result.State, state)
}

func TestSubmitCommandStaleVersion(t *testing.T) {
	h, store, _ := newHandler()
	ctx := context.Background()
	openCase(t, h)

	_, err := h.SubmitCommand(ctx, "C1", ClaimDeadlineCommand{Days: 14}, 2)
	require.Error(t, err)

	var conflict *domain.ConcurrencyError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 2, conflict.Expected)
	assert.Equal(t, 3, conflict.Actual)

	_, version, err := store.GetEvents(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestSubmitCommandStaleVersionFailingPrecondition(t *testing.T) {
	h, _, _ := newHandler()
	openCase(t, h)

	// Compensation is already claimed, but the caller was looking at an
	// older state: report the conflict rather than the precondition
	_, err := h.SubmitCommand(context.Background(), "C1", ClaimCompensationCommand{Amount: 1, Method: domain.MethodAgreed}, 2)
	assert.True(t, errors.Is(err, domain.ErrConcurrency))
}

func TestSubmitCommandPreconditions(t *testing.T) {
	h, _, _ := newHandler()
	ctx := context.Background()
	openCase(t, h)

	tests := []struct {
		name  string
		cmd   Command
		field string
	}{
		{"claim twice", ClaimCompensationCommand{Amount: 5, Method: domain.MethodAgreed}, "compensation"},
		{"revise unclaimed deadline", ReviseDeadlineCommand{Days: intPtr(3)}, "deadline"},
		{"respond to unclaimed deadline", RespondCommand{Deadline: &domain.DeadlineResponse{Result: domain.ResponseApproved}}, "deadline"},
		{"acceleration without rejection", NotifyAccelerationCommand{EstimatedCost: 10}, "deadline"},
		{"create existing", CreateCaseCommand{Title: "again"}, "case_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.SubmitCommand(ctx, "C1", tt.cmd, 3)
			require.Error(t, err)
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestSubmitCommandInvalidPayload(t *testing.T) {
	h, _, _ := newHandler()
	openCase(t, h)

	_, err := h.SubmitCommand(context.Background(), "C1", ClaimDeadlineCommand{Days: 0}, 3)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestSubmitCommandUnknownCase(t *testing.T) {
	h, _, _ := newHandler()

	_, err := h.SubmitCommand(context.Background(), "C9", submitGrounds(), 0)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = h.GetState(context.Background(), "C9")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = h.GetHistory(context.Background(), "C9")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestClosedCaseRejectsCommands(t *testing.T) {
	h, _, _ := newHandler()
	ctx := context.Background()
	openCase(t, h)

	_, err := h.SubmitCommand(ctx, "C1", WithdrawGroundsCommand{Reason: "resolved on site"}, 3)
	require.NoError(t, err)

	_, err = h.SubmitCommand(ctx, "C1", ClaimDeadlineCommand{Days: 3}, 4)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "status", verr.Fields[0].Field)
}

func TestAccelerationAfterRejectedDeadline(t *testing.T) {
	h, _, _ := newHandler()
	ctx := context.Background()
	openCase(t, h)

	_, err := h.SubmitCommand(ctx, "C1", ClaimDeadlineCommand{Days: 20}, 3)
	require.NoError(t, err)
	_, err = h.SubmitCommand(ctx, "C1", RespondCommand{
		Deadline: &domain.DeadlineResponse{Result: domain.ResponseRejectedDisagreement},
	}, 4)
	require.NoError(t, err)

	result, err := h.SubmitCommand(ctx, "C1", NotifyAccelerationCommand{EstimatedCost: 250000}, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisputed, result.State.Status)

	_, err = h.SubmitCommand(ctx, "C1", NotifyAccelerationCommand{EstimatedCost: 1}, 6)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestNotifierFailureDoesNotFailCommand(t *testing.T) {
	var notified []domain.Event
	notifier := NotifierFunc(func(ctx context.Context, state domain.SakState, event domain.Event) error {
		notified = append(notified, event)
		return errors.New("index unavailable")
	})
	h, _, _ := newHandler(WithNotifier(notifier))

	result, err := h.CreateCase(context.Background(), "C1", CreateCaseCommand{Title: "Rock"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewVersion)
	require.Len(t, notified, 1)
	assert.Equal(t, domain.CaseCreated, notified[0].Type)
	assert.Equal(t, 1, notified[0].Position)
}

func TestCacheFailureDoesNotFailCommand(t *testing.T) {
	store := eventstore.NewMemoryEventStore()
	h := NewCaseHandler(store, failingCache{})

	_, err := h.CreateCase(context.Background(), "C1", CreateCaseCommand{Title: "Rock"})
	require.NoError(t, err)

	cases, err := h.ListCases(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "C1", cases[0].CaseID)
}

func TestGetHistory(t *testing.T) {
	h, _, _ := newHandler()
	openCase(t, h)

	events, err := h.GetHistory(context.Background(), "C1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.CaseCreated, events[0].Type)
	assert.Equal(t, domain.CompensationClaimed, events[2].Type)
	assert.Equal(t, "contractor@example.com", events[2].Actor)
}

func TestListCasesBackfillsAndFilters(t *testing.T) {
	h, store, metadata := newHandler()
	ctx := context.Background()
	openCase(t, h)

	// Written behind the handler's back, so it has no cache entry yet
	_, err := store.Append(ctx, "C2", domain.NewEvent(domain.CaseCreatedEvent{Title: "Late drawings", ProjectID: "P-2"}, ""), 0)
	require.NoError(t, err)

	all, err := h.ListCases(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "C1", all[0].CaseID)
	assert.Equal(t, "C2", all[1].CaseID)

	backfilled, err := metadata.Get(ctx, "C2")
	require.NoError(t, err)
	require.NotNil(t, backfilled)
	assert.Equal(t, domain.StatusDraft, backfilled.Status)

	byStatus, err := h.ListCases(ctx, Filter{Status: domain.StatusClaimSubmitted})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "C1", byStatus[0].CaseID)

	byProject, err := h.ListCases(ctx, Filter{ProjectID: "P-2"})
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	assert.Equal(t, "C2", byProject[0].CaseID)
}

func TestRebuildCache(t *testing.T) {
	store := eventstore.NewMemoryEventStore()
	ctx := context.Background()
	_, err := store.Append(ctx, "C1", domain.NewEvent(domain.CaseCreatedEvent{Title: "a"}, ""), 0)
	require.NoError(t, err)
	_, err = store.Append(ctx, "C2", domain.NewEvent(domain.CaseCreatedEvent{Title: "b"}, ""), 0)
	require.NoError(t, err)

	metadata := cache.NewMemoryMetadataCache()
	h := NewCaseHandler(store, metadata)

	n, err := h.RebuildCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := metadata.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = NewCaseHandler(store, nil).RebuildCache(ctx)
	assert.Error(t, err)
}

func TestListCasesSkipsCorruptCase(t *testing.T) {
	ctx := context.Background()
	memory := eventstore.NewMemoryEventStore()
	for _, id := range []string{"C1", "C2", "C3"} {
		_, err := memory.Append(ctx, id, domain.NewEvent(domain.CaseCreatedEvent{Title: id}, ""), 0)
		require.NoError(t, err)
	}

	metadata := cache.NewMemoryMetadataCache()
	h := NewCaseHandler(corruptStore{MemoryEventStore: memory, corrupt: "C2"}, metadata, WithMetrics(metrics.New("test")))

	listed, err := h.ListCases(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "C1", listed[0].CaseID)
	assert.Equal(t, "C3", listed[1].CaseID)

	missing, err := metadata.Get(ctx, "C2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRebuildCacheContinuesPastCorruptCase(t *testing.T) {
	ctx := context.Background()
	memory := eventstore.NewMemoryEventStore()
	for _, id := range []string{"C1", "C2", "C3"} {
		_, err := memory.Append(ctx, id, domain.NewEvent(domain.CaseCreatedEvent{Title: id}, ""), 0)
		require.NoError(t, err)
	}

	metadata := cache.NewMemoryMetadataCache()
	h := NewCaseHandler(corruptStore{MemoryEventStore: memory, corrupt: "C2"}, metadata)

	n, err := h.RebuildCache(ctx)
	assert.Equal(t, 2, n)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCorruption))
	assert.Contains(t, err.Error(), "C2")

	healed, err := metadata.Get(ctx, "C3")
	require.NoError(t, err)
	require.NotNil(t, healed)
	assert.Equal(t, 1, healed.Version)
}

func intPtr(v int) *int { return &v }
