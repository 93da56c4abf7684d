package eventstore

import (
	"context"
	"time"

	"example.com/backstage/services/changeorder/domain"
)

// EventStore is the interface for event storage.
//
// Implementations own write access to the log. Append must run the version
// check and the insert as one atomic step per case and must never retry a
// conflicting append on the caller's behalf.
type EventStore interface {
	// Append stores event at position expectedVersion+1 and returns the new
	// version. It fails with *domain.ConcurrencyError when the stored version
	// differs from expectedVersion and with *domain.ValidationError when the
	// payload is malformed.
	Append(ctx context.Context, caseID string, event domain.Event, expectedVersion int) (int, error)

	// GetEvents returns the ordered log and its version. A case without
	// events yields an empty log and version 0.
	GetEvents(ctx context.Context, caseID string) ([]domain.Event, int, error)

	// ListCaseIDs returns every case with at least one event, sorted
	ListCaseIDs(ctx context.Context) ([]string, error)

	// Exists checks if a case has any events
	Exists(ctx context.Context, caseID string) (bool, error)

	// GetUnprocessedEvents returns events not yet handed to downstream
	// notifiers, oldest first
	GetUnprocessedEvents(ctx context.Context, limit int) ([]domain.Event, error)

	// MarkEventAsProcessed marks an event as delivered downstream
	MarkEventAsProcessed(ctx context.Context, caseID string, position int) error

	// MarkEventAsFailed records a delivery error for an event
	MarkEventAsFailed(ctx context.Context, caseID string, position int, reason string) error
}

// Option configures an event store
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the clock used to stamp appended events
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// stamp returns the append timestamp in UTC at the precision Postgres keeps,
// so both backends replay to identical state
func (o options) stamp() time.Time {
	return o.now().UTC().Truncate(time.Microsecond)
}

// prepare validates a draft event and fills in the fields the store owns
func prepare(caseID string, event domain.Event, expectedVersion int, at time.Time) (domain.Event, error) {
	if caseID == "" {
		return domain.Event{}, domain.NewValidationError("case_id", "required", "is required")
	}
	if expectedVersion < 0 {
		return domain.Event{}, domain.NewValidationError("expected_version", "gte", "must be at least 0")
	}
	if err := domain.ValidateEvent(event); err != nil {
		return domain.Event{}, err
	}

	event.CaseID = caseID
	event.Position = expectedVersion + 1
	event.Timestamp = at
	return event, nil
}
