package eventstore

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/changeorder/domain"
)

// stream is the log of one case, guarded by its own lock so appends to
// different cases never wait on each other
type stream struct {
	mu     sync.Mutex
	events []domain.Event
}

type outboxKey struct {
	caseID   string
	position int
}

type outboxEntry struct {
	outboxKey
	processed bool
	err       string
}

// MemoryEventStore implements EventStore in process memory
type MemoryEventStore struct {
	mu      sync.RWMutex
	streams map[string]*stream

	// outbox holds undelivered events in append order; delivered entries
	// leave pending at once and the slice on the next read
	outboxMu sync.Mutex
	outbox   []*outboxEntry
	pending  map[outboxKey]*outboxEntry

	opts options
}

// NewMemoryEventStore creates a new in-memory event store
func NewMemoryEventStore(opts ...Option) *MemoryEventStore {
	return &MemoryEventStore{
		streams: make(map[string]*stream),
		pending: make(map[outboxKey]*outboxEntry),
		opts:    buildOptions(opts),
	}
}

func (s *MemoryEventStore) stream(caseID string, create bool) *stream {
	s.mu.RLock()
	st, ok := s.streams[caseID]
	s.mu.RUnlock()
	if ok || !create {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.streams[caseID]; !ok {
		st = &stream{}
		s.streams[caseID] = st
	}
	return st
}

// Append stores an event under the case's lock
func (s *MemoryEventStore) Append(ctx context.Context, caseID string, event domain.Event, expectedVersion int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	stored, err := prepare(caseID, event, expectedVersion, s.opts.stamp())
	if err != nil {
		return 0, err
	}

	st := s.stream(caseID, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	if current := len(st.events); current != expectedVersion {
		return 0, &domain.ConcurrencyError{CaseID: caseID, Expected: expectedVersion, Actual: current}
	}

	stored.Timestamp = s.opts.stamp()
	st.events = append(st.events, stored)

	entry := &outboxEntry{outboxKey: outboxKey{caseID: caseID, position: stored.Position}}
	s.outboxMu.Lock()
	s.outbox = append(s.outbox, entry)
	s.pending[entry.outboxKey] = entry
	s.outboxMu.Unlock()

	log.Debug().
		Str("caseID", caseID).
		Str("eventType", string(stored.Type)).
		Int("version", stored.Position).
		Msg("Event saved")

	return stored.Position, nil
}

// GetEvents returns a copy of the case's log
func (s *MemoryEventStore) GetEvents(ctx context.Context, caseID string) ([]domain.Event, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	st := s.stream(caseID, false)
	if st == nil {
		return []domain.Event{}, 0, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	events := make([]domain.Event, len(st.events))
	copy(events, st.events)
	return events, len(events), nil
}

// ListCaseIDs returns the IDs of all cases with events
func (s *MemoryEventStore) ListCaseIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	candidates := make(map[string]*stream, len(s.streams))
	for id, st := range s.streams {
		candidates[id] = st
	}
	s.mu.RUnlock()

	ids := make([]string, 0, len(candidates))
	for id, st := range candidates {
		st.mu.Lock()
		n := len(st.events)
		st.mu.Unlock()
		// A failed first append leaves an empty stream behind
		if n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists checks if a case has any events
func (s *MemoryEventStore) Exists(ctx context.Context, caseID string) (bool, error) {
	_, version, err := s.GetEvents(ctx, caseID)
	if err != nil {
		return false, err
	}
	return version > 0, nil
}

// GetUnprocessedEvents returns up to limit undelivered events in append order
func (s *MemoryEventStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.outboxMu.Lock()
	kept := s.outbox[:0]
	for _, entry := range s.outbox {
		if !entry.processed {
			kept = append(kept, entry)
		}
	}
	for i := len(kept); i < len(s.outbox); i++ {
		s.outbox[i] = nil
	}
	s.outbox = kept

	var pending []outboxKey
	for _, entry := range s.outbox {
		pending = append(pending, entry.outboxKey)
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	s.outboxMu.Unlock()

	events := make([]domain.Event, 0, len(pending))
	for _, entry := range pending {
		st := s.stream(entry.caseID, false)
		if st == nil {
			continue
		}
		st.mu.Lock()
		if entry.position <= len(st.events) {
			events = append(events, st.events[entry.position-1])
		}
		st.mu.Unlock()
	}
	return events, nil
}

// MarkEventAsProcessed marks an event as delivered. Marking an event that
// was already delivered is a no-op.
func (s *MemoryEventStore) MarkEventAsProcessed(ctx context.Context, caseID string, position int) error {
	key := outboxKey{caseID: caseID, position: position}

	s.outboxMu.Lock()
	entry, ok := s.pending[key]
	if ok {
		entry.processed = true
		entry.err = ""
		delete(s.pending, key)
	}
	s.outboxMu.Unlock()

	if ok || s.hasEvent(caseID, position) {
		return nil
	}
	return &domain.NotFoundError{CaseID: caseID}
}

// MarkEventAsFailed records a delivery error for an event
func (s *MemoryEventStore) MarkEventAsFailed(ctx context.Context, caseID string, position int, reason string) error {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()
	if entry, ok := s.pending[outboxKey{caseID: caseID, position: position}]; ok {
		entry.err = reason
		return nil
	}
	return &domain.NotFoundError{CaseID: caseID}
}

func (s *MemoryEventStore) hasEvent(caseID string, position int) bool {
	st := s.stream(caseID, false)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return position >= 1 && position <= len(st.events)
}
