package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/changeorder/cache"
	"example.com/backstage/services/changeorder/domain"
	"example.com/backstage/services/changeorder/eventstore"
	"example.com/backstage/services/changeorder/metrics"
)

// Notifier is told about every case change after it has been stored.
// Failures are logged and never fail the command.
type Notifier interface {
	Notify(ctx context.Context, state domain.SakState, event domain.Event) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, state domain.SakState, event domain.Event) error

func (f NotifierFunc) Notify(ctx context.Context, state domain.SakState, event domain.Event) error {
	return f(ctx, state, event)
}

// Result is the outcome of a stored command
type Result struct {
	NewVersion int             `json:"new_version"`
	State      domain.SakState `json:"state"`
}

// Filter narrows ListCases. Empty fields match everything.
type Filter struct {
	Status    domain.CaseStatus
	ProjectID string
}

func (f Filter) match(meta cache.CaseMetadata) bool {
	if f.Status != "" && meta.Status != f.Status {
		return false
	}
	if f.ProjectID != "" && meta.ProjectID != f.ProjectID {
		return false
	}
	return true
}

type actorKey struct{}

// WithActor attaches the acting user to ctx
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the acting user, or "" if none was attached
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// CaseHandler handles all case commands and queries
type CaseHandler struct {
	store    eventstore.EventStore
	cache    cache.MetadataCache
	notifier Notifier
	metrics  *metrics.Metrics
}

// HandlerOption configures a CaseHandler
type HandlerOption func(*CaseHandler)

// WithNotifier sets the notifier called after every stored command
func WithNotifier(n Notifier) HandlerOption {
	return func(h *CaseHandler) { h.notifier = n }
}

// WithMetrics sets the collectors the handler records into
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *CaseHandler) { h.metrics = m }
}

// NewCaseHandler creates a new case handler
func NewCaseHandler(store eventstore.EventStore, metadata cache.MetadataCache, opts ...HandlerOption) *CaseHandler {
	h := &CaseHandler{store: store, cache: metadata}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// load reads and projects the full log of a case
func (h *CaseHandler) load(ctx context.Context, caseID string) (*domain.CaseAggregate, error) {
	events, _, err := h.store.GetEvents(ctx, caseID)
	if err != nil {
		if errors.Is(err, domain.ErrCorruption) {
			h.metrics.ProjectionFailed()
			log.Error().Err(err).Str("caseID", caseID).Msg("Corrupt event log")
		}
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	aggregate, err := domain.LoadCaseAggregate(caseID, events)
	if err != nil {
		h.metrics.ProjectionFailed()
		log.Error().Err(err).Str("caseID", caseID).Msg("Failed to project case")
		return nil, err
	}
	return aggregate, nil
}

// SubmitCommand validates cmd against the case at expectedVersion, appends
// the resulting event and returns the new version with the projected state.
//
// A stale expectedVersion fails with *domain.ConcurrencyError carrying the
// current version; the command is never retried.
func (h *CaseHandler) SubmitCommand(ctx context.Context, caseID string, cmd Command, expectedVersion int) (Result, error) {
	started := time.Now()
	defer h.metrics.ObserveCommand(cmd.Name(), started)

	log.Info().Str("caseID", caseID).Str("command", cmd.Name()).Int("expectedVersion", expectedVersion).Msg("Handling command")

	aggregate, err := h.load(ctx, caseID)
	if err != nil {
		return Result{}, err
	}
	state := aggregate.State

	payload, err := cmd.toPayload(state)
	if err != nil {
		if current := aggregate.GetVersion(); current != expectedVersion {
			// The caller decided on another state; a precondition checked
			// against this one would be misleading
			h.metrics.VersionConflict()
			return Result{}, &domain.ConcurrencyError{CaseID: aggregate.GetID(), Expected: expectedVersion, Actual: current}
		}
		h.metrics.CommandRejected(cmd.Name())
		return Result{}, err
	}

	draft := domain.NewEvent(payload, ActorFromContext(ctx))

	newVersion, err := h.store.Append(ctx, caseID, draft, expectedVersion)
	if err != nil {
		var conflict *domain.ConcurrencyError
		if errors.As(err, &conflict) {
			h.metrics.VersionConflict()
			log.Warn().Str("caseID", caseID).Int("expected", conflict.Expected).Int("actual", conflict.Actual).Msg("Version conflict")
			return Result{}, conflict
		}
		if errors.Is(err, domain.ErrValidation) {
			h.metrics.CommandRejected(cmd.Name())
		}
		return Result{}, err
	}
	h.metrics.EventAppended(string(draft.Type))

	// Project exactly the log this append produced
	events, _, err := h.store.GetEvents(ctx, caseID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to reload events: %w", err)
	}
	if len(events) > newVersion {
		events = events[:newVersion]
	}
	state, err = domain.ComputeState(events)
	if err != nil {
		h.metrics.ProjectionFailed()
		return Result{}, err
	}

	h.refreshCache(ctx, state)

	if h.notifier != nil && len(events) > 0 {
		if err := h.notifier.Notify(ctx, state, events[len(events)-1]); err != nil {
			log.Error().Err(err).Str("caseID", caseID).Msg("Failed to notify case change")
		}
	}

	return Result{NewVersion: newVersion, State: state}, nil
}

func (h *CaseHandler) refreshCache(ctx context.Context, state domain.SakState) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Update(ctx, cache.FromState(state)); err != nil {
		// The cache is advisory; ListCases back-fills from the log
		h.metrics.CacheRefreshFailed()
		log.Error().Err(err).Str("caseID", state.CaseID).Msg("Failed to refresh case metadata")
	}
}

// CreateCase opens a new case
func (h *CaseHandler) CreateCase(ctx context.Context, caseID string, cmd CreateCaseCommand) (Result, error) {
	return h.SubmitCommand(ctx, caseID, cmd, 0)
}

// GetState returns the projected state of a case
func (h *CaseHandler) GetState(ctx context.Context, caseID string) (domain.SakState, error) {
	aggregate, err := h.load(ctx, caseID)
	if err != nil {
		return domain.SakState{}, err
	}
	if !aggregate.Exists() {
		return domain.SakState{}, &domain.NotFoundError{CaseID: caseID}
	}
	return aggregate.State, nil
}

// GetHistory returns the ordered event log of a case
func (h *CaseHandler) GetHistory(ctx context.Context, caseID string) ([]domain.Event, error) {
	events, version, err := h.store.GetEvents(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	if version == 0 {
		return nil, &domain.NotFoundError{CaseID: caseID}
	}
	return events, nil
}

// ListCases returns case summaries from the metadata cache. Cases without a
// cache entry are replayed and the entry is back-filled.
func (h *CaseHandler) ListCases(ctx context.Context, filter Filter) ([]cache.CaseMetadata, error) {
	ids, err := h.store.ListCaseIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}

	cached := map[string]cache.CaseMetadata{}
	if h.cache != nil {
		all, err := h.cache.ListAll(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Metadata cache unavailable, replaying all cases")
		}
		for _, meta := range all {
			cached[meta.CaseID] = meta
		}
	}

	out := make([]cache.CaseMetadata, 0, len(ids))
	for _, id := range ids {
		meta, ok := cached[id]
		if !ok {
			aggregate, err := h.load(ctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrCorruption) {
					// Only this case is unreadable; list the rest
					continue
				}
				return nil, err
			}
			meta = cache.FromState(aggregate.State)
			h.refreshCache(ctx, aggregate.State)
		}
		if filter.match(meta) {
			out = append(out, meta)
		}
	}
	return out, nil
}

// RebuildCache replays every case and overwrites its metadata entry. A case
// that fails is skipped; the count of rebuilt entries is returned with the
// joined failures.
func (h *CaseHandler) RebuildCache(ctx context.Context) (int, error) {
	if h.cache == nil {
		return 0, errors.New("no metadata cache configured")
	}

	ids, err := h.store.ListCaseIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list cases: %w", err)
	}

	var (
		rebuilt int
		errs    []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		aggregate, err := h.load(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("case %s: %w", id, err))
			continue
		}
		if err := h.cache.Update(ctx, cache.FromState(aggregate.State)); err != nil {
			errs = append(errs, fmt.Errorf("failed to update metadata for %s: %w", id, err))
			continue
		}
		rebuilt++
	}

	log.Info().Int("cases", len(ids)).Int("rebuilt", rebuilt).Int("failed", len(errs)).Msg("Metadata cache rebuilt")
	return rebuilt, errors.Join(errs...)
}
