package projections

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/changeorder/domain"
	"example.com/backstage/services/changeorder/eventstore"
	"example.com/backstage/services/changeorder/metrics"
)

// EventSink receives stored events from the outbox
type EventSink interface {
	HandleEvent(ctx context.Context, event domain.Event) error
}

// EventProcessor hands stored events to downstream sinks and marks them
// processed. An event is marked only once every sink accepted it; a failed
// event keeps its error and is retried on the next tick.
type EventProcessor struct {
	store              eventstore.EventStore
	sinks              []EventSink
	metrics            *metrics.Metrics
	batchSize          int
	processingInterval time.Duration
	running            bool
	mutex              sync.Mutex
	stopChan           chan struct{}
	done               chan struct{}
}

// NewEventProcessor creates a new event processor
func NewEventProcessor(store eventstore.EventStore, m *metrics.Metrics, sinks ...EventSink) *EventProcessor {
	return &EventProcessor{
		store:              store,
		sinks:              sinks,
		metrics:            m,
		batchSize:          100,
		processingInterval: 5 * time.Second,
	}
}

// SetBatchSize sets how many events are read per tick
func (p *EventProcessor) SetBatchSize(n int) {
	if n > 0 {
		p.batchSize = n
	}
}

// SetInterval sets the polling interval
func (p *EventProcessor) SetInterval(d time.Duration) {
	if d > 0 {
		p.processingInterval = d
	}
}

// Start starts the event processor
func (p *EventProcessor) Start(ctx context.Context) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	go p.processEvents(ctx, p.stopChan, p.done)
}

// Stop stops the event processor and waits for the current batch
func (p *EventProcessor) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.running {
		return
	}

	p.running = false
	close(p.stopChan)
	<-p.done
}

func (p *EventProcessor) processEvents(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.processingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to process event batch")
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProcessBatch delivers one batch of unprocessed events and returns how
// many were marked processed
func (p *EventProcessor) ProcessBatch(ctx context.Context) (int, error) {
	events, err := p.store.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	log.Info().Msgf("Processing %d events", len(events))

	processed := 0
	// A case whose event failed is skipped for the rest of the batch so
	// sinks never see its events out of order
	blocked := map[string]bool{}
	for _, event := range events {
		if blocked[event.CaseID] {
			continue
		}

		if err := p.processEvent(ctx, event); err != nil {
			blocked[event.CaseID] = true
			p.metrics.OutboxResult("failed")
			log.Error().Err(err).Str("caseID", event.CaseID).Int("position", event.Position).Msg("Failed to process event")
			if err := p.store.MarkEventAsFailed(ctx, event.CaseID, event.Position, err.Error()); err != nil {
				log.Error().Err(err).Str("caseID", event.CaseID).Msg("Failed to record event error")
			}
			continue
		}

		if err := p.store.MarkEventAsProcessed(ctx, event.CaseID, event.Position); err != nil {
			log.Error().Err(err).Str("caseID", event.CaseID).Int("position", event.Position).Msg("Failed to mark event as processed")
			blocked[event.CaseID] = true
			continue
		}
		p.metrics.OutboxResult("delivered")
		processed++
	}

	return processed, nil
}

func (p *EventProcessor) processEvent(ctx context.Context, event domain.Event) error {
	for _, sink := range p.sinks {
		if err := sink.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
