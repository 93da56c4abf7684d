package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of the change-order service. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	appends          *prometheus.CounterVec
	conflicts        prometheus.Counter
	rejections       *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	projectionErrors prometheus.Counter
	cacheErrors      prometheus.Counter
	outbox           *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())

	m := &Metrics{
		registry: registry,
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Events appended to case logs.",
		}, []string{"event_type"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Appends rejected because the expected version was stale.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rejected_total",
			Help:      "Commands rejected before storage.",
		}, []string{"command"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent handling a command.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"command"}),
		projectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_errors_total",
			Help:      "Case logs that could not be projected.",
		}),
		cacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_cache_errors_total",
			Help:      "Failed metadata cache refreshes.",
		}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Events handed to notifiers by the outbox worker.",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.appends,
		m.conflicts,
		m.rejections,
		m.commandDuration,
		m.projectionErrors,
		m.cacheErrors,
		m.outbox,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EventAppended(eventType string) {
	if m == nil {
		return
	}
	m.appends.WithLabelValues(eventType).Inc()
}

func (m *Metrics) VersionConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) CommandRejected(command string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(command).Inc()
}

func (m *Metrics) ObserveCommand(command string, started time.Time) {
	if m == nil {
		return
	}
	m.commandDuration.WithLabelValues(command).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ProjectionFailed() {
	if m == nil {
		return
	}
	m.projectionErrors.Inc()
}

func (m *Metrics) CacheRefreshFailed() {
	if m == nil {
		return
	}
	m.cacheErrors.Inc()
}

// OutboxResult counts an outbox delivery; result is "delivered" or "failed"
func (m *Metrics) OutboxResult(result string) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(result).Inc()
}
