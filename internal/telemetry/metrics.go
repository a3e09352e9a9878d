package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter and histogram the pipeline emits. One
// instance per process, registered against its own registry so tests can
// build isolated copies.
type Metrics struct {
	registry *prometheus.Registry

	FeedEvents        *prometheus.CounterVec
	SnapshotsComputed *prometheus.CounterVec
	Decisions         *prometheus.CounterVec
	StagingOutcomes   *prometheus.CounterVec
	Cancellations     *prometheus.CounterVec
	JournalDrops      prometheus.Counter
	DecisionLatency   prometheus.Histogram
}

// NewMetrics builds and registers the full metric set.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.FeedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tapewatch",
		Name:      "feed_events_total",
		Help:      "Feed events consumed, by kind (depth, trade).",
	}, []string{"kind"})

	m.SnapshotsComputed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tapewatch",
		Name:      "snapshots_computed_total",
		Help:      "Metric snapshots computed, by validity.",
	}, []string{"valid"})

	m.Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tapewatch",
		Name:      "decisions_total",
		Help:      "Validator decisions, by outcome (accepted, rejected, no_candidate).",
	}, []string{"outcome"})

	m.StagingOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tapewatch",
		Name:      "staging_outcomes_total",
		Help:      "Admission control outcomes, by result (staged or rejection reason).",
	}, []string{"result"})

	m.Cancellations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tapewatch",
		Name:      "cancellations_total",
		Help:      "Monitor withdrawals, by symbol.",
	}, []string{"symbol"})

	m.JournalDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tapewatch",
		Name:      "journal_drops_total",
		Help:      "Journal entries dropped because the write buffer was full.",
	})

	m.DecisionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tapewatch",
		Name:      "decision_latency_seconds",
		Help:      "Latency from feed event receipt to decision.",
		Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
	})

	m.registry.MustRegister(
		m.FeedEvents,
		m.SnapshotsComputed,
		m.Decisions,
		m.StagingOutcomes,
		m.Cancellations,
		m.JournalDrops,
		m.DecisionLatency,
	)
	return m
}

// Registry exposes the backing registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
