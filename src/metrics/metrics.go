package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rageval"

// Metrics holds the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	judgeCalls       *prometheus.CounterVec
	judgeDuration    prometheus.Histogram
	itemResults      *prometheus.CounterVec
	testTransitions  *prometheus.CounterVec
	txRetries        prometheus.Counter
	assignmentEvents *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		judgeCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "calls_total",
			Help:      "Judge calls by outcome.",
		}, []string{"outcome"}),
		judgeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "call_duration_seconds",
			Help:      "Latency of judge calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		itemResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_results_total",
			Help:      "Item results submitted by track and outcome.",
		}, []string{"track", "outcome"}),
		testTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "test_transitions_total",
			Help:      "Test status transitions by target status.",
		}, []string{"status"}),
		txRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_conflicts_total",
			Help:      "Store transactions retried after a persistence conflict.",
		}),
		assignmentEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignment_events_total",
			Help:      "Human assignment lifecycle events.",
		}, []string{"event"}),
	}
}

func (m *Metrics) ObserveJudgeCall(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.judgeCalls.WithLabelValues(outcome).Inc()
	m.judgeDuration.Observe(d.Seconds())
}

func (m *Metrics) ItemResult(track, outcome string) {
	if m == nil {
		return
	}
	m.itemResults.WithLabelValues(track, outcome).Inc()
}

func (m *Metrics) TestTransition(status string) {
	if m == nil {
		return
	}
	m.testTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) TransactionConflict() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

func (m *Metrics) AssignmentEvent(event string) {
	if m == nil {
		return
	}
	m.assignmentEvents.WithLabelValues(event).Inc()
}
