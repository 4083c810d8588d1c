// Package metrics holds the Prometheus instruments for retrieval and consolidation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Retrievals        *prometheus.CounterVec
	RetrievalLatency  prometheus.Histogram
	RetrievedMemories prometheus.Histogram

	Submissions       *prometheus.CounterVec
	ProviderFallbacks *prometheus.CounterVec
	Deactivations     *prometheus.CounterVec

	ConsolidationRuns    *prometheus.CounterVec
	ConsolidationLatency prometheus.Histogram
}

// New registers the metrics on reg. A nil reg uses a private registry so
// repeated construction in tests never collides.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Retrievals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_recall_retrievals_total",
			Help: "Total number of retrievals by outcome",
		}, []string{"outcome"}), // ok | empty | error

		RetrievalLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_recall_retrieval_duration_seconds",
			Help:    "Retrieval latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		RetrievedMemories: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_recall_retrieved_memories",
			Help:    "Number of memories returned per retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 20},
		}),

		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_recall_submissions_total",
			Help: "Total number of submitted candidates by outcome",
		}, []string{"outcome"}), // stored | duplicate | invalid | error

		ProviderFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_recall_provider_fallbacks_total",
			Help: "Embedding provider failures that degraded to a non-semantic path",
		}, []string{"path"}), // retrieve | submit | backfill

		Deactivations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_recall_deactivations_total",
			Help: "Memories deactivated by reason",
		}, []string{"reason"}), // superseded | consolidated

		ConsolidationRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_recall_consolidation_runs_total",
			Help: "Consolidation runs by outcome",
		}, []string{"outcome"}), // ok | skipped | error

		ConsolidationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_recall_consolidation_duration_seconds",
			Help:    "Consolidation run latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveRetrieval(outcome string, started time.Time, n int) {
	if m == nil {
		return
	}
	m.Retrievals.WithLabelValues(outcome).Inc()
	m.RetrievalLatency.Observe(time.Since(started).Seconds())
	if outcome != "error" {
		m.RetrievedMemories.Observe(float64(n))
	}
}

func (m *Metrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFallback(path string) {
	if m == nil {
		return
	}
	m.ProviderFallbacks.WithLabelValues(path).Inc()
}

func (m *Metrics) ObserveDeactivations(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Deactivations.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) ObserveConsolidation(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.ConsolidationRuns.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		m.ConsolidationLatency.Observe(time.Since(started).Seconds())
	}
}
