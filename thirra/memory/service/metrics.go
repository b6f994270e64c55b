package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "thirra"

// Metrics are the Prometheus instruments of the memory pipeline. A nil *Metrics is
// valid and records nothing.
//
// Metrics:
//   - thirra_memory_cache_requests_total{cache,result}: turn cache hits and misses
//   - thirra_memory_summary_events_total{event}: regenerated, reused, failed, skipped
//   - thirra_memory_routing_decisions_total{category,method}
//   - thirra_memory_budget_overflow_total and thirra_memory_budget_overflow_chars
//   - thirra_memory_retrieval_duration_seconds
//   - thirra_memory_indexed_chunks_total
//   - thirra_memory_cost_savings_usd_total
type Metrics struct {
	cacheRequests       *prometheus.CounterVec
	summaryEvents       *prometheus.CounterVec
	routingDecisions    *prometheus.CounterVec
	budgetOverflow      prometheus.Counter
	budgetOverflowChars prometheus.Histogram
	retrievalDuration   prometheus.Histogram
	indexedChunks       prometheus.Counter
	costSavings         prometheus.Counter
}

// NewMetrics creates the instruments and registers them with registry when it is not nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "memory",
				Name:      "cache_requests_total",
				Help:      "Memory cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),
		summaryEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "memory",
				Name:      "summary_events_total",
				Help:      "Long-term summary cache outcomes",
			},
			[]string{"event"},
		),
		routingDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "memory",
				Name:      "routing_decisions_total",
				Help:      "Query routing decisions by category and method",
			},
			[]string{"category", "method"},
		),
		budgetOverflow: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "memory",
				Name:      "budget_overflow_total",
				Help:      "Prompts that stayed over the character budget after all reductions",
			},
		),
		budgetOverflowChars: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "memory",
				Name:      "budget_overflow_chars",
				Help:      "Characters over budget per overflowing prompt",
				Buckets:   []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
			},
		),
		retrievalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "memory",
				Name:      "retrieval_duration_seconds",
				Help:      "Semantic recall latency including indexing",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		indexedChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "memory",
				Name:      "indexed_chunks_total",
				Help:      "Chunks embedded into semantic indexes",
			},
		),
		costSavings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "memory",
				Name:      "cost_savings_usd_total",
				Help:      "Estimated savings against always routing to the premium tier",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.cacheRequests,
			m.summaryEvents,
			m.routingDecisions,
			m.budgetOverflow,
			m.budgetOverflowChars,
			m.retrievalDuration,
			m.indexedChunks,
			m.costSavings,
		)
	}
	return m
}

// RecordCache counts one lookup against a named cache.
func (m *Metrics) RecordCache(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(cache, result).Inc()
}

// RecordSummary counts one summary cache outcome.
func (m *Metrics) RecordSummary(event string) {
	if m == nil {
		return
	}
	m.summaryEvents.WithLabelValues(event).Inc()
}

// RecordRouting counts one routing decision.
func (m *Metrics) RecordRouting(category Category, method RoutingMethod) {
	if m == nil {
		return
	}
	m.routingDecisions.WithLabelValues(string(category), string(method)).Inc()
}

// RecordBudgetOverflow records an unresolved budget overflow.
func (m *Metrics) RecordBudgetOverflow(chars int) {
	if m == nil || chars <= 0 {
		return
	}
	m.budgetOverflow.Inc()
	m.budgetOverflowChars.Observe(float64(chars))
}

// RecordRetrieval observes one recall pass.
func (m *Metrics) RecordRetrieval(d time.Duration) {
	if m == nil {
		return
	}
	m.retrievalDuration.Observe(d.Seconds())
}

// RecordIndexed counts newly embedded chunks.
func (m *Metrics) RecordIndexed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.indexedChunks.Add(float64(n))
}

// RecordCostSavings adds an estimated saving in USD.
func (m *Metrics) RecordCostSavings(usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.costSavings.Add(usd)
}
