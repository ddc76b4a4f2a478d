// Package metrics aggregates request outcomes across the whole process.
// Counters live in a private Prometheus registry so constructing more than
// one Aggregator (e.g. in tests) never panics on duplicate collectors.
// State is process-scoped; nothing is persisted across restarts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Aggregator maintains the global request statistics and per-backend
// advisory counters.
type Aggregator struct {
	// Registry is the Prometheus registry that owns these metrics, exposed
	// so an embedding application can scrape it.
	Registry *prometheus.Registry

	requestsTotal   prometheus.Counter
	successTotal    prometheus.Counter
	failedTotal     prometheus.Counter
	latencyMsTotal  prometheus.Counter
	costTotal       prometheus.Counter
	backendFailures *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
}

// NewAggregator creates an aggregator with a dedicated Prometheus registry.
func NewAggregator() *Aggregator {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Aggregator{
		Registry: reg,

		requestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskrelay_requests_total",
			Help: "Total tasks submitted, counted once per task regardless of retries.",
		}),
		successTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskrelay_requests_succeeded_total",
			Help: "Total tasks that produced an outcome.",
		}),
		failedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskrelay_requests_failed_total",
			Help: "Total tasks that exhausted every candidate backend.",
		}),
		latencyMsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskrelay_success_latency_ms_total",
			Help: "Sum of successful-call latencies in milliseconds.",
		}),
		costTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskrelay_estimated_cost_total",
			Help: "Sum of estimated request costs. Approximate, not billing-grade.",
		}),
		backendFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrelay_backend_failures_total",
				Help: "Failed attempts per backend, including ones later recovered by failover.",
			},
			[]string{"backend"},
		),
		backendLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskrelay_backend_latency_seconds",
				Help:    "Successful-call latency per backend.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
	}
}

// RecordAttemptStart counts one submitted task. Called once per task, not
// once per backend attempt, so a task retried across two backends is still
// a single request for rate purposes.
func (a *Aggregator) RecordAttemptStart() {
	a.requestsTotal.Inc()
}

// RecordSuccess counts a completed task and folds in its latency and cost.
func (a *Aggregator) RecordSuccess(backendID string, latencyMs, estimatedCost float64) {
	a.successTotal.Inc()
	a.latencyMsTotal.Add(latencyMs)
	a.costTotal.Add(estimatedCost)
	a.backendLatency.WithLabelValues(backendID).Observe(latencyMs / 1000)
}

// RecordAttemptFailure counts one failed backend attempt. Advisory only; it
// does not touch the global failed-request counter.
func (a *Aggregator) RecordAttemptFailure(backendID string) {
	a.backendFailures.WithLabelValues(backendID).Inc()
}

// RecordFailure counts one task that exhausted all candidates.
func (a *Aggregator) RecordFailure() {
	a.failedTotal.Inc()
}

// Snapshot is a read-only view of the global statistics with derived rates.
type Snapshot struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	TotalLatencyMs     float64
	EstimatedTotalCost float64

	SuccessRate       float64
	AvgLatencyMs      float64
	AvgCostPerRequest float64
}

// Snapshot reads the counters back and derives the rate metrics. Derived
// values are zero while their denominators are zero.
func (a *Aggregator) Snapshot() Snapshot {
	total := counterValue(a.requestsTotal)
	succeeded := counterValue(a.successTotal)
	failed := counterValue(a.failedTotal)
	latency := counterValue(a.latencyMsTotal)
	cost := counterValue(a.costTotal)

	s := Snapshot{
		TotalRequests:      int64(total),
		SuccessfulRequests: int64(succeeded),
		FailedRequests:     int64(failed),
		TotalLatencyMs:     latency,
		EstimatedTotalCost: cost,
	}
	if total > 0 {
		s.SuccessRate = succeeded / total
		s.AvgCostPerRequest = cost / total
	}
	if succeeded > 0 {
		s.AvgLatencyMs = latency / succeeded
	}
	return s
}

// counterValue extracts the current value from a Prometheus counter.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
