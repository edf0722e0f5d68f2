// Package metrics exposes gateway operation as Prometheus instruments:
// request throughput by final outcome, per-checkpoint policy evaluation
// latency, and HITL review queue depth.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every instrument the gateway records against. Construct
// one with New and register it with a *prometheus.Registry (or the
// default one) before exposing /metrics.
type Metrics struct {
	requestsTotal       *prometheus.CounterVec
	policyEvalDuration  *prometheus.HistogramVec
	routerDuration      *prometheus.HistogramVec
	reviewQueueDepth    prometheus.Gauge
	auditWriteFailures  *prometheus.CounterVec
}

// New creates and registers the gateway's metrics with registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "requests_total",
				Help:      "Total governed requests by final outcome.",
			},
			[]string{"outcome"},
		),
		policyEvalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Name:      "policy_evaluation_duration_seconds",
				Help:      "Duration of a full policy engine evaluation, by checkpoint.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs .. ~1.6s
			},
			[]string{"checkpoint"},
		),
		routerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Name:      "router_duration_seconds",
				Help:      "Duration of a model router call, by provider.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		reviewQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Name:      "hitl_review_queue_depth",
				Help:      "Most recently observed count of pending HITL reviews.",
			},
		),
		auditWriteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "audit_write_failures_total",
				Help:      "Audit sink write failures by event type.",
			},
			[]string{"event_type"},
		),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.policyEvalDuration,
		m.routerDuration,
		m.reviewQueueDepth,
		m.auditWriteFailures,
	)

	return m
}

// RecordRequest increments the request counter for a final outcome
// (ALLOW, BLOCK, ESCALATE, REDACT, or "error" for a routing failure).
func (m *Metrics) RecordRequest(outcome string) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

// RecordPolicyEvaluation records how long one checkpoint's full policy
// evaluation took.
func (m *Metrics) RecordPolicyEvaluation(checkpoint string, d time.Duration) {
	m.policyEvalDuration.WithLabelValues(checkpoint).Observe(d.Seconds())
}

// RecordRouterCall records how long a model router call took.
func (m *Metrics) RecordRouterCall(provider string, d time.Duration) {
	m.routerDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// SetReviewQueueDepth sets the current pending-review gauge.
func (m *Metrics) SetReviewQueueDepth(depth int) {
	m.reviewQueueDepth.Set(float64(depth))
}

// RecordAuditWriteFailure increments the audit failure counter for an
// event type. It only increments a counter and cannot fail.
func (m *Metrics) RecordAuditWriteFailure(eventType string) {
	m.auditWriteFailures.WithLabelValues(eventType).Inc()
}
