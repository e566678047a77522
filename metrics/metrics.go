// Package metrics provides Prometheus metrics for gateway operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for gateway operations.
// A nil or disabled Metrics is a valid no-op.
type Metrics struct {
	enabled bool

	// Compliance metrics
	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram

	// Token metrics
	tokensIssuedTotal       prometheus.Counter
	tokenVerificationsTotal *prometheus.CounterVec

	// Tax metrics
	taxComputationsTotal *prometheus.CounterVec

	// Limiter metrics
	rateLimitEntries prometheus.Gauge
	rateLimitSwept   prometheus.Counter

	// Audit metrics
	auditDropped prometheus.Counter
}

// New creates and registers gateway metrics on reg.
// If reg is nil, returns a no-op Metrics instance.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: reg != nil}

	if !m.enabled {
		return m
	}
	f := promauto.With(reg)

	// Compliance metrics
	m.decisionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "sendgate_decisions_total",
		Help: "Total compliance decisions",
	}, []string{"class", "reason"})

	m.decisionDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "sendgate_decision_duration_seconds",
		Help:    "Compliance decision duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
	})

	// Token metrics
	m.tokensIssuedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "sendgate_tokens_issued_total",
		Help: "Total signed tokens issued",
	})

	m.tokenVerificationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "sendgate_token_verifications_total",
		Help: "Total token verifications by result",
	}, []string{"result"})

	// Tax metrics
	m.taxComputationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "sendgate_tax_computations_total",
		Help: "Total tax breakdown computations",
	}, []string{"result"})

	// Limiter metrics
	m.rateLimitEntries = f.NewGauge(prometheus.GaugeOpts{
		Name: "sendgate_ratelimit_entries",
		Help: "Current number of recipient entries in the process-local limiter",
	})

	m.rateLimitSwept = f.NewCounter(prometheus.CounterOpts{
		Name: "sendgate_ratelimit_swept_total",
		Help: "Total expired limiter entries removed by the sweeper",
	})

	// Audit metrics
	m.auditDropped = f.NewCounter(prometheus.CounterOpts{
		Name: "sendgate_audit_dropped_total",
		Help: "Total audit events dropped because the audit queue was full",
	})

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// RecordDecision records a compliance decision.
func (m *Metrics) RecordDecision(class, reason string, d time.Duration) {
	if !m.on() {
		return
	}
	m.decisionsTotal.WithLabelValues(class, reason).Inc()
	m.decisionDuration.Observe(d.Seconds())
}

// RecordTokenIssued records an issued token.
func (m *Metrics) RecordTokenIssued() {
	if !m.on() {
		return
	}
	m.tokensIssuedTotal.Inc()
}

// RecordTokenVerification records a verification outcome ("ok" or a failure reason).
func (m *Metrics) RecordTokenVerification(result string) {
	if !m.on() {
		return
	}
	m.tokenVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordTaxComputation records a tax computation outcome.
func (m *Metrics) RecordTaxComputation(result string) {
	if !m.on() {
		return
	}
	m.taxComputationsTotal.WithLabelValues(result).Inc()
}

// SetRateLimitEntries sets the current limiter size.
func (m *Metrics) SetRateLimitEntries(n int) {
	if !m.on() {
		return
	}
	m.rateLimitEntries.Set(float64(n))
}

// RecordSwept records entries dropped by a limiter sweep.
func (m *Metrics) RecordSwept(n int) {
	if !m.on() {
		return
	}
	m.rateLimitSwept.Add(float64(n))
}

// RecordAuditDropped records an audit event dropped on a full queue.
func (m *Metrics) RecordAuditDropped() {
	if !m.on() {
		return
	}
	m.auditDropped.Inc()
}
