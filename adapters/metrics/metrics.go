// Package metrics provides Prometheus metrics for the accounting pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for apimeter.
type Collector struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Rate limit metrics
	RateLimitHits *prometheus.CounterVec

	// Ledger metrics
	LedgerAppendErrors prometheus.Counter

	// Alert metrics
	AlertsEmitted    *prometheus.CounterVec
	EvaluationErrors prometheus.Counter

	// Degraded-mode metrics (fail-open, skipped steps)
	DegradedMode *prometheus.CounterVec
}

// New creates a metrics collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apimeter",
				Name:      "requests_total",
				Help:      "Total number of requests processed by the pipeline",
			},
			[]string{"method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "apimeter",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "status"},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apimeter",
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apimeter",
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limit rejections",
			},
			[]string{"scope"},
		),
		LedgerAppendErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "apimeter",
				Name:      "ledger_append_errors_total",
				Help:      "Total number of failed usage ledger writes",
			},
		),
		AlertsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apimeter",
				Name:      "alerts_emitted_total",
				Help:      "Total number of alert events emitted",
			},
			[]string{"type", "level"},
		),
		EvaluationErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "apimeter",
				Name:      "alert_evaluation_errors_total",
				Help:      "Total number of swallowed alert evaluation errors",
			},
		),
		DegradedMode: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apimeter",
				Name:      "degraded_mode_total",
				Help:      "Times a component failure degraded to its fallback policy",
			},
			[]string{"component"},
		),
	}
}
