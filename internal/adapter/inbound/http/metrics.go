package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	Rejections         *prometheus.CounterVec
	RateLimitDecisions *prometheus.CounterVec
	RateLimitKeys      *prometheus.GaugeVec
	EventDropsTotal    prometheus.Counter
	Logins             *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pharmagate",
				Name:      "requests_total",
				Help:      "Requests handled behind the gatekeeper, by rate-limit tier",
			},
			[]string{"method", "tier", "outcome"}, // tier=auth/strict/api/upstream, outcome=ok/rejected/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pharmagate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds, by rate-limit tier",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tier"},
		),
		Rejections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pharmagate",
				Name:      "rejections_total",
				Help:      "Requests rejected by the gatekeeper",
			},
			[]string{"kind"},
		),
		RateLimitDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pharmagate",
				Name:      "ratelimit_decisions_total",
				Help:      "Rate limit decisions per tier",
			},
			[]string{"tier", "result"}, // result=allowed/denied/error
		),
		RateLimitKeys: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pharmagate",
				Name:      "ratelimit_keys",
				Help:      "Number of tracked rate limit clients per tier",
			},
			[]string{"tier"},
		),
		EventDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "pharmagate",
				Name:      "event_drops_total",
				Help:      "Total security events dropped due to backpressure",
			},
		),
		Logins: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pharmagate",
				Name:      "logins_total",
				Help:      "Login attempts by result",
			},
			[]string{"result"}, // result=success/invalid/locked/error
		),
	}
}
