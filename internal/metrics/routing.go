package metrics

import "github.com/prometheus/client_golang/prometheus"

// Routing, cache and feedback metrics.
var (
	RouteDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_decisions_total",
			Help:      "Routing decisions by route and cache state",
		},
		[]string{"route", "cached"},
	)

	RouteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_duration_seconds",
			Help:      "End-to-end routing latency by final route",
			Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"route"},
	)

	TierAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_attempts_total",
			Help:      "Tier attempts by outcome",
		},
		[]string{"tier", "outcome"}, // outcome: accepted / fallthrough / timeout / error
	)

	ResponseCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_total",
			Help:      "Response cache hits and misses",
		},
		[]string{"result"},
	)

	ResponseCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "response_cache_entries",
			Help:      "Number of entries in the response cache",
		},
	)

	SingleflightSharedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_shared_total",
			Help:      "Requests served by joining an in-flight computation",
		},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_total",
			Help:      "Feedback submissions by verdict and outcome",
		},
		[]string{"verdict", "outcome"}, // outcome: promoted / recorded / unresolved / failed
	)

	GuardrailViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_violations_total",
			Help:      "Queries rejected by the guardrail",
		},
		[]string{"reason"},
	)
)

var routingMetricsRegistered bool

// RegisterRoutingMetrics registers routing metrics. Must be called once from main.
func RegisterRoutingMetrics() {
	if routingMetricsRegistered {
		return
	}
	prometheus.MustRegister(RouteDecisionsTotal)
	prometheus.MustRegister(RouteDuration)
	prometheus.MustRegister(TierAttemptsTotal)
	prometheus.MustRegister(ResponseCacheTotal)
	prometheus.MustRegister(ResponseCacheEntries)
	prometheus.MustRegister(SingleflightSharedTotal)
	prometheus.MustRegister(FeedbackTotal)
	prometheus.MustRegister(GuardrailViolationsTotal)
	routingMetricsRegistered = true
}
