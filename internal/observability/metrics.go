package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadassist", Name: "requests_created_total", Help: "Total service requests created"})
	MatchesDispatched = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadassist", Name: "matches_dispatched_total", Help: "Total dispatch runs that notified at least one provider"})
	MatchesEmpty      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadassist", Name: "matches_empty_total", Help: "Total dispatch runs that found no provider"})
	ProvidersNotified = promauto.NewCounter(prometheus.CounterOpts{Namespace: "roadassist", Name: "providers_notified_total", Help: "Total providers notified about new requests"})

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadassist", Name: "request_transitions_total", Help: "State-machine transitions by operation and outcome"},
		[]string{"op", "outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadassist", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "roadassist",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
