package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshTotal counts completed refreshes by outcome (success, failure, superseded).
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siraat_session_refresh_total",
			Help: "Total number of token refreshes by outcome",
		},
		[]string{"outcome"},
	)

	// RefreshDuration observes how long each refresh call took.
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "siraat_session_refresh_duration_seconds",
			Help:    "Duration of token refresh calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QueuedRequests counts callers that waited on a refresh.
	QueuedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siraat_session_queued_requests_total",
			Help: "Total number of requests that waited for a token refresh",
		},
	)

	// Refreshing is 1 while a refresh is in flight.
	Refreshing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siraat_session_refreshing",
			Help: "Whether a token refresh is currently in flight (1) or not (0)",
		},
	)

	// ReplayTotal counts requests replayed after a refresh.
	ReplayTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siraat_session_replays_total",
			Help: "Total number of requests replayed with a refreshed token",
		},
	)
)
