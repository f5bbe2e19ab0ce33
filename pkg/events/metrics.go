package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Published counts session events handed to the writer.
	Published = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siraat_session_events_published_total",
			Help: "Total number of session events published",
		},
		[]string{"event_type"},
	)

	// PublishErrors counts session events the writer rejected.
	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siraat_session_events_publish_errors_total",
			Help: "Total number of session event publish errors",
		},
		[]string{"event_type"},
	)

	// Consumed counts session events read by a Consumer, by outcome:
	// "handled", "failed" (retries exhausted), "malformed" or "ignored" (unknown type).
	Consumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siraat_session_events_consumed_total",
			Help: "Total number of session events consumed",
		},
		[]string{"outcome"},
	)
)
