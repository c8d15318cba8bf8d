package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnvelopesDispatched tracks JSON envelope commands dispatched to
	// their registered handlers.
	EnvelopesDispatched = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "message",
			Name:      "envelopes_dispatched_total",
			Help:      "Total number of JSON envelope commands dispatched",
		},
		[]string{"cmd", "status"},
	)

	// EnvelopeProcessingDuration tracks time spent handling a dispatched
	// envelope.
	EnvelopeProcessingDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "message",
			Name:      "envelope_processing_duration_seconds",
			Help:      "Envelope handler processing duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
	)
)
