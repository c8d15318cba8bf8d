package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HeartbeatsSent tracks UDP heartbeat requests sent.
	HeartbeatsSent = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "sent_total",
			Help:      "Total number of heartbeat requests sent",
		},
	)

	// HeartbeatsFailed tracks heartbeats that timed out or errored by reason.
	HeartbeatsFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "failed_total",
			Help:      "Total number of failed heartbeats by reason",
		},
		[]string{"reason"}, // timeout, reauth_required, network
	)

	// HeartbeatLatency tracks request/response round trip latency.
	HeartbeatLatency = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "latency_seconds",
			Help:      "Heartbeat round trip latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to 512ms
		},
	)

	// InvitesReceived tracks invite notifications delivered over the
	// heartbeat channel.
	InvitesReceived = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "heartbeat",
			Name:      "invites_received_total",
			Help:      "Total number of session invites received over heartbeat",
		},
	)
)
