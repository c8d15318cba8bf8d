package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GroupRequests tracks group-client requests by action and outcome.
	GroupRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "requests_total",
			Help:      "Total number of group client requests by action and outcome",
		},
		[]string{"action", "status"}, // e.g. create_group/pull_messages, sent/send_failed/timeout
	)

	// GroupRequestDuration tracks request/response correlation latency.
	GroupRequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "request_duration_seconds",
			Help:      "Group request round trip duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"action"},
	)

	// GroupNotifications tracks unsolicited server notifications dispatched
	// to registered event handlers.
	GroupNotifications = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "notifications_total",
			Help:      "Total number of group notifications dispatched",
		},
		[]string{"event_type"},
	)

	// GroupCursorSyncs tracks cursor sync operations.
	GroupCursorSyncs = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "cursor_syncs_total",
			Help:      "Total number of cursor sync operations",
		},
		[]string{"status"},
	)

	// GroupPendingRequests tracks in-flight correlated requests awaiting
	// a response.
	GroupPendingRequests = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "pending_requests",
			Help:      "Number of group requests awaiting a correlated response",
		},
	)
)
