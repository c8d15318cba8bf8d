package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WSConnections tracks currently open message-session connections.
	WSConnections = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections",
			Help:      "Number of currently open WebSocket connections",
		},
	)

	// WSReconnects tracks reconnect attempts by outcome.
	WSReconnects = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts",
		},
		[]string{"status"}, // success, failure
	)

	// WSMessages tracks JSON/binary frames exchanged.
	WSMessages = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "Total number of WebSocket messages exchanged",
		},
		[]string{"direction", "content_type"}, // inbound/outbound, json/binary
	)

	// WSFrameSize tracks encoded frame sizes, after compression.
	WSFrameSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "frame_size_bytes",
			Help:      "Size of encoded WebSocket frames in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
	)

	// WSAckLatency tracks the time between sending a request and
	// receiving its correlated ack.
	WSAckLatency = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "ack_latency_seconds",
			Help:      "Latency between a sent request and its acknowledgement",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)
)
