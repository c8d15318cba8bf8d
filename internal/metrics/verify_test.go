package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	if AuthAttempts == nil {
		t.Error("AuthAttempts metric is nil")
	}
	if HeartbeatsSent == nil {
		t.Error("HeartbeatsSent metric is nil")
	}
	if WSReconnects == nil {
		t.Error("WSReconnects metric is nil")
	}
	if GroupRequests == nil {
		t.Error("GroupRequests metric is nil")
	}
	if SessionsCreated == nil {
		t.Error("SessionsCreated metric is nil")
	}
	if CryptoOperations == nil {
		t.Error("CryptoOperations metric is nil")
	}
}

func TestMetricsIncrement(t *testing.T) {
	AuthAttempts.WithLabelValues("signin", "success").Inc()
	AuthDuration.WithLabelValues("signin").Observe(0.05)

	HeartbeatsSent.Inc()
	HeartbeatLatency.Observe(0.01)

	WSReconnects.WithLabelValues("success").Inc()
	WSMessages.WithLabelValues("outbound", "json").Inc()

	GroupRequests.WithLabelValues("push_message", "success").Inc()
	GroupRequestDuration.WithLabelValues("push_message").Observe(0.2)

	SessionsCreated.WithLabelValues("success").Inc()
	SessionsActive.Inc()

	CryptoOperations.WithLabelValues("sign", "ecdsa-p384").Inc()

	if count := testutil.CollectAndCount(AuthAttempts); count == 0 {
		t.Error("AuthAttempts has no metrics collected")
	}
	if count := testutil.CollectAndCount(GroupRequests); count == 0 {
		t.Error("GroupRequests has no metrics collected")
	}
	if count := testutil.CollectAndCount(CryptoOperations); count == 0 {
		t.Error("CryptoOperations has no metrics collected")
	}
}

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()
	c.RecordAuth(true, 10_000_000)
	c.RecordAuth(false, 20_000_000)
	c.RecordHeartbeat(true, 1_000_000)
	c.RecordGroupRequest(true, 50_000_000)

	snap := c.Snapshot()
	if snap.AuthAttempts != 2 {
		t.Errorf("expected 2 auth attempts, got %d", snap.AuthAttempts)
	}
	if snap.AuthFailures != 1 {
		t.Errorf("expected 1 auth failure, got %d", snap.AuthFailures)
	}
	if snap.HeartbeatsSent != 1 {
		t.Errorf("expected 1 heartbeat, got %d", snap.HeartbeatsSent)
	}
	if snap.GroupTimeouts != 1 {
		t.Errorf("expected 1 group timeout, got %d", snap.GroupTimeouts)
	}
	if snap.AvgAuthLatency <= 0 {
		t.Error("expected non-zero average auth latency")
	}

	c.Reset()
	snap = c.Snapshot()
	if snap.AuthAttempts != 0 {
		t.Error("expected counters to reset")
	}
}
