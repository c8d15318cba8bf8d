package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acp-sdk/acp-core/health"
	"github.com/acp-sdk/acp-core/internal/logger"
)

func issueCertServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AgentID string `json:"agent_id"`
			CSR     string `json:"csr"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		require.NotEmpty(t, body.CSR)
		if _, err := base64.StdEncoding.DecodeString(body.CSR); err != nil {
			t.Fatalf("csr not base64: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"cert_pem": "-----BEGIN CERTIFICATE-----\nstub\n-----END CERTIFICATE-----\n"})
	}))
}

func newTestAgentCP(t *testing.T, caBase string) *AgentCP {
	t.Helper()
	cp := &AgentCP{agents: make(map[string]*AgentID)}
	err := cp.Initialize(Config{
		CABase:      caBase,
		APBase:      "http://ap.invalid",
		StoragePath: t.TempDir(),
		LogLevel:    logger.ErrorLevel,
	})
	require.NoError(t, err)
	return cp
}

func TestCreateAIDPersistsKeyAndCert(t *testing.T) {
	ca := issueCertServer(t)
	defer ca.Close()
	cp := newTestAgentCP(t, ca.URL)

	agentID, err := cp.CreateAID(context.Background(), "alice.ap1", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice.ap1", agentID.GetAID())

	assert.FileExists(t, filepath.Join(cp.cfg.StoragePath, "alice.ap1", "alice.ap1.key"))
	assert.FileExists(t, filepath.Join(cp.cfg.StoragePath, "alice.ap1", "alice.ap1.crt"))
}

func TestCreateAIDRejectsDuplicate(t *testing.T) {
	ca := issueCertServer(t)
	defer ca.Close()
	cp := newTestAgentCP(t, ca.URL)

	_, err := cp.CreateAID(context.Background(), "bob.ap1", "pw")
	require.NoError(t, err)

	_, err = cp.CreateAID(context.Background(), "bob.ap1", "pw")
	assert.Error(t, err)
}

func TestLoadAIDRoundTripsAfterCreate(t *testing.T) {
	ca := issueCertServer(t)
	defer ca.Close()
	cp := newTestAgentCP(t, ca.URL)

	_, err := cp.CreateAID(context.Background(), "carol.ap1", "correct horse")
	require.NoError(t, err)

	// Drop the in-memory handle to force LoadAID to hit disk.
	cp.mu.Lock()
	delete(cp.agents, "carol.ap1")
	cp.mu.Unlock()

	loaded, err := cp.LoadAID("carol.ap1", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "carol.ap1", loaded.GetAID())
}

func TestLoadAIDWrongPasswordFails(t *testing.T) {
	ca := issueCertServer(t)
	defer ca.Close()
	cp := newTestAgentCP(t, ca.URL)

	_, err := cp.CreateAID(context.Background(), "dave.ap1", "right")
	require.NoError(t, err)
	cp.mu.Lock()
	delete(cp.agents, "dave.ap1")
	cp.mu.Unlock()

	_, err = cp.LoadAID("dave.ap1", "wrong")
	assert.Error(t, err)
}

func TestDeleteAIDRemovesFilesAndInvalidatesHandle(t *testing.T) {
	ca := issueCertServer(t)
	defer ca.Close()
	cp := newTestAgentCP(t, ca.URL)

	agentID, err := cp.CreateAID(context.Background(), "erin.ap1", "pw")
	require.NoError(t, err)

	require.NoError(t, cp.DeleteAID("erin.ap1"))
	assert.False(t, agentID.IsValid())
	assert.NoFileExists(t, filepath.Join(cp.cfg.StoragePath, "erin.ap1", "erin.ap1.key"))
}

func TestListAIDsReturnsCreatedIdentities(t *testing.T) {
	ca := issueCertServer(t)
	defer ca.Close()
	cp := newTestAgentCP(t, ca.URL)

	_, err := cp.CreateAID(context.Background(), "frank.ap1", "pw")
	require.NoError(t, err)
	_, err = cp.CreateAID(context.Background(), "grace.ap1", "pw")
	require.NoError(t, err)

	aids, err := cp.ListAIDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"frank.ap1", "grace.ap1"}, aids)
}

func TestCreateAIDFailsWithoutInitialize(t *testing.T) {
	cp := &AgentCP{agents: make(map[string]*AgentID)}
	_, err := cp.CreateAID(context.Background(), "nope.ap1", "pw")
	assert.Error(t, err)
}

func TestHealthReportsUnhealthyForErrorState(t *testing.T) {
	ca := issueCertServer(t)
	defer ca.Close()
	cp := newTestAgentCP(t, ca.URL)

	agentID, err := cp.CreateAID(context.Background(), "heidi.ap1", "pw")
	require.NoError(t, err)
	agentID.sm.transition(Connecting)
	agentID.sm.transition(Authenticating)
	agentID.sm.transition(Error)

	result, err := cp.Health().Run(context.Background(), "agent:heidi.ap1")
	require.NoError(t, err)
	assert.Equal(t, health.StatusUnhealthy, result.Status)
}

func TestHealthReportsDegradedForReconnecting(t *testing.T) {
	ca := issueCertServer(t)
	defer ca.Close()
	cp := newTestAgentCP(t, ca.URL)

	agentID, err := cp.CreateAID(context.Background(), "ivan.ap1", "pw")
	require.NoError(t, err)
	agentID.sm.transition(Connecting)
	agentID.sm.transition(Authenticating)
	agentID.sm.transition(Online)
	agentID.sm.transition(Reconnecting)

	result, err := cp.Health().Run(context.Background(), "agent:ivan.ap1")
	require.NoError(t, err)
	assert.Equal(t, health.StatusDegraded, result.Status)
}

func TestHealthUnregistersOnDeleteAID(t *testing.T) {
	ca := issueCertServer(t)
	defer ca.Close()
	cp := newTestAgentCP(t, ca.URL)

	_, err := cp.CreateAID(context.Background(), "judy.ap1", "pw")
	require.NoError(t, err)
	cp.Health()
	require.NoError(t, cp.DeleteAID("judy.ap1"))

	_, err = cp.health.Run(context.Background(), "agent:judy.ap1")
	assert.Error(t, err)
}
