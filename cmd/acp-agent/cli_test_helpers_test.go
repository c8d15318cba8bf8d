package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acp-sdk/acp-core/agent"
)

// issueCertServer stubs the CA's issue_cert endpoint, mirroring
// agent.TestCreateAIDPersistsKeyAndCert's fixture.
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

// resetFlags clears every persistent/local flag the CLI tests touch,
// since flagCABase/flagAPBase/flagStoragePath/flagConfigFile are
// package-level vars shared by every RunE across the test binary.
func resetFlags() {
	flagCABase = ""
	flagAPBase = ""
	flagStoragePath = "."
	flagConfigFile = ""
	onlinePassword = ""
	offlinePassword = ""
}

// createTestAID points the process-wide AgentCP at storageDir/caURL and
// creates aid/password on disk, returning the initialized façade.
func createTestAID(t *testing.T, caURL, storageDir, aid, password string) *agent.AgentCP {
	t.Helper()
	cp := agent.GetAgentCP()
	require.NoError(t, cp.Initialize(agent.Config{
		CABase:      caURL,
		APBase:      "http://ap.invalid",
		StoragePath: storageDir,
	}))
	_, err := cp.CreateAID(context.Background(), aid, password)
	require.NoError(t, err)
	return cp
}
