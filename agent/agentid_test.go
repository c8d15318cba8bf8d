package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acp-sdk/acp-core/crypto/keys"
)

func newTestIdentityMaterial(t *testing.T) identity {
	t.Helper()
	kp, err := keys.GenerateP384KeyPair()
	require.NoError(t, err)
	keyPEM, err := keys.GenerateKeyPEM(kp)
	require.NoError(t, err)
	return identity{AID: "test.ap1", PrivateKey: keyPEM, CertPEM: "-----BEGIN CERTIFICATE-----\nstub\n-----END CERTIFICATE-----\n"}
}

func TestOnlineAgainstUnreachableServerTransitionsToError(t *testing.T) {
	id := newTestIdentityMaterial(t)
	agentID := newAgentID(id, "http://ca.invalid", "http://127.0.0.1:1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := agentID.Online(ctx)
	assert.Error(t, err)
	assert.Equal(t, Error, agentID.State())
}

func TestOfflineOnFreshIdentityIsSafe(t *testing.T) {
	id := newTestIdentityMaterial(t)
	agentID := newAgentID(id, "http://ca.invalid", "http://ap.invalid", nil)

	agentID.Offline()
	assert.Equal(t, Offline, agentID.State())
}

func TestInvalidateMarksIdentityInvalid(t *testing.T) {
	id := newTestIdentityMaterial(t)
	agentID := newAgentID(id, "http://ca.invalid", "http://ap.invalid", nil)

	assert.True(t, agentID.IsValid())
	agentID.invalidate()
	assert.False(t, agentID.IsValid())

	err := agentID.Online(context.Background())
	assert.Error(t, err)
}

func TestStateChangeHandlerFiresOnOnlineFailure(t *testing.T) {
	id := newTestIdentityMaterial(t)
	agentID := newAgentID(id, "http://ca.invalid", "http://127.0.0.1:1", nil)

	var transitions []State
	agentID.OnStateChange(func(old, new State) { transitions = append(transitions, new) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = agentID.Online(ctx)

	assert.Contains(t, transitions, Connecting)
	assert.Contains(t, transitions, Authenticating)
	assert.Contains(t, transitions, Error)
}
