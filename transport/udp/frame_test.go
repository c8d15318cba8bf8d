package udp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{Mask: 0x1, Seq: 42, Type: TypeHeartbeatReq, Payload: []byte("payload-bytes")}
	buf := Encode(f)

	got, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, f.Mask, got.Mask)
	assert.Equal(t, f.Seq, got.Seq)
	assert.Equal(t, f.Type, got.Type)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestFrameDecodeTruncated(t *testing.T) {
	f := Frame{Mask: 1, Seq: 1, Type: TypeHeartbeatResp, Payload: []byte("abcdef")}
	buf := Encode(f)

	_, _, err := Decode(buf[:len(buf)-2])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestFrameDecodeConsumesOnlyOneFrame(t *testing.T) {
	f1 := Encode(Frame{Mask: 0, Seq: 1, Type: TypeHeartbeatReq, Payload: []byte("a")})
	f2 := Encode(Frame{Mask: 0, Seq: 2, Type: TypeHeartbeatResp, Payload: []byte("bb")})
	buf := append(append([]byte{}, f1...), f2...)

	got, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(f1), n)
	assert.Equal(t, uint64(1), got.Seq)

	got2, n2, err := Decode(buf[n:])
	require.NoError(t, err)
	assert.Equal(t, len(f2), n2)
	assert.Equal(t, uint64(2), got2.Seq)
}

func TestHeartbeatReqRoundTrip(t *testing.T) {
	m := HeartbeatReq{AgentID: "alice.acp-core.pub", SignCookie: 0xDEADBEEF}
	got, err := DecodeHeartbeatReq(m.Encode())
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestHeartbeatRespRoundTrip(t *testing.T) {
	m := HeartbeatResp{NextBeatMs: 15000}
	got, err := DecodeHeartbeatResp(m.Encode())
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestHeartbeatRespReauthRequired(t *testing.T) {
	m := HeartbeatResp{NextBeatMs: ReauthRequired}
	got, err := DecodeHeartbeatResp(m.Encode())
	require.NoError(t, err)
	assert.Equal(t, ReauthRequired, got.NextBeatMs)
}

func TestHeartbeatRespTruncated(t *testing.T) {
	_, err := DecodeHeartbeatResp([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestInviteReqRoundTrip(t *testing.T) {
	m := InviteReq{
		InviterAID:    "bob.acp-core.pub",
		InviteCode:    "abc123",
		ExpiresAt:     1893456000,
		SessionID:     "sess-1",
		MessageServer: "wss://msg.acp-core.example/session",
	}
	got, err := DecodeInviteReq(m.Encode())
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestInviteRespRoundTrip(t *testing.T) {
	m := InviteResp{
		AgentID:        "alice.acp-core.pub",
		InviterAgentID: "bob.acp-core.pub",
		SessionID:      "sess-1",
		SignCookie:     7,
	}
	got, err := DecodeInviteResp(m.Encode())
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestInviteReqTruncated(t *testing.T) {
	_, err := DecodeInviteReq([]byte{0x03})
	assert.ErrorIs(t, err, ErrTruncated)
}
