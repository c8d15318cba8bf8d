package udp

import (
	"errors"

	"github.com/acp-sdk/acp-core/internal/codec"
)

// Message type codes (spec.md §4.4).
const (
	TypeHeartbeatResp uint16 = 258
	TypeInviteReq     uint16 = 259
	TypeHeartbeatReq  uint16 = 513
	TypeInviteResp    uint16 = 516
)

// ErrTruncated is returned when a frame is shorter than its declared
// fields or payload_size.
var ErrTruncated = errors.New("transport/udp: truncated frame")

// Frame is the generic length-prefixed binary message envelope:
//
//	varint message_mask | varint message_seq | u16 message_type (BE) |
//	u16 payload_size (BE) | payload
type Frame struct {
	Mask    uint64
	Seq     uint64
	Type    uint16
	Payload []byte
}

// Encode serializes f per the wire layout in spec.md §4.4.
func Encode(f Frame) []byte {
	buf := make([]byte, 0, 16+len(f.Payload))
	buf = append(buf, codec.PutUvarint(f.Mask)...)
	buf = append(buf, codec.PutUvarint(f.Seq)...)
	buf = append(buf, codec.PutUint16(f.Type)...)
	buf = append(buf, codec.PutUint16(uint16(len(f.Payload)))...)
	buf = append(buf, f.Payload...)
	return buf
}

// Decode parses a Frame from the head of buf, returning the number of
// bytes consumed.
func Decode(buf []byte) (Frame, int, error) {
	mask, n1 := codec.Uvarint(buf)
	if n1 == 0 {
		return Frame{}, 0, ErrTruncated
	}
	rest := buf[n1:]
	seq, n2 := codec.Uvarint(rest)
	if n2 == 0 {
		return Frame{}, 0, ErrTruncated
	}
	rest = rest[n2:]
	if len(rest) < 4 {
		return Frame{}, 0, ErrTruncated
	}
	msgType := codec.Uint16(rest[0:2])
	payloadSize := codec.Uint16(rest[2:4])
	rest = rest[4:]
	if len(rest) < int(payloadSize) {
		return Frame{}, 0, ErrTruncated
	}
	payload := rest[:payloadSize]
	consumed := n1 + n2 + 4 + int(payloadSize)
	return Frame{Mask: mask, Seq: seq, Type: msgType, Payload: payload}, consumed, nil
}

// putVarString encodes s as a varint length prefix followed by its
// raw bytes.
func putVarString(buf []byte, s string) []byte {
	buf = append(buf, codec.PutUvarint(uint64(len(s)))...)
	return append(buf, s...)
}

// getVarString decodes a varstring from the head of buf, returning the
// string and bytes consumed.
func getVarString(buf []byte) (string, int, error) {
	n, consumed := codec.Uvarint(buf)
	if consumed == 0 {
		return "", 0, ErrTruncated
	}
	rest := buf[consumed:]
	if uint64(len(rest)) < n {
		return "", 0, ErrTruncated
	}
	return string(rest[:n]), consumed + int(n), nil
}

// HeartbeatReq is the C->S HEARTBEAT_REQ payload.
type HeartbeatReq struct {
	AgentID    string
	SignCookie uint64
}

func (m HeartbeatReq) Encode() []byte {
	buf := putVarString(nil, m.AgentID)
	return append(buf, codec.PutUint64(m.SignCookie)...)
}

func DecodeHeartbeatReq(payload []byte) (HeartbeatReq, error) {
	aid, n, err := getVarString(payload)
	if err != nil {
		return HeartbeatReq{}, err
	}
	rest := payload[n:]
	if len(rest) < 8 {
		return HeartbeatReq{}, ErrTruncated
	}
	return HeartbeatReq{AgentID: aid, SignCookie: codec.Uint64(rest[:8])}, nil
}

// HeartbeatResp is the S->C HEARTBEAT_RESP payload. NextBeatMs == 401
// signals the client must re-authenticate (spec.md §4.8).
type HeartbeatResp struct {
	NextBeatMs uint64
}

func (m HeartbeatResp) Encode() []byte { return codec.PutUint64(m.NextBeatMs) }

func DecodeHeartbeatResp(payload []byte) (HeartbeatResp, error) {
	if len(payload) < 8 {
		return HeartbeatResp{}, ErrTruncated
	}
	return HeartbeatResp{NextBeatMs: codec.Uint64(payload[:8])}, nil
}

// ReauthRequired is the sentinel next_beat value meaning the server
// has invalidated the client's signature.
const ReauthRequired uint64 = 401

// InviteReq is the S->C INVITE_REQ payload.
type InviteReq struct {
	InviterAID    string
	InviteCode    string
	ExpiresAt     int64
	SessionID     string
	MessageServer string
}

func (m InviteReq) Encode() []byte {
	buf := putVarString(nil, m.InviterAID)
	buf = putVarString(buf, m.InviteCode)
	buf = append(buf, codec.PutInt64(m.ExpiresAt)...)
	buf = putVarString(buf, m.SessionID)
	buf = putVarString(buf, m.MessageServer)
	return buf
}

func DecodeInviteReq(payload []byte) (InviteReq, error) {
	var m InviteReq
	var n int
	var err error

	m.InviterAID, n, err = getVarString(payload)
	if err != nil {
		return InviteReq{}, err
	}
	payload = payload[n:]

	m.InviteCode, n, err = getVarString(payload)
	if err != nil {
		return InviteReq{}, err
	}
	payload = payload[n:]

	if len(payload) < 8 {
		return InviteReq{}, ErrTruncated
	}
	m.ExpiresAt = codec.Int64(payload[:8])
	payload = payload[8:]

	m.SessionID, n, err = getVarString(payload)
	if err != nil {
		return InviteReq{}, err
	}
	payload = payload[n:]

	m.MessageServer, _, err = getVarString(payload)
	if err != nil {
		return InviteReq{}, err
	}
	return m, nil
}

// InviteResp is the C->S INVITE_RESP payload.
type InviteResp struct {
	AgentID        string
	InviterAgentID string
	SessionID      string
	SignCookie     uint64
}

func (m InviteResp) Encode() []byte {
	buf := putVarString(nil, m.AgentID)
	buf = putVarString(buf, m.InviterAgentID)
	buf = putVarString(buf, m.SessionID)
	return append(buf, codec.PutUint64(m.SignCookie)...)
}

func DecodeInviteResp(payload []byte) (InviteResp, error) {
	var m InviteResp
	var n int
	var err error

	m.AgentID, n, err = getVarString(payload)
	if err != nil {
		return InviteResp{}, err
	}
	payload = payload[n:]

	m.InviterAgentID, n, err = getVarString(payload)
	if err != nil {
		return InviteResp{}, err
	}
	payload = payload[n:]

	m.SessionID, n, err = getVarString(payload)
	if err != nil {
		return InviteResp{}, err
	}
	payload = payload[n:]

	if len(payload) < 8 {
		return InviteResp{}, ErrTruncated
	}
	m.SignCookie = codec.Uint64(payload[:8])
	return m, nil
}
