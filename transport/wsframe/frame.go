// Package wsframe implements the WSS binary framer (C6): the 28-byte
// header, optional zlib compression, and CRC32 integrity check some
// WebSocket traffic (notably streams) wraps around a JSON or raw
// binary payload (spec.md §4.6).
package wsframe

import (
	"errors"
	"fmt"

	"github.com/acp-sdk/acp-core/internal/codec"
)

const (
	magic1 = 0x4D
	magic2 = 0x55

	// Version is the only binary-framer version this implementation
	// speaks.
	Version = 0x0101

	// HeaderSize is the fixed 28-byte header length.
	HeaderSize = 28
)

// ErrDecodeFailed is returned for any header mismatch, length
// mismatch, or CRC32 mismatch; spec.md §4.6 treats all of these as
// "decode failed (frame dropped)" rather than distinguishing causes.
var ErrDecodeFailed = errors.New("wsframe: decode failed")

// Header is the 28-byte binary frame header.
type Header struct {
	Flags       uint32
	MsgType     uint16
	MsgSeq      uint32
	ContentType uint8
	Compressed  bool
	Reserved    uint32
	CRC32       uint32
	PayloadLen  uint32
}

// Encode builds a complete frame (header + payload) from hdr and
// payload. If payload is at least codec.CompressThreshold bytes, it is
// zlib-compressed first and Compressed is forced to true in the
// returned header-equivalent bytes. CRC32 is computed over the
// (possibly compressed) payload bytes, matching "compute CRC32 over
// payload bytes (post-compression)".
func Encode(hdr Header, payload []byte) ([]byte, error) {
	body := payload
	compressed := hdr.Compressed
	if len(payload) >= codec.CompressThreshold {
		c, err := codec.Compress(payload)
		if err != nil {
			return nil, fmt.Errorf("wsframe: encode: %w", err)
		}
		body = c
		compressed = true
	}

	buf := make([]byte, 0, HeaderSize+len(body))
	buf = append(buf, magic1, magic2)
	buf = append(buf, codec.PutUint16(Version)...)
	buf = append(buf, codec.PutUint32(hdr.Flags)...)
	buf = append(buf, codec.PutUint16(hdr.MsgType)...)
	buf = append(buf, codec.PutUint32(hdr.MsgSeq)...)
	buf = append(buf, hdr.ContentType)
	if compressed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, codec.PutUint32(hdr.Reserved)...)
	buf = append(buf, codec.PutUint32(codec.CRC32(body))...)
	buf = append(buf, codec.PutUint32(uint32(len(body)))...)
	buf = append(buf, body...)
	return buf, nil
}

// Decode parses a complete frame and returns its header and the
// decompressed payload. Any magic, length, or CRC32 mismatch returns
// ErrDecodeFailed.
func Decode(frame []byte) (Header, []byte, error) {
	if len(frame) < HeaderSize {
		return Header{}, nil, ErrDecodeFailed
	}
	if frame[0] != magic1 || frame[1] != magic2 {
		return Header{}, nil, ErrDecodeFailed
	}
	version := codec.Uint16(frame[2:4])
	if version != Version {
		return Header{}, nil, ErrDecodeFailed
	}

	hdr := Header{
		Flags:       codec.Uint32(frame[4:8]),
		MsgType:     codec.Uint16(frame[8:10]),
		MsgSeq:      codec.Uint32(frame[10:14]),
		ContentType: frame[14],
		Compressed:  frame[15] == 1,
		Reserved:    codec.Uint32(frame[16:20]),
		CRC32:       codec.Uint32(frame[20:24]),
		PayloadLen:  codec.Uint32(frame[24:28]),
	}

	body := frame[HeaderSize:]
	if uint32(len(body)) != hdr.PayloadLen {
		return Header{}, nil, ErrDecodeFailed
	}
	if codec.CRC32(body) != hdr.CRC32 {
		return Header{}, nil, ErrDecodeFailed
	}

	payload := body
	if hdr.Compressed {
		decompressed, err := codec.Decompress(body, len(body)*4)
		if err != nil {
			return Header{}, nil, ErrDecodeFailed
		}
		payload = decompressed
	}
	return hdr, payload, nil
}
