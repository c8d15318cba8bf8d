package codec

import "encoding/binary"

// PutUint16 encodes v as big-endian into a fresh 2-byte slice.
func PutUint16(v uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return buf
}

// Uint16 decodes a big-endian uint16 from the head of buf.
func Uint16(buf []byte) uint16 { return binary.BigEndian.Uint16(buf) }

// PutUint32 encodes v as big-endian into a fresh 4-byte slice.
func PutUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

// Uint32 decodes a big-endian uint32 from the head of buf.
func Uint32(buf []byte) uint32 { return binary.BigEndian.Uint32(buf) }

// PutUint64 encodes v as big-endian into a fresh 8-byte slice.
func PutUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// Uint64 decodes a big-endian uint64 from the head of buf.
func Uint64(buf []byte) uint64 { return binary.BigEndian.Uint64(buf) }

// PutInt64 encodes v as big-endian into a fresh 8-byte slice.
func PutInt64(v int64) []byte { return PutUint64(uint64(v)) }

// Int64 decodes a big-endian int64 from the head of buf.
func Int64(buf []byte) int64 { return int64(Uint64(buf)) }
