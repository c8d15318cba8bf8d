package codec

import "hash/crc32"

// crcTable is the IEEE 802.3 (zlib) polynomial table, matching the
// CRC32 used by the WSS binary framer (C6) and the zlib container
// checksum.
var crcTable = crc32.MakeTable(crc32.IEEE)

// CRC32 computes the IEEE 802.3 CRC32 checksum of b.
func CRC32(b []byte) uint32 { return crc32.Checksum(b, crcTable) }
