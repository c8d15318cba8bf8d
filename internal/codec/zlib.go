package codec

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// CompressThreshold is the minimum payload size, in bytes, at which
// the WSS binary framer (C6) applies zlib compression. Smaller
// payloads are sent raw: the zlib header and checksum overhead is not
// worth paying below this size.
const CompressThreshold = 512

// maxGrowAttempts and growFactor bound the retry-grow behavior of
// Decompress against a maliciously or accidentally undersized output
// buffer hint.
const (
	maxGrowAttempts = 5
	growFactor      = 16
)

// Compress zlib-compresses b.
func Compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, fmt.Errorf("codec: zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: zlib compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress zlib-decompresses b. hintSize is the caller's best guess
// at the decompressed size (e.g. from a wire header); it is used only
// to size the first read buffer. If the decompressed payload exceeds
// the buffer, Decompress grows the buffer by growFactor and retries,
// up to maxGrowAttempts times, before giving up.
func Decompress(b []byte, hintSize int) ([]byte, error) {
	if hintSize <= 0 {
		hintSize = len(b) * 2
		if hintSize == 0 {
			hintSize = 64
		}
	}

	var lastErr error
	size := hintSize
	for attempt := 0; attempt < maxGrowAttempts; attempt++ {
		r, err := zlib.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("codec: zlib decompress: %w", err)
		}
		out := make([]byte, size)
		n, err := io.ReadFull(r, out)
		if err == nil || err == io.ErrUnexpectedEOF {
			// Either the buffer was big enough and there may be more
			// (ErrUnexpectedEOF from ReadFull means fewer bytes than
			// requested, i.e. the stream ended inside the buffer -
			// that's the success case), or it filled exactly.
			rest, rerr := io.ReadAll(r)
			r.Close()
			if rerr != nil {
				lastErr = rerr
				size *= growFactor
				continue
			}
			if len(rest) == 0 {
				return out[:n], nil
			}
			// More data than the buffer held: grow and retry.
			size *= growFactor
			lastErr = fmt.Errorf("codec: zlib decompress: output exceeded buffer")
			continue
		}
		r.Close()
		lastErr = fmt.Errorf("codec: zlib decompress: %w", err)
		size *= growFactor
	}
	return nil, fmt.Errorf("codec: zlib decompress: exceeded %d attempts: %w", maxGrowAttempts, lastErr)
}
