package crypto

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseHTTPRange parses a single-range "bytes=start-end" HTTP Range
// header against a known total size, returning the inclusive byte
// range requested, handling suffix and open-ended forms. The download
// handler passes the stored ciphertext size, so the range it serves is
// a range of ciphertext bytes.
func ParseHTTPRange(rangeHeader string, totalSize int64) (start, end int64, err error) {
	if !strings.HasPrefix(rangeHeader, "bytes=") {
		return 0, 0, fmt.Errorf("crypto: invalid range header format")
	}
	spec := rangeHeader[len("bytes="):]
	if strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("crypto: multi-range requests are not supported")
	}

	if strings.HasPrefix(spec, "-") {
		suffix, convErr := strconv.ParseInt(spec[1:], 10, 64)
		if convErr != nil {
			return 0, 0, fmt.Errorf("crypto: invalid suffix range: %w", convErr)
		}
		start = totalSize - suffix
		if start < 0 {
			start = 0
		}
		end = totalSize - 1
	} else {
		parts := strings.SplitN(spec, "-", 2)
		if len(parts) != 2 {
			return 0, 0, fmt.Errorf("crypto: invalid range format")
		}
		start, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("crypto: invalid range start: %w", err)
		}
		if parts[1] == "" {
			end = totalSize - 1
		} else {
			end, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return 0, 0, fmt.Errorf("crypto: invalid range end: %w", err)
			}
		}
	}

	if start < 0 || start >= totalSize || end < start {
		return 0, 0, fmt.Errorf("crypto: range not satisfiable: %d-%d of %d", start, end, totalSize)
	}
	if end >= totalSize {
		end = totalSize - 1
	}
	return start, end, nil
}

// CiphertextRange translates a plaintext byte range [plainStart,
// plainEnd] into the ciphertext byte range on disk that must be read
// to decrypt it, using the resumable-seek arithmetic of NewTransform:
// the returned ciphertextStart is always chunk-aligned and matches
// what NewTransform would compute as ChunkSeek() for plainStart, so
// callers drive a Transform in Decrypt mode from ciphertextStart and
// discard bytesSkip leading bytes of its first output block.
func CiphertextRange(plainChunkSize int, plainStart, plainEnd int64) (ciphertextStart int64, bytesSkip int64) {
	outChunk := int64(plainChunkSize) // plaintext chunk size IS the output size for a decrypt-direction seek
	chunkIdx := plainStart / outChunk
	ciphertextStart = chunkIdx * int64(plainChunkSize+TagSize)
	bytesSkip = plainStart % outChunk
	return ciphertextStart, bytesSkip
}
