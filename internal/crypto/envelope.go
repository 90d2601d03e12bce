package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// TagSize is the AES-GCM authentication tag length.
const TagSize = 16

// Mode selects the direction an Envelope processes chunks in.
type Mode int

const (
	Encrypt Mode = iota
	Decrypt
)

// MaxChunkPlaintext is the AES-GCM counter limit: inputs to Process
// must be strictly smaller than 2^32 bytes.
const MaxChunkPlaintext = 1 << 32

// Envelope is the stateful per-chunk AEAD processor. One Envelope
// corresponds to exactly one file transfer; chunk_idx is never shared
// across files or goroutines. It is a single bidirectional type since
// encrypt and decrypt share all derivation logic here, rather than a
// pair of one-reader-per-object types.
type Envelope struct {
	mode     Mode
	baseIV   [IVSize]byte
	fileAEAD cipher.AEAD
	metaAEAD cipher.AEAD
	chunkIdx uint64
}

// New constructs an Envelope bound to iv and key, in the given mode.
func New(iv [IVSize]byte, key Key, mode Mode) (*Envelope, error) {
	fk := FileKey(key)
	mk := MetaKey(key)

	fileAEAD, err := newGCM(fk[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: file aead: %w", err)
	}
	metaAEAD, err := newGCM(mk[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: meta aead: %w", err)
	}

	return &Envelope{
		mode:     mode,
		baseIV:   iv,
		fileAEAD: fileAEAD,
		metaAEAD: metaAEAD,
	}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// perChunkNonce computes LE64(LE64(IV[0:8]) + idx) || IV[8:12].
func perChunkNonce(iv [IVSize]byte, idx uint64) []byte {
	base := binary.LittleEndian.Uint64(iv[0:8])
	sum := base + idx // wraps mod 2^64

	nonce := make([]byte, IVSize)
	binary.LittleEndian.PutUint64(nonce[0:8], sum)
	copy(nonce[8:12], iv[8:12])
	return nonce
}

// Process seals or opens one chunk of data, depending on mode, using
// the nonce for the current chunk_idx, then increments chunk_idx.
func (e *Envelope) Process(data []byte) ([]byte, error) {
	if len(data) >= MaxChunkPlaintext {
		return nil, fmt.Errorf("crypto: chunk too large (%d bytes)", len(data))
	}
	nonce := perChunkNonce(e.baseIV, e.chunkIdx)
	defer func() { e.chunkIdx++ }()

	switch e.mode {
	case Encrypt:
		return e.fileAEAD.Seal(nil, nonce, data, nil), nil
	case Decrypt:
		out, err := e.fileAEAD.Open(nil, nonce, data, nil)
		if err != nil {
			return nil, fmt.Errorf("crypto: chunk %d failed to decrypt (tampered or wrong key): %w", e.chunkIdx, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("crypto: unknown mode %d", e.mode)
	}
}

// SeekChunkIdx assigns chunk_idx without performing any I/O.
func (e *Envelope) SeekChunkIdx(n uint64) { e.chunkIdx = n }

// ChunkIdx returns the current chunk index.
func (e *Envelope) ChunkIdx() uint64 { return e.chunkIdx }

// Metadata field indices used with SealMeta/OpenMeta.
const (
	MetaIdxName      = 0
	MetaIdxMimeType  = 1
	MetaIdxChunkSize = 2
)

// SealMeta performs a one-shot AEAD seal of plaintext with the meta
// sub-key and the per-chunk nonce for idx. aad is always empty.
func (e *Envelope) SealMeta(idx uint64, plaintext []byte) []byte {
	nonce := perChunkNonce(e.baseIV, idx)
	return e.metaAEAD.Seal(nil, nonce, plaintext, nil)
}

// OpenMeta is the inverse of SealMeta.
func (e *Envelope) OpenMeta(idx uint64, ciphertext []byte) ([]byte, error) {
	nonce := perChunkNonce(e.baseIV, idx)
	out, err := e.metaAEAD.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: metadata field %d failed to decrypt: %w", idx, err)
	}
	return out, nil
}

// OutChunkSize predicts the output size of a chunk given the input
// chunk size and mode: +TagSize when encrypting, -TagSize when decrypting.
func (e *Envelope) OutChunkSize(inChunkSize int) int {
	if e.mode == Encrypt {
		return inChunkSize + TagSize
	}
	return inChunkSize - TagSize
}

// OutSize predicts the total output size for totalIn bytes of input
// processed in chunks of plainChunk (the plaintext chunk size,
// regardless of mode direction).
func (e *Envelope) OutSize(totalIn int64, plainChunk int) int64 {
	if plainChunk <= 0 {
		return 0
	}
	inChunk := int64(plainChunk)
	var delta int64 = TagSize
	if e.mode == Decrypt {
		inChunk = int64(plainChunk) + TagSize
		delta = -TagSize
	}

	whole := totalIn / inChunk
	rem := totalIn % inChunk

	out := whole * (inChunk + delta)
	if rem > 0 {
		out += rem + delta
	}
	return out
}
