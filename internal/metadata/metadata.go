// Package metadata implements the encrypted-metadata record: the JSON
// envelope exchanged with the server, whose name/mime_type/chunk_size
// fields are AEAD-sealed client-side and opaque to the relay. It is a
// small JSON record describing how a blob of ciphertext is chunked,
// similar in shape to a chunk manifest, but with its own field set and
// sealing rules.
package metadata

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/kenneth/secsend/internal/crypto"
	"github.com/kenneth/secsend/internal/relayerr"
)

// Algo is the only accepted cipher suite identifier on the wire.
const Algo = "aes-gcm"

// Version is the only envelope schema version accepted.
const Version = 1

// wireRecord mirrors the JSON shape of EncryptedFileMetadata:
// name/mime_type/chunk_size are base64-standard sealed byte strings,
// key_sign stays in the clear.
type wireRecord struct {
	Name      string  `json:"name"`
	MimeType  string  `json:"mime_type"`
	IV        string  `json:"iv"`
	ChunkSize string  `json:"chunk_size"`
	KeySign   string  `json:"key_sign"`
	Version   int     `json:"version"`
	TimeoutS  int64   `json:"timeout_s"`
	Algo      string  `json:"algo"`
	Complete  bool    `json:"complete"`
	TimeoutTS float64 `json:"timeout_ts"`
}

// Record is the server's in-memory view of a stored envelope: the
// client-supplied sealed fields plus the two server-injected fields.
type Record struct {
	SealedName      []byte
	SealedMimeType  []byte
	SealedChunkSize []byte
	IV              [crypto.IVSize]byte
	KeySign         []byte
	Version         int
	TimeoutS        int64
	Algo            string

	Complete  bool
	TimeoutTS float64
}

// ParseNew validates and decodes a client-submitted upload/new body:
// schema must match, iv must be 12 bytes, and algo must be "aes-gcm".
// Server-injected fields (complete, timeout_ts) are not yet set; the
// caller sets them before persisting.
func ParseNew(body []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(body, &w); err != nil {
		return Record{}, fmt.Errorf("metadata: decode: %w", relayerr.ErrSchemaError)
	}
	if w.Version < 1 {
		return Record{}, fmt.Errorf("metadata: version must be >= 1: %w", relayerr.ErrSchemaError)
	}
	if w.Algo != Algo {
		return Record{}, fmt.Errorf("metadata: unsupported algo %q: %w", w.Algo, relayerr.ErrSchemaError)
	}
	if w.TimeoutS < 0 {
		return Record{}, fmt.Errorf("metadata: timeout_s must be >= 0: %w", relayerr.ErrSchemaError)
	}

	iv, err := base64.StdEncoding.DecodeString(w.IV)
	if err != nil {
		return Record{}, fmt.Errorf("metadata: decode iv: %w", relayerr.ErrSchemaError)
	}
	if len(iv) != crypto.IVSize {
		return Record{}, fmt.Errorf("metadata: iv length %d, want %d: %w", len(iv), crypto.IVSize, relayerr.ErrSchemaError)
	}

	sealedName, err := base64.StdEncoding.DecodeString(w.Name)
	if err != nil {
		return Record{}, fmt.Errorf("metadata: decode name: %w", relayerr.ErrSchemaError)
	}
	sealedMime, err := base64.StdEncoding.DecodeString(w.MimeType)
	if err != nil {
		return Record{}, fmt.Errorf("metadata: decode mime_type: %w", relayerr.ErrSchemaError)
	}
	sealedChunkSize, err := base64.StdEncoding.DecodeString(w.ChunkSize)
	if err != nil {
		return Record{}, fmt.Errorf("metadata: decode chunk_size: %w", relayerr.ErrSchemaError)
	}
	keySign, err := base64.StdEncoding.DecodeString(w.KeySign)
	if err != nil {
		return Record{}, fmt.Errorf("metadata: decode key_sign: %w", relayerr.ErrSchemaError)
	}

	rec := Record{
		SealedName:      sealedName,
		SealedMimeType:  sealedMime,
		SealedChunkSize: sealedChunkSize,
		KeySign:         keySign,
		Version:         w.Version,
		TimeoutS:        w.TimeoutS,
		Algo:            w.Algo,
	}
	copy(rec.IV[:], iv)
	return rec, nil
}

// Marshal renders rec as the JSON wire envelope: byte fields
// base64-standard-encoded, complete/timeout_ts always present.
func Marshal(rec Record) ([]byte, error) {
	w := wireRecord{
		Name:      base64.StdEncoding.EncodeToString(rec.SealedName),
		MimeType:  base64.StdEncoding.EncodeToString(rec.SealedMimeType),
		IV:        base64.StdEncoding.EncodeToString(rec.IV[:]),
		ChunkSize: base64.StdEncoding.EncodeToString(rec.SealedChunkSize),
		KeySign:   base64.StdEncoding.EncodeToString(rec.KeySign),
		Version:   rec.Version,
		TimeoutS:  rec.TimeoutS,
		Algo:      rec.Algo,
		Complete:  rec.Complete,
		TimeoutTS: rec.TimeoutTS,
	}
	out, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("metadata: marshal: %w", err)
	}
	return out, nil
}

// Unmarshal parses a stored envelope back into a Record. A JSON parse
// failure here means the on-disk file is corrupt, never a client
// input problem, so it maps to InvalidMetadata rather than SchemaError.
func Unmarshal(data []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, fmt.Errorf("metadata: stored envelope is malformed: %w", relayerr.ErrInvalidMetadata)
	}

	sealedName, err1 := base64.StdEncoding.DecodeString(w.Name)
	sealedMime, err2 := base64.StdEncoding.DecodeString(w.MimeType)
	sealedChunkSize, err3 := base64.StdEncoding.DecodeString(w.ChunkSize)
	keySign, err4 := base64.StdEncoding.DecodeString(w.KeySign)
	iv, err5 := base64.StdEncoding.DecodeString(w.IV)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || len(iv) != crypto.IVSize {
		return Record{}, fmt.Errorf("metadata: stored envelope has malformed fields: %w", relayerr.ErrInvalidMetadata)
	}

	rec := Record{
		SealedName:      sealedName,
		SealedMimeType:  sealedMime,
		SealedChunkSize: sealedChunkSize,
		KeySign:         keySign,
		Version:         w.Version,
		TimeoutS:        w.TimeoutS,
		Algo:            w.Algo,
		Complete:        w.Complete,
		TimeoutTS:       w.TimeoutTS,
	}
	copy(rec.IV[:], iv)
	return rec, nil
}

// DecryptedFields is the sender's cleartext name/mime_type/chunk_size,
// recovered by a recipient holding the key (never computed server-side).
type DecryptedFields struct {
	Name      string
	MimeType  string
	ChunkSize uint32
}

// Open decrypts the sealed fields of rec using envelope (client-side only).
func Open(rec Record, envelope *crypto.Envelope) (DecryptedFields, error) {
	name, err := envelope.OpenMeta(crypto.MetaIdxName, rec.SealedName)
	if err != nil {
		return DecryptedFields{}, fmt.Errorf("metadata: open name: %w", err)
	}
	mime, err := envelope.OpenMeta(crypto.MetaIdxMimeType, rec.SealedMimeType)
	if err != nil {
		return DecryptedFields{}, fmt.Errorf("metadata: open mime_type: %w", err)
	}
	chunkSizeBytes, err := envelope.OpenMeta(crypto.MetaIdxChunkSize, rec.SealedChunkSize)
	if err != nil {
		return DecryptedFields{}, fmt.Errorf("metadata: open chunk_size: %w", err)
	}
	if len(chunkSizeBytes) != 4 {
		return DecryptedFields{}, fmt.Errorf("metadata: chunk_size field has length %d, want 4", len(chunkSizeBytes))
	}
	chunkSize := uint32(chunkSizeBytes[0]) | uint32(chunkSizeBytes[1])<<8 | uint32(chunkSizeBytes[2])<<16 | uint32(chunkSizeBytes[3])<<24

	return DecryptedFields{
		Name:      string(name),
		MimeType:  string(mime),
		ChunkSize: chunkSize,
	}, nil
}
