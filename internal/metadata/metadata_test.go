package metadata

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/kenneth/secsend/internal/crypto"
)

func sampleNewBody(t *testing.T, ivBytes [crypto.IVSize]byte, timeoutS int64) []byte {
	t.Helper()
	body := map[string]interface{}{
		"name":       base64.StdEncoding.EncodeToString([]byte("ENCRYPTED_NAME")),
		"mime_type":  base64.StdEncoding.EncodeToString([]byte("ENCRYPTED_MIME_TYPE")),
		"iv":         base64.StdEncoding.EncodeToString(ivBytes[:]),
		"chunk_size": base64.StdEncoding.EncodeToString([]byte("ENCRYPTED_CHUNK_SIZE")),
		"key_sign":   base64.StdEncoding.EncodeToString([]byte{}),
		"version":    1,
		"timeout_s":  timeoutS,
		"algo":       "aes-gcm",
	}
	out, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return out
}

func TestParseNewAccepts(t *testing.T) {
	var iv [crypto.IVSize]byte
	body := sampleNewBody(t, iv, 0)

	rec, err := ParseNew(body)
	if err != nil {
		t.Fatalf("ParseNew: %v", err)
	}
	if string(rec.SealedName) != "ENCRYPTED_NAME" {
		t.Errorf("SealedName = %q, want %q", rec.SealedName, "ENCRYPTED_NAME")
	}
	if rec.Algo != Algo {
		t.Errorf("Algo = %q, want %q", rec.Algo, Algo)
	}
}

func TestParseNewRejectsBadSchema(t *testing.T) {
	if _, err := ParseNew([]byte("not json")); err == nil {
		t.Error("ParseNew(garbage) expected error")
	}
	if _, err := ParseNew([]byte(`{"algo":"rc4","version":1}`)); err == nil {
		t.Error("ParseNew(bad algo) expected error")
	}
}

func TestParseNewRejectsWrongIVLength(t *testing.T) {
	body := map[string]interface{}{
		"name": "", "mime_type": "", "chunk_size": "", "key_sign": "",
		"iv": base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), "version": 1, "timeout_s": 0, "algo": "aes-gcm",
	}
	raw, _ := json.Marshal(body)
	if _, err := ParseNew(raw); err == nil {
		t.Error("ParseNew(short iv) expected error")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	var iv [crypto.IVSize]byte
	copy(iv[:], []byte("abcdefghijkl"))

	rec := Record{
		SealedName:      []byte("sealed-name"),
		SealedMimeType:  []byte("sealed-mime"),
		SealedChunkSize: []byte("sealed-chunksize"),
		IV:              iv,
		KeySign:         []byte("keysign"),
		Version:         1,
		TimeoutS:        300,
		Algo:            "aes-gcm",
		Complete:        true,
		TimeoutTS:       1700000000,
	}

	raw, err := Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(got.SealedName) != string(rec.SealedName) ||
		string(got.SealedMimeType) != string(rec.SealedMimeType) ||
		string(got.SealedChunkSize) != string(rec.SealedChunkSize) ||
		got.IV != rec.IV ||
		got.Complete != rec.Complete ||
		got.TimeoutTS != rec.TimeoutTS {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, rec)
	}
}

func TestUnmarshalRejectsCorruptEnvelope(t *testing.T) {
	if _, err := Unmarshal([]byte("{not json")); err == nil {
		t.Error("Unmarshal(corrupt) expected error")
	}
}

func TestOpenDecryptsSealedFields(t *testing.T) {
	key, _ := crypto.GenerateKey()
	var iv [crypto.IVSize]byte
	copy(iv[:], []byte("123456789012"))

	sealer, _ := crypto.New(iv, key, crypto.Encrypt)
	name := sealer.SealMeta(crypto.MetaIdxName, []byte("report.pdf"))
	mime := sealer.SealMeta(crypto.MetaIdxMimeType, []byte("application/pdf"))
	chunkSize := sealer.SealMeta(crypto.MetaIdxChunkSize, []byte{0x00, 0x00, 0x10, 0x00})

	rec := Record{SealedName: name, SealedMimeType: mime, SealedChunkSize: chunkSize, IV: iv}

	opener, _ := crypto.New(iv, key, crypto.Decrypt)
	fields, err := Open(rec, opener)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fields.Name != "report.pdf" {
		t.Errorf("Name = %q, want %q", fields.Name, "report.pdf")
	}
	if fields.MimeType != "application/pdf" {
		t.Errorf("MimeType = %q, want %q", fields.MimeType, "application/pdf")
	}
	if fields.ChunkSize != 0x00100000 {
		t.Errorf("ChunkSize = %d, want %d", fields.ChunkSize, 0x00100000)
	}
}
