package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func newTestIV(t *testing.T) [IVSize]byte {
	t.Helper()
	var iv [IVSize]byte
	if _, err := rand.Read(iv[:]); err != nil {
		t.Fatalf("rand.Read iv: %v", err)
	}
	return iv
}

func TestEnvelopeProcessRoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	iv := newTestIV(t)

	enc, err := New(iv, key, Encrypt)
	if err != nil {
		t.Fatalf("New(encrypt): %v", err)
	}
	dec, err := New(iv, key, Decrypt)
	if err != nil {
		t.Fatalf("New(decrypt): %v", err)
	}

	plain := []byte("the quick brown fox jumps over the lazy dog")
	ct, err := enc.Process(plain)
	if err != nil {
		t.Fatalf("encrypt Process: %v", err)
	}
	if len(ct) != len(plain)+TagSize {
		t.Fatalf("ciphertext length = %d, want %d", len(ct), len(plain)+TagSize)
	}

	pt, err := dec.Process(ct)
	if err != nil {
		t.Fatalf("decrypt Process: %v", err)
	}
	if !bytes.Equal(pt, plain) {
		t.Fatalf("round trip mismatch: got %q, want %q", pt, plain)
	}
}

func TestEnvelopeChunkIdxAdvancesNonce(t *testing.T) {
	key, _ := GenerateKey()
	iv := newTestIV(t)
	enc, _ := New(iv, key, Encrypt)

	a, _ := enc.Process([]byte("chunk one"))
	b, _ := enc.Process([]byte("chunk one"))
	if bytes.Equal(a, b) {
		t.Error("identical plaintext chunks must not produce identical ciphertext across chunk_idx")
	}
}

func TestEnvelopeTamperDetected(t *testing.T) {
	key, _ := GenerateKey()
	iv := newTestIV(t)
	enc, _ := New(iv, key, Encrypt)
	dec, _ := New(iv, key, Decrypt)

	ct, _ := enc.Process([]byte("payload"))
	ct[0] ^= 0xff

	if _, err := dec.Process(ct); err == nil {
		t.Error("Process accepted tampered ciphertext")
	}
}

func TestEnvelopeWrongKeyRejected(t *testing.T) {
	key, _ := GenerateKey()
	other, _ := GenerateKey()
	iv := newTestIV(t)

	enc, _ := New(iv, key, Encrypt)
	dec, _ := New(iv, other, Decrypt)

	ct, _ := enc.Process([]byte("payload"))
	if _, err := dec.Process(ct); err == nil {
		t.Error("Process accepted ciphertext under the wrong key")
	}
}

func TestSealOpenMetaRoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	iv := newTestIV(t)
	sealer, _ := New(iv, key, Encrypt)
	opener, _ := New(iv, key, Decrypt)

	name := []byte("report.pdf")
	sealed := sealer.SealMeta(MetaIdxName, name)
	opened, err := opener.OpenMeta(MetaIdxName, sealed)
	if err != nil {
		t.Fatalf("OpenMeta: %v", err)
	}
	if !bytes.Equal(opened, name) {
		t.Fatalf("OpenMeta = %q, want %q", opened, name)
	}

	if _, err := opener.OpenMeta(MetaIdxMimeType, sealed); err == nil {
		t.Error("OpenMeta accepted a field sealed under a different index")
	}
}

func TestOutSizeMatchesActualEncryption(t *testing.T) {
	key, _ := GenerateKey()
	iv := newTestIV(t)
	enc, _ := New(iv, key, Encrypt)

	const plainChunk = 17
	plain := make([]byte, 100)
	rand.Read(plain)

	var total int64
	for off := 0; off < len(plain); off += plainChunk {
		end := off + plainChunk
		if end > len(plain) {
			end = len(plain)
		}
		ct, err := enc.Process(plain[off:end])
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		total += int64(len(ct))
	}

	got := enc.OutSize(int64(len(plain)), plainChunk)
	if got != total {
		t.Fatalf("OutSize(%d, %d) = %d, want %d", len(plain), plainChunk, got, total)
	}
}

func TestOutSizeDecryptMode(t *testing.T) {
	key, _ := GenerateKey()
	iv := newTestIV(t)
	enc, _ := New(iv, key, Encrypt)

	const plainChunk = 100
	plain := make([]byte, 200)
	rand.Read(plain)

	var ciphertext []byte
	for off := 0; off < len(plain); off += plainChunk {
		end := off + plainChunk
		if end > len(plain) {
			end = len(plain)
		}
		ct, err := enc.Process(plain[off:end])
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		ciphertext = append(ciphertext, ct...)
	}

	dec, _ := New(iv, key, Decrypt)
	got := dec.OutSize(int64(len(ciphertext)), plainChunk)
	if got != int64(len(plain)) {
		t.Fatalf("OutSize(%d, %d) = %d, want %d", len(ciphertext), plainChunk, got, len(plain))
	}
}
