// Package id implements the two-kind tagged identifier scheme: a
// RootID is the private write/delete capability handed back from
// upload/new, and a FileID is the public, one-way-derived read
// capability shared with recipients. The wire format is one kind byte
// plus a 10-byte body, base64url without padding, with an explicit
// encode/decode pair and explicit error wrapping.
package id

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/kenneth/secsend/internal/relayerr"
)

// Kind discriminates the two id variants on the wire.
type Kind byte

const (
	KindFile Kind = 0
	KindRoot Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindRoot:
		return "root"
	default:
		return "unknown"
	}
}

const (
	// BodyLen is the number of random/derived bytes per id.
	BodyLen = 10
	// WireLen is the total encoded length: one kind byte + BodyLen.
	WireLen = 1 + BodyLen
)

const fileIDDomain = "secsend_fiid"

// ID is a tagged, fixed-length identifier.
type ID struct {
	Kind Kind
	Body [BodyLen]byte
}

var enc = base64.RawURLEncoding

// GenerateRoot mints a fresh RootID from a cryptographic RNG.
func GenerateRoot() (ID, error) {
	var out ID
	out.Kind = KindRoot
	if _, err := rand.Read(out.Body[:]); err != nil {
		return ID{}, fmt.Errorf("id: generate root: %w", err)
	}
	return out, nil
}

// FileIDOf derives the public FileID from a RootID:
// SHA-256("secsend_fiid" || root_body)[0:10].
func FileIDOf(root ID) (ID, error) {
	if root.Kind != KindRoot {
		return ID{}, fmt.Errorf("id: file id from non-root: %w", relayerr.ErrIDWrongType)
	}
	h := sha256.New()
	h.Write([]byte(fileIDDomain))
	h.Write(root.Body[:])
	sum := h.Sum(nil)

	var out ID
	out.Kind = KindFile
	copy(out.Body[:], sum[:BodyLen])
	return out, nil
}

// Render encodes an id as base64url without '=' padding.
func Render(i ID) string {
	buf := make([]byte, WireLen)
	buf[0] = byte(i.Kind)
	copy(buf[1:], i.Body[:])
	return enc.EncodeToString(buf)
}

// Parse decodes a textual id. If expectedKind is non-nil, the decoded
// kind byte must match it or parsing fails with IDWrongType; otherwise
// the kind byte on the wire selects the variant.
func Parse(s string, expectedKind *Kind) (ID, error) {
	raw, err := enc.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("id: decode %q: %w", s, relayerr.ErrIDInvalid)
	}
	if len(raw) != WireLen {
		return ID{}, fmt.Errorf("id: wrong length %d: %w", len(raw), relayerr.ErrIDInvalid)
	}

	k := Kind(raw[0])
	if k != KindFile && k != KindRoot {
		return ID{}, fmt.Errorf("id: unknown kind byte %d: %w", raw[0], relayerr.ErrIDInvalid)
	}
	if expectedKind != nil && k != *expectedKind {
		return ID{}, fmt.Errorf("id: expected %s, got %s: %w", expectedKind, k, relayerr.ErrIDWrongType)
	}

	var out ID
	out.Kind = k
	copy(out.Body[:], raw[1:])
	return out, nil
}

// ParseRoot parses s and requires it to be a RootID.
func ParseRoot(s string) (ID, error) {
	k := KindRoot
	return Parse(s, &k)
}

// ParseFile parses s and requires it to be a FileID.
func ParseFile(s string) (ID, error) {
	k := KindFile
	return Parse(s, &k)
}

// PathSegments returns the 8 lowercase-hex, 2-char directory segments
// derived from the first 8 bytes of the id's body, plus the full
// 20-char hex body used to name the stored files.
func PathSegments(i ID) (segments [8]string, fullHex string) {
	const hextable = "0123456789abcdef"
	hexByte := func(b byte) string {
		return string([]byte{hextable[b>>4], hextable[b&0x0f]})
	}
	for n := 0; n < 8; n++ {
		segments[n] = hexByte(i.Body[n])
	}
	buf := make([]byte, 0, BodyLen*2)
	for _, b := range i.Body {
		buf = append(buf, hextable[b>>4], hextable[b&0x0f])
	}
	return segments, string(buf)
}
