// Package relayerr defines the typed error kinds shared by every core
// component (crypto, metadata, store, relay). Handlers map each kind to
// an HTTP status; nothing else in the relay retries across requests.
package relayerr

import "errors"

// Kind identifies one of the error categories from the design.
type Kind string

const (
	KindIDInvalid       Kind = "id_invalid"
	KindIDWrongType     Kind = "id_wrong_type"
	KindIDUnknown       Kind = "id_unknown"
	KindIDExists        Kind = "id_exists"
	KindIDUnavailable   Kind = "id_unavailable"
	KindInvalidMetadata Kind = "invalid_metadata"
	KindFileLocked      Kind = "file_locked"
	KindInvalidKey      Kind = "invalid_key"
	KindSchemaError     Kind = "schema_error"
	KindSizeLimit       Kind = "size_limit_exceeded"
	KindAlreadyComplete Kind = "already_complete"
	KindInvalidTimeout  Kind = "invalid_timeout"
)

// Sentinel errors, one per Kind, used with errors.Is/errors.As.
var (
	ErrIDInvalid       = &Error{Kind: KindIDInvalid, Message: "malformed id"}
	ErrIDWrongType     = &Error{Kind: KindIDWrongType, Message: "id is the wrong kind"}
	ErrIDUnknown       = &Error{Kind: KindIDUnknown, Message: "no such object"}
	ErrIDExists        = &Error{Kind: KindIDExists, Message: "id already exists"}
	ErrIDUnavailable   = &Error{Kind: KindIDUnavailable, Message: "IDUnavailable"}
	ErrInvalidMetadata = &Error{Kind: KindInvalidMetadata, Message: "stored metadata is malformed"}
	ErrFileLocked       = &Error{Kind: KindFileLocked, Message: "object is locked by a concurrent writer"}
	ErrInvalidKey       = &Error{Kind: KindInvalidKey, Message: "key-proof mismatch"}
	ErrSchemaError      = &Error{Kind: KindSchemaError, Message: "request body does not match the expected schema"}
	ErrSizeLimitExceeded = &Error{Kind: KindSizeLimit, Message: "upload exceeds the configured size limit"}
	ErrAlreadyComplete   = &Error{Kind: KindAlreadyComplete, Message: "object is already complete"}
	ErrInvalidTimeout    = &Error{Kind: KindInvalidTimeout, Message: "timeout_s is not in the server's allow-list"}
)

// Error is a typed relay error. Two *Error values with the same Kind
// compare equal under errors.Is regardless of Message, so call sites can
// wrap with additional context (fmt.Errorf("...: %w", relayerr.ErrIDUnknown))
// without breaking classification.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is makes errors.Is(err, relayerr.ErrIDUnknown) match any *Error sharing
// the same Kind, independent of Message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Of reports the Kind of err, if err is (or wraps) a *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
