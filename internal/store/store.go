// Package store implements the object lifecycle: a content-addressed,
// two-phase (incomplete -> complete) directory layout with
// write-exclusion locking and TTL expiry checked on access. The
// filesystem-backed Backend is canonical; an S3-compatible Backend is
// offered as an alternate for horizontally-scaled deployments,
// substituting conditional-PUT for object stores that lack O_EXCL.
// Both implement the same PutObject/GetObject/DeleteObject/HeadObject
// style Client interface shape, generalized here to a store.Backend
// that the filesystem path also happens to satisfy.
package store

import (
	"context"
	"io"
	"time"

	"github.com/kenneth/secsend/internal/id"
)

// Handle addresses one stored object (a RootID's or FileID's 10-byte
// body determines the same directory path either way).
type Handle interface {
	// Metadata returns the raw stored envelope bytes. ErrNotFound if absent.
	Metadata(ctx context.Context) ([]byte, error)
	// WriteMetadata creates the metadata object exclusively (O_EXCL
	// semantics). ErrExists if one is already present.
	WriteMetadata(ctx context.Context, data []byte) error
	// ReplaceMetadata atomically overwrites an existing metadata object
	// (set_as_complete's temp-file-then-rename).
	ReplaceMetadata(ctx context.Context, data []byte) error

	// Size returns the content object's current size, 0 if absent.
	Size(ctx context.Context) (int64, error)

	// AppendContent returns a writer positioned at the end of the
	// content object, creating it if absent.
	AppendContent(ctx context.Context) (io.WriteCloser, error)
	// ReadContent returns a reader over the content object starting at
	// byte offset off.
	ReadContent(ctx context.Context, off int64) (io.ReadCloser, error)

	// Lock acquires the per-object write-exclusion lock. ErrLocked if
	// another writer holds it.
	Lock(ctx context.Context) (Unlocker, error)

	// Delete removes both the metadata and content objects.
	Delete(ctx context.Context) error
}

// Unlocker releases a Handle.Lock acquisition.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// Backend mints Handles for file-ids and performs backend-wide setup.
type Backend interface {
	// Open returns a handle bound to fileID's storage location. Opening
	// never touches disk; all I/O happens through the Handle's methods.
	Open(fileID id.ID) Handle
}

// Sentinel errors a Backend/Handle implementation returns; Object's
// methods translate these into relayerr kinds.
var (
	ErrNotFound = backendError("object not found")
	ErrExists   = backendError("object already exists")
	ErrLocked   = backendError("object is locked")
)

type backendError string

func (e backendError) Error() string { return string(e) }

// Clock abstracts time.Now for deterministic TTL tests.
type Clock func() time.Time

// DefaultClock is time.Now.
func DefaultClock() time.Time { return time.Now() }
