package store

import (
	"context"
	"fmt"
	"io"

	"github.com/kenneth/secsend/internal/id"
	"github.com/kenneth/secsend/internal/metadata"
	"github.com/kenneth/secsend/internal/relayerr"
)

// Object is the backend-agnostic view of the object lifecycle's
// operations, built on top of a Backend's Handle. create/open/
// check_validity/set_as_complete/delete all live here so fsstore and
// s3store only need to implement the narrower Handle primitives.
type Object struct {
	backend Backend
	fileID  id.ID
	clock   Clock
}

// New returns the Object addressing fileID's storage location.
func New(backend Backend, fileID id.ID, clock Clock) *Object {
	if clock == nil {
		clock = DefaultClock
	}
	return &Object{backend: backend, fileID: fileID, clock: clock}
}

// Create persists a brand-new pending object: complete=false,
// timeout_ts=0, exclusive-create semantics.
func (o *Object) Create(ctx context.Context, rec metadata.Record) error {
	rec.Complete = false
	rec.TimeoutTS = 0
	raw, err := metadata.Marshal(rec)
	if err != nil {
		return err
	}

	h := o.backend.Open(o.fileID)
	if err := h.WriteMetadata(ctx, raw); err != nil {
		if err == ErrExists {
			return relayerr.ErrIDExists
		}
		return fmt.Errorf("store: create: %w", err)
	}
	return nil
}

// Metadata loads and parses the stored envelope, first checking
// validity; open and check_validity are folded together here since
// every read observes expiry.
func (o *Object) Metadata(ctx context.Context) (metadata.Record, error) {
	if err := o.CheckValidity(ctx); err != nil {
		return metadata.Record{}, err
	}
	h := o.backend.Open(o.fileID)
	raw, err := h.Metadata(ctx)
	if err != nil {
		if err == ErrNotFound {
			return metadata.Record{}, relayerr.ErrIDUnknown
		}
		return metadata.Record{}, fmt.Errorf("store: metadata: %w", err)
	}
	rec, err := metadata.Unmarshal(raw)
	if err != nil {
		return metadata.Record{}, err
	}
	return rec, nil
}

// Size reports the content object's current byte length, 0 if absent.
func (o *Object) Size(ctx context.Context) (int64, error) {
	h := o.backend.Open(o.fileID)
	return h.Size(ctx)
}

// CheckValidity deletes and reports IDUnknown for an object that has
// completed and whose TTL has elapsed.
func (o *Object) CheckValidity(ctx context.Context) error {
	h := o.backend.Open(o.fileID)
	raw, err := h.Metadata(ctx)
	if err != nil {
		if err == ErrNotFound {
			return relayerr.ErrIDUnknown
		}
		return fmt.Errorf("store: check_validity: %w", err)
	}
	rec, err := metadata.Unmarshal(raw)
	if err != nil {
		return err
	}

	if rec.Complete && rec.TimeoutS != 0 {
		now := float64(o.clock().UTC().Unix())
		if now >= rec.TimeoutTS {
			_ = h.Delete(ctx) // best-effort; idempotent
			return relayerr.ErrIDUnknown
		}
	}
	return nil
}

// LockWrite acquires the per-object write lock, translating backend
// sentinels to relayerr kinds.
func (o *Object) LockWrite(ctx context.Context) (Unlocker, error) {
	h := o.backend.Open(o.fileID)
	u, err := h.Lock(ctx)
	if err != nil {
		if err == ErrLocked {
			return nil, relayerr.ErrFileLocked
		}
		if err == ErrNotFound {
			return nil, relayerr.ErrIDUnknown
		}
		return nil, fmt.Errorf("store: lock_write: %w", err)
	}
	return u, nil
}

// StreamAppend returns a writer positioned at the end of the content object.
func (o *Object) StreamAppend(ctx context.Context) (io.WriteCloser, error) {
	h := o.backend.Open(o.fileID)
	return h.AppendContent(ctx)
}

// StreamRead returns a reader over the content object starting at off.
func (o *Object) StreamRead(ctx context.Context, off int64) (io.ReadCloser, error) {
	h := o.backend.Open(o.fileID)
	return h.ReadContent(ctx, off)
}

// SetComplete flips the object to complete=true and computes
// timeout_ts = now + timeout_s (0 if timeout_s == 0), a no-op if the
// object is already complete.
func (o *Object) SetComplete(ctx context.Context, timeoutS int64) error {
	h := o.backend.Open(o.fileID)
	raw, err := h.Metadata(ctx)
	if err != nil {
		if err == ErrNotFound {
			return relayerr.ErrIDUnknown
		}
		return fmt.Errorf("store: set_complete: %w", err)
	}
	rec, err := metadata.Unmarshal(raw)
	if err != nil {
		return err
	}
	if rec.Complete {
		return nil
	}

	rec.Complete = true
	rec.TimeoutS = timeoutS
	if timeoutS != 0 {
		rec.TimeoutTS = float64(o.clock().UTC().Unix()) + float64(timeoutS)
	} else {
		rec.TimeoutTS = 0
	}

	newRaw, err := metadata.Marshal(rec)
	if err != nil {
		return err
	}
	if err := h.ReplaceMetadata(ctx, newRaw); err != nil {
		return fmt.Errorf("store: set_complete: replace: %w", err)
	}
	return nil
}

// Delete unlinks both the metadata and content objects. An object that
// has completed and expired is treated as already gone, same as Metadata.
func (o *Object) Delete(ctx context.Context) error {
	if err := o.CheckValidity(ctx); err != nil {
		return err
	}
	h := o.backend.Open(o.fileID)
	if err := h.Delete(ctx); err != nil {
		if err == ErrNotFound {
			return relayerr.ErrIDUnknown
		}
		return fmt.Errorf("store: delete: %w", err)
	}
	return nil
}
