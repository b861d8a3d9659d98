// Package storage defines the Backend interface for snapshot payload
// storage. The GC engine only needs deletion; the existence probe is
// diagnostic, and the write path lives outside this repository.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by Backend implementations.
var (
	// ErrAccessDenied is returned when credentials lack permission for the
	// operation. On a batch delete this is a catastrophic, batch-level error.
	ErrAccessDenied = errors.New("storage: access denied")

	// ErrClosed is returned when operations are attempted on a closed backend.
	ErrClosed = errors.New("storage: backend closed")
)

// PayloadError wraps an error with the operation and snapshot id for context.
type PayloadError struct {
	Op  string // Operation that failed (e.g., "Delete", "Exists")
	ID  string // Snapshot id
	Err error  // Underlying error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.ID, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// Backend is the payload side of a snapshot store.
//
// Thread safety: implementations must be safe for concurrent use.
type Backend interface {
	// DeletePayload removes the payload for the given snapshot id.
	// Idempotent: deleting a non-existent payload succeeds. A nil return
	// means no bytes remain retrievable under the id.
	DeletePayload(ctx context.Context, id string) error

	// DeletePayloadBatch removes the payloads for all ids. It returns the
	// ids whose deletion failed. A non-nil error together with an empty
	// failed list is a catastrophic batch-level failure (for example an
	// auth failure): the caller must treat every id as failed. When both
	// are non-empty the failed list is authoritative.
	//
	// Implementations may use a native bulk API; BatchDelete provides the
	// loop-of-single-deletes fallback.
	DeletePayloadBatch(ctx context.Context, ids []string) (failed []string, err error)

	// Exists reports whether a payload is present for the id. Diagnostic
	// only; the GC hot path never calls it.
	Exists(ctx context.Context, id string) (bool, error)

	// Close releases resources associated with the backend.
	Close() error
}

// BatchDelete is the default batch implementation: single deletes in a
// loop, accumulating failures. Backends without a native bulk API delegate
// to it.
func BatchDelete(ctx context.Context, b Backend, ids []string) (failed []string, err error) {
	var firstErr error
	for _, id := range ids {
		if delErr := b.DeletePayload(ctx, id); delErr != nil {
			failed = append(failed, id)
			if firstErr == nil {
				firstErr = delErr
			}
		}
	}
	if len(failed) > 0 {
		return failed, firstErr
	}
	return nil, nil
}
