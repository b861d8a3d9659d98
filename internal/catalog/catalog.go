// Package catalog defines the Catalog interface: the durable store of
// snapshot records and the GC event log. The default implementation is the
// append-only journal in the journal subpackage; sqlite and oxia
// subpackages provide alternative backends.
package catalog

import (
	"context"
	"errors"

	"github.com/snapgc-io/snapgc/internal/snapshot"
)

// Common errors returned by Catalog implementations.
var (
	// ErrClosed is returned when operations are attempted on a closed catalog.
	ErrClosed = errors.New("catalog: closed")

	// ErrCorruptRecord is returned when a persisted record cannot be decoded.
	ErrCorruptRecord = errors.New("catalog: corrupt record")
)

// Catalog is the durable store of snapshot metadata.
//
// TransitionState is the only sanctioned way to change a record's state;
// Upsert exists for non-state fields (hardDeleteAfter, retry counters,
// lastError). Implementations fail closed: on any I/O error the in-memory
// view must not diverge from what was durably written.
//
// Implementations must be safe for concurrent use within a process.
// Cross-process exclusion is the leader elector's job.
type Catalog interface {
	// ListAll returns a consistent copy of every record at call time.
	// Order is unspecified.
	ListAll(ctx context.Context) ([]snapshot.Meta, error)

	// Get returns the record for id. The second return is false if the
	// record does not exist (not an error).
	Get(ctx context.Context, id string) (snapshot.Meta, bool, error)

	// TransitionState performs a compare-and-swap on the record's state.
	// It returns true and persists the transition iff the record exists
	// and its current state equals expected. A false return with nil
	// error means the CAS was lost; the caller drops the candidate.
	TransitionState(ctx context.Context, id string, expected, desired snapshot.State) (bool, error)

	// Upsert replaces the full record and persists it before returning.
	// It does not enforce state-transition rules.
	Upsert(ctx context.Context, m snapshot.Meta) error

	// RecordEvent appends an audit entry. Durability is best-effort but
	// entries appear in call order.
	RecordEvent(ctx context.Context, e snapshot.Event) error

	// Close releases resources held by the catalog.
	Close() error
}
