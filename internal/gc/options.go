// Package gc implements the snapshot garbage collector: the two-stage
// tombstone / hard-delete state machine, live-set computation with
// incremental-chain parent pinning, and the retry, backoff and quarantine
// bookkeeping around payload deletion.
package gc

import "time"

// RetentionPolicy decides which snapshots must survive a pass.
type RetentionPolicy struct {
	// KeepLastN newest snapshots (by creation time) are always live.
	// Default: 10.
	KeepLastN int

	// MaxAge keeps every snapshot younger than now-MaxAge live.
	// Default: 30 days.
	MaxAge time.Duration

	// EnableCheckpointing and CheckpointInterval drive catalog
	// checkpointing in the daemon. The GC core does not consume them.
	EnableCheckpointing bool
	CheckpointInterval  time.Duration
}

// DefaultRetentionPolicy returns the default policy.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		KeepLastN:          10,
		MaxAge:             30 * 24 * time.Hour,
		CheckpointInterval: 7 * 24 * time.Hour,
	}
}

// Options configures a single engine.
type Options struct {
	// DryRun makes the pass report what it would do without changing any
	// record state or deleting any payload. Only DRYRUN_* events are
	// emitted.
	DryRun bool

	// Stage toggles. DefaultOptions enables both.
	EnableTombstoneStage  bool
	EnableHardDeleteStage bool

	// InactiveTimeout is how long an unreferenced snapshot may go
	// unaccessed before the pass emits an inactivity signal. Default: 7 days.
	InactiveTimeout time.Duration

	// GracePeriod is the tombstone-to-hard-delete delay. It is folded
	// into hardDeleteAfter at tombstone time and never recomputed.
	// Default: 7 days.
	GracePeriod time.Duration

	// MaxDeletesPerRun bounds hard deletions per pass. Default: 1000.
	MaxDeletesPerRun int

	// BatchDeleteSize is the payload-deletion chunk size. Default: 50.
	BatchDeleteSize int

	// MaxDeleteFailuresBeforeQuarantine is the failure count at which a
	// snapshot stops being retried. Default: 5.
	MaxDeleteFailuresBeforeQuarantine uint32

	// BaseRetryBackoff seeds the exponential delete-retry backoff.
	// Default: 10s.
	BaseRetryBackoff time.Duration
}

// DefaultOptions returns the default engine options with both stages
// enabled.
func DefaultOptions() Options {
	return Options{
		EnableTombstoneStage:              true,
		EnableHardDeleteStage:             true,
		InactiveTimeout:                   7 * 24 * time.Hour,
		GracePeriod:                       7 * 24 * time.Hour,
		MaxDeletesPerRun:                  1000,
		BatchDeleteSize:                   50,
		MaxDeleteFailuresBeforeQuarantine: 5,
		BaseRetryBackoff:                  10 * time.Second,
	}
}

// normalize fills zero numeric fields with defaults. Booleans are taken as
// given; callers wanting the stages on start from DefaultOptions.
func (o *Options) normalize() {
	def := DefaultOptions()
	if o.InactiveTimeout <= 0 {
		o.InactiveTimeout = def.InactiveTimeout
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = def.GracePeriod
	}
	if o.MaxDeletesPerRun <= 0 {
		o.MaxDeletesPerRun = def.MaxDeletesPerRun
	}
	if o.BatchDeleteSize <= 0 {
		o.BatchDeleteSize = def.BatchDeleteSize
	}
	if o.MaxDeleteFailuresBeforeQuarantine == 0 {
		o.MaxDeleteFailuresBeforeQuarantine = def.MaxDeleteFailuresBeforeQuarantine
	}
	if o.BaseRetryBackoff <= 0 {
		o.BaseRetryBackoff = def.BaseRetryBackoff
	}
}

func (p *RetentionPolicy) normalize() {
	def := DefaultRetentionPolicy()
	if p.KeepLastN <= 0 {
		p.KeepLastN = def.KeepLastN
	}
	if p.MaxAge <= 0 {
		p.MaxAge = def.MaxAge
	}
	if p.CheckpointInterval <= 0 {
		p.CheckpointInterval = def.CheckpointInterval
	}
}

// Metrics is the result of a single pass. All counts are for the
// just-completed pass only.
type Metrics struct {
	Scanned               int
	Tombstoned            int
	Deleted               int
	Quarantined           int
	DeleteFailed          int
	InactiveLoadedSignals int
}
