package gc

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/snapgc-io/snapgc/internal/catalog"
	"github.com/snapgc-io/snapgc/internal/leader"
	"github.com/snapgc-io/snapgc/internal/snapshot"
	"github.com/snapgc-io/snapgc/internal/storage"
)

// backoffShiftCap caps the exponent of the delete-retry backoff.
const backoffShiftCap = 10

// EventSink receives a copy of every GC event, in addition to the
// catalog's own event log. Sinks are best-effort: a failing sink is logged
// and never fails the pass.
type EventSink interface {
	Publish(ctx context.Context, e snapshot.Event) error
}

// CorruptionTracker is the hook the engine calls when a payload has been
// permanently deleted, so stale corruption bookkeeping for the snapshot can
// be dropped.
type CorruptionTracker interface {
	ForgetCorruptionForSnapshot(id string)
}

// Engine runs GC passes over one catalog/storage pair. It holds no durable
// state of its own: live sets, candidate lists and metrics are transient
// within a pass.
//
// Engines are single-actor per dataset. Cross-process exclusion comes from
// the elector; the engine itself runs one pass at a time.
type Engine struct {
	catalog catalog.Catalog
	storage storage.Backend
	policy  RetentionPolicy
	opts    Options

	elector    leader.Elector
	corruption CorruptionTracker
	sink       EventSink
	now        func() time.Time
	log        *slog.Logger
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithElector attaches a leader elector. Without one the engine assumes it
// is the only GC instance for the dataset.
func WithElector(e leader.Elector) Option {
	return func(g *Engine) { g.elector = e }
}

// WithCorruptionTracker attaches the corruption-forget hook.
func WithCorruptionTracker(t CorruptionTracker) Option {
	return func(g *Engine) { g.corruption = t }
}

// WithEventSink attaches an additional event sink.
func WithEventSink(s EventSink) Option {
	return func(g *Engine) { g.sink = s }
}

// WithClock overrides the engine's time source. Tests use this to pin now.
func WithClock(now func() time.Time) Option {
	return func(g *Engine) { g.now = now }
}

// WithLogger overrides the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Engine) { g.log = l }
}

// New creates an engine. Zero numeric fields in policy and opts are filled
// with defaults.
func New(cat catalog.Catalog, store storage.Backend, policy RetentionPolicy, opts Options, options ...Option) *Engine {
	policy.normalize()
	opts.normalize()
	e := &Engine{
		catalog: cat,
		storage: store,
		policy:  policy,
		opts:    opts,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// RunOnce executes a single GC pass and returns its metrics.
//
// If an elector is configured and leadership is not acquired, the pass is a
// no-op returning zero metrics and a nil error. Leadership is released on
// every exit path. Catalog I/O errors abort the pass and propagate;
// per-snapshot payload failures do not.
func (e *Engine) RunOnce(ctx context.Context) (Metrics, error) {
	if e.elector != nil {
		if !e.elector.TryAcquire() {
			e.log.Debug("gc pass skipped: not leader")
			return Metrics{}, nil
		}
		defer e.elector.Release()
	}

	passID := uuid.NewString()
	log := e.log.With("pass", passID)

	all, err := e.catalog.ListAll(ctx)
	if err != nil {
		return Metrics{}, err
	}

	metrics := Metrics{Scanned: len(all)}

	live, err := e.computeLiveSet(ctx, all)
	if err != nil {
		return metrics, err
	}

	if e.opts.EnableTombstoneStage {
		if err := e.tombstoneStage(ctx, all, live, &metrics); err != nil {
			return metrics, err
		}
	}

	if e.opts.EnableHardDeleteStage {
		if err := e.hardDeleteStage(ctx, &metrics); err != nil {
			return metrics, err
		}
	}

	log.Info("gc pass complete",
		"scanned", metrics.Scanned,
		"live", len(live),
		"tombstoned", metrics.Tombstoned,
		"deleted", metrics.Deleted,
		"deleteFailed", metrics.DeleteFailed,
		"quarantined", metrics.Quarantined,
		"dryRun", e.opts.DryRun,
	)
	return metrics, nil
}

// computeLiveSet builds the set of snapshot ids the policy requires to
// survive this pass. Deleted records are skipped entirely; everything else
// is considered for keep-last-N, the age window, leases and pin tags, each
// of which also pins the record's parent chain.
func (e *Engine) computeLiveSet(ctx context.Context, all []snapshot.Meta) (map[string]struct{}, error) {
	live := make(map[string]struct{})
	now := e.now()
	cutoff := now.Add(-e.policy.MaxAge)

	candidates := make([]snapshot.Meta, 0, len(all))
	for _, s := range all {
		if s.State == snapshot.StateDeleted {
			continue
		}
		candidates = append(candidates, s)
	}

	sorted := make([]snapshot.Meta, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Created.After(sorted[j].Created)
	})
	for i := 0; i < len(sorted) && i < e.policy.KeepLastN; i++ {
		if err := e.markLiveWithParents(ctx, &sorted[i], live); err != nil {
			return nil, err
		}
	}

	for i := range candidates {
		s := &candidates[i]
		keep := !s.Created.Before(cutoff) || s.LeaseCount > 0 || s.Pinned()
		if !keep {
			continue
		}
		if err := e.markLiveWithParents(ctx, s, live); err != nil {
			return nil, err
		}
	}
	return live, nil
}

// markLiveWithParents marks a record live and walks its parent chain
// through the catalog. A missing parent ends the chain without error;
// dedup on id makes cycles safe.
func (e *Engine) markLiveWithParents(ctx context.Context, s *snapshot.Meta, live map[string]struct{}) error {
	id, parent := s.ID, s.ParentID
	for {
		if _, seen := live[id]; seen {
			return nil
		}
		live[id] = struct{}{}
		if parent == "" {
			return nil
		}
		p, ok, err := e.catalog.Get(ctx, parent)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		id, parent = p.ID, p.ParentID
	}
}

// tombstoneStage soft-deletes every Active, unleased record outside the
// live set, then emits inactivity signals for unreferenced records whose
// last access is older than the inactivity timeout.
func (e *Engine) tombstoneStage(ctx context.Context, all []snapshot.Meta, live map[string]struct{}, metrics *Metrics) error {
	now := e.now()

	for i := range all {
		s := &all[i]
		if s.State != snapshot.StateActive {
			continue
		}
		if _, ok := live[s.ID]; ok {
			continue
		}
		if s.LeaseCount > 0 {
			continue
		}

		if e.opts.DryRun {
			e.emit(ctx, snapshot.Event{
				When:       now,
				SnapshotID: s.ID,
				Type:       snapshot.EventDryRunTombstone,
				Details:    "would tombstone",
			})
			continue
		}

		ok, err := e.catalog.TransitionState(ctx, s.ID, snapshot.StateActive, snapshot.StateTombstoned)
		if err != nil {
			return err
		}
		if !ok {
			// Concurrently mutated; drop the candidate for this pass.
			continue
		}

		cur, found, err := e.catalog.Get(ctx, s.ID)
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		// hardDeleteAfter is fixed here, once. Later grace-period changes
		// never move it.
		cur.HardDeleteAfter = now.Add(e.opts.GracePeriod)
		cur.NextRetryAfter = time.Time{}
		cur.LastError = ""
		if err := e.catalog.Upsert(ctx, cur); err != nil {
			return err
		}

		e.emit(ctx, snapshot.Event{
			When:       now,
			SnapshotID: s.ID,
			Type:       snapshot.EventTombstone,
			Details:    "soft-deleted; hard delete scheduled",
		})
		metrics.Tombstoned++
	}

	for i := range all {
		s := &all[i]
		if s.State != snapshot.StateActive {
			continue
		}
		if _, ok := live[s.ID]; ok {
			continue
		}
		if s.LastAccess.IsZero() {
			continue
		}
		if e.now().Before(s.LastAccess.Add(e.opts.InactiveTimeout)) {
			continue
		}
		e.emit(ctx, snapshot.Event{
			When:       e.now(),
			SnapshotID: s.ID,
			Type:       snapshot.EventInactive,
			Details:    "unreferenced long enough to be considered inactive",
		})
		metrics.InactiveLoadedSignals++
	}
	return nil
}

// hardDeleteStage permanently deletes tombstoned payloads whose grace has
// elapsed and whose retry window allows, in chunks, with a per-id CAS into
// Deleting as the anti-double-delete barrier.
func (e *Engine) hardDeleteStage(ctx context.Context, metrics *Metrics) error {
	now := e.now()

	// Re-list to observe the tombstones written moments ago.
	all, err := e.catalog.ListAll(ctx)
	if err != nil {
		return err
	}

	var eligible []snapshot.Meta
	for _, s := range all {
		if s.State != snapshot.StateTombstoned {
			continue
		}
		if s.LeaseCount > 0 {
			continue
		}
		if s.HardDeleteAfter.IsZero() || now.Before(s.HardDeleteAfter) {
			continue
		}
		if !s.NextRetryAfter.IsZero() && now.Before(s.NextRetryAfter) {
			continue
		}
		eligible = append(eligible, s)
	}

	if len(eligible) > e.opts.MaxDeletesPerRun {
		eligible = eligible[:e.opts.MaxDeletesPerRun]
	}

	for start := 0; start < len(eligible); start += e.opts.BatchDeleteSize {
		end := start + e.opts.BatchDeleteSize
		if end > len(eligible) {
			end = len(eligible)
		}
		chunk := eligible[start:end]

		if e.opts.DryRun {
			for i := range chunk {
				e.emit(ctx, snapshot.Event{
					When:       now,
					SnapshotID: chunk[i].ID,
					Type:       snapshot.EventDryRunDelete,
					Details:    "would hard-delete payload",
				})
			}
			continue
		}

		if err := e.deleteChunk(ctx, chunk, metrics); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) deleteChunk(ctx context.Context, chunk []snapshot.Meta, metrics *Metrics) error {
	// CAS each candidate into Deleting. Losing the CAS means another
	// instance got there first; the id is silently dropped.
	deletingIDs := make([]string, 0, len(chunk))
	for i := range chunk {
		ok, err := e.catalog.TransitionState(ctx, chunk[i].ID, snapshot.StateTombstoned, snapshot.StateDeleting)
		if err != nil {
			return err
		}
		if ok {
			deletingIDs = append(deletingIDs, chunk[i].ID)
		}
	}
	if len(deletingIDs) == 0 {
		return nil
	}

	failed, batchErr := e.storage.DeletePayloadBatch(ctx, deletingIDs)
	failedSet := make(map[string]struct{}, len(failed))
	for _, id := range failed {
		failedSet[id] = struct{}{}
	}
	// A batch-level error with no per-id failures means the whole request
	// died (auth, connectivity): everyone in the batch failed. With an
	// explicit failed list, that list is authoritative.
	catastrophic := batchErr != nil && len(failed) == 0
	if batchErr != nil {
		e.log.Warn("payload batch delete reported errors",
			"ids", len(deletingIDs),
			"failed", len(failed),
			"error", batchErr,
		)
	}

	for _, id := range deletingIDs {
		_, isFailed := failedSet[id]
		if catastrophic {
			isFailed = true
		}
		if !isFailed {
			if err := e.finalizeDeleted(ctx, id, metrics); err != nil {
				return err
			}
			continue
		}
		if err := e.recordDeleteFailure(ctx, id, batchErr, metrics); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) finalizeDeleted(ctx context.Context, id string, metrics *Metrics) error {
	if _, err := e.catalog.TransitionState(ctx, id, snapshot.StateDeleting, snapshot.StateDeleted); err != nil {
		return err
	}
	e.emit(ctx, snapshot.Event{
		When:       e.now(),
		SnapshotID: id,
		Type:       snapshot.EventDeleteOK,
		Details:    "payload permanently deleted",
	})
	metrics.Deleted++
	if e.corruption != nil {
		e.corruption.ForgetCorruptionForSnapshot(id)
	}
	return nil
}

// recordDeleteFailure books a failed payload deletion against the record:
// failure counter, backoff, and either a revert to Tombstoned for retry or
// a terminal move to Quarantined.
func (e *Engine) recordDeleteFailure(ctx context.Context, id string, batchErr error, metrics *Metrics) error {
	metrics.DeleteFailed++

	cur, found, err := e.catalog.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	cur.DeleteFailures++
	if batchErr != nil {
		cur.LastError = batchErr.Error()
	} else {
		cur.LastError = "Delete failed"
	}

	shift := cur.DeleteFailures
	if shift > backoffShiftCap {
		shift = backoffShiftCap
	}
	cur.NextRetryAfter = e.now().Add(e.opts.BaseRetryBackoff * time.Duration(1<<shift))

	if cur.DeleteFailures >= e.opts.MaxDeleteFailuresBeforeQuarantine {
		ok, err := e.catalog.TransitionState(ctx, id, snapshot.StateDeleting, snapshot.StateQuarantined)
		if err != nil {
			return err
		}
		if ok {
			cur.State = snapshot.StateQuarantined
		}
		e.emit(ctx, snapshot.Event{
			When:       e.now(),
			SnapshotID: id,
			Type:       snapshot.EventQuarantine,
			Details:    "too many delete failures: " + cur.LastError,
		})
		metrics.Quarantined++
	} else {
		ok, err := e.catalog.TransitionState(ctx, id, snapshot.StateDeleting, snapshot.StateTombstoned)
		if err != nil {
			return err
		}
		if ok {
			cur.State = snapshot.StateTombstoned
		}
		e.emit(ctx, snapshot.Event{
			When:       e.now(),
			SnapshotID: id,
			Type:       snapshot.EventDeleteFail,
			Details:    "will retry after backoff: " + cur.LastError,
		})
	}

	// Persist counters and backoff. cur.State tracks the CAS outcome so
	// the upsert cannot clobber the transition just made.
	return e.catalog.Upsert(ctx, cur)
}

// RecoverStuck reverts records left in Deleting by a crashed pass back to
// Tombstoned so the next pass retries them. The daemon calls this once at
// startup, before the first pass. Returns the number of records recovered.
func (e *Engine) RecoverStuck(ctx context.Context) (int, error) {
	all, err := e.catalog.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for i := range all {
		if all[i].State != snapshot.StateDeleting {
			continue
		}
		ok, err := e.catalog.TransitionState(ctx, all[i].ID, snapshot.StateDeleting, snapshot.StateTombstoned)
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered++
			e.log.Warn("recovered snapshot stuck in deleting state", "snapshot", all[i].ID)
		}
	}
	return recovered, nil
}

// emit records an event on the catalog's audit log and fans it out to the
// optional sink. Both are best-effort.
func (e *Engine) emit(ctx context.Context, ev snapshot.Event) {
	if err := e.catalog.RecordEvent(ctx, ev); err != nil {
		e.log.Warn("failed to record gc event",
			"snapshot", ev.SnapshotID,
			"type", ev.Type,
			"error", err,
		)
	}
	if e.sink != nil {
		if err := e.sink.Publish(ctx, ev); err != nil {
			e.log.Warn("event sink publish failed",
				"snapshot", ev.SnapshotID,
				"type", ev.Type,
				"error", err,
			)
		}
	}
}
