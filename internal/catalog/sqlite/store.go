// Package sqlite implements the Catalog on an embedded SQLite database.
//
// Unlike the journal catalog, the SQLite schema persists the full record
// including parentId and tags, so incremental chains and pin tags survive a
// restart. The state CAS runs as a conditional UPDATE, so it is correct
// even against other writers on the same database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/snapgc-io/snapgc/internal/catalog"
	"github.com/snapgc-io/snapgc/internal/snapshot"
)

// Store is the SQLite-backed Catalog implementation.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool
}

// Open opens (or creates) the catalog database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	created_ms INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL,
	state INTEGER NOT NULL,
	parent_id TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	lease_count INTEGER NOT NULL DEFAULT 0,
	last_access_ms INTEGER NOT NULL DEFAULT 0,
	hard_delete_after_ms INTEGER NOT NULL DEFAULT -1,
	delete_failures INTEGER NOT NULL DEFAULT 0,
	next_retry_after_ms INTEGER NOT NULL DEFAULT -1,
	last_error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS gc_events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	when_ms INTEGER NOT NULL,
	snapshot_id TEXT NOT NULL,
	type TEXT NOT NULL,
	details TEXT NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func (s *Store) checkClosed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return catalog.ErrClosed
	}
	return nil
}

func encodeTags(tags map[string]struct{}) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	list := make([]string, 0, len(tags))
	for t := range tags {
		list = append(list, t)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(data string) (map[string]struct{}, error) {
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("%w: tags %q", catalog.ErrCorruptRecord, data)
	}
	if len(list) == 0 {
		return nil, nil
	}
	tags := make(map[string]struct{}, len(list))
	for _, t := range list {
		tags[t] = struct{}{}
	}
	return tags, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func optMillis(t time.Time) int64 {
	if t.IsZero() {
		return -1
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

const snapshotColumns = `id, created_ms, size_bytes, state, parent_id, tags, lease_count,
	last_access_ms, hard_delete_after_ms, delete_failures, next_retry_after_ms, last_error`

func scanMeta(row interface{ Scan(...any) error }) (snapshot.Meta, error) {
	var (
		m                        snapshot.Meta
		createdMs, lastAccessMs  int64
		hardDeleteMs, nextRetryMs int64
		state                    int
		tags                     string
	)
	err := row.Scan(&m.ID, &createdMs, &m.SizeBytes, &state, &m.ParentID, &tags,
		&m.LeaseCount, &lastAccessMs, &hardDeleteMs, &m.DeleteFailures, &nextRetryMs, &m.LastError)
	if err != nil {
		return snapshot.Meta{}, err
	}
	if !snapshot.State(state).Valid() {
		return snapshot.Meta{}, fmt.Errorf("%w: state %d", catalog.ErrCorruptRecord, state)
	}
	m.State = snapshot.State(state)
	m.Created = fromMillis(createdMs)
	m.LastAccess = fromMillis(lastAccessMs)
	m.HardDeleteAfter = fromMillis(hardDeleteMs)
	m.NextRetryAfter = fromMillis(nextRetryMs)
	m.Tags, err = decodeTags(tags)
	if err != nil {
		return snapshot.Meta{}, err
	}
	return m, nil
}

func (s *Store) ListAll(ctx context.Context) ([]snapshot.Meta, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	var out []snapshot.Meta
	for rows.Next() {
		m, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (snapshot.Meta, bool, error) {
	if err := s.checkClosed(); err != nil {
		return snapshot.Meta{}, false, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
	m, err := scanMeta(row)
	if err == sql.ErrNoRows {
		return snapshot.Meta{}, false, nil
	}
	if err != nil {
		return snapshot.Meta{}, false, fmt.Errorf("sqlite: get %s: %w", id, err)
	}
	return m, true, nil
}

// TransitionState runs the CAS as a single conditional UPDATE; the affected
// row count is the CAS outcome.
func (s *Store) TransitionState(ctx context.Context, id string, expected, desired snapshot.State) (bool, error) {
	if err := s.checkClosed(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE snapshots SET state = ? WHERE id = ? AND state = ?`,
		int(desired), id, int(expected))
	if err != nil {
		return false, fmt.Errorf("sqlite: transition %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: transition %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *Store) Upsert(ctx context.Context, m snapshot.Meta) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	tags, err := encodeTags(m.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO snapshots (`+snapshotColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	created_ms = excluded.created_ms,
	size_bytes = excluded.size_bytes,
	state = excluded.state,
	parent_id = excluded.parent_id,
	tags = excluded.tags,
	lease_count = excluded.lease_count,
	last_access_ms = excluded.last_access_ms,
	hard_delete_after_ms = excluded.hard_delete_after_ms,
	delete_failures = excluded.delete_failures,
	next_retry_after_ms = excluded.next_retry_after_ms,
	last_error = excluded.last_error
`,
		m.ID, millis(m.Created), m.SizeBytes, int(m.State), m.ParentID, tags,
		m.LeaseCount, millis(m.LastAccess), optMillis(m.HardDeleteAfter),
		m.DeleteFailures, optMillis(m.NextRetryAfter), m.LastError)
	if err != nil {
		return fmt.Errorf("sqlite: upsert %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) RecordEvent(ctx context.Context, e snapshot.Event) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gc_events (when_ms, snapshot_id, type, details) VALUES (?, ?, ?, ?)`,
		millis(e.When), e.SnapshotID, e.Type, e.Details)
	if err != nil {
		return fmt.Errorf("sqlite: record event: %w", err)
	}
	return nil
}

// Events returns recorded events in append order. Diagnostic surface; the
// GC engine never reads events back.
func (s *Store) Events(ctx context.Context) ([]snapshot.Event, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT when_ms, snapshot_id, type, details FROM gc_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: events: %w", err)
	}
	defer rows.Close()

	var out []snapshot.Event
	for rows.Next() {
		var (
			e      snapshot.Event
			whenMs int64
		)
		if err := rows.Scan(&whenMs, &e.SnapshotID, &e.Type, &e.Details); err != nil {
			return nil, err
		}
		e.When = fromMillis(whenMs)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ catalog.Catalog = (*Store)(nil)
