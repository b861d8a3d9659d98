// Package oxia implements the Catalog on an Oxia namespace.
//
// Records live under /snapgc/v1/snapshots/<id> as JSON documents; the state
// CAS rides on Oxia's versioned puts, which makes it safe across processes
// without a leader elector. Events are appended under /snapgc/v1/events/.
package oxia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/snapgc-io/snapgc/internal/catalog"
	"github.com/snapgc-io/snapgc/internal/snapshot"
)

const (
	snapshotPrefix = "/snapgc/v1/snapshots/"
	eventPrefix    = "/snapgc/v1/events/"
)

// Config configures the Oxia catalog.
type Config struct {
	// ServiceAddress is the Oxia service endpoint (e.g., "localhost:6648").
	ServiceAddress string

	// Namespace is the Oxia namespace to use (e.g., "snapgc/prod").
	Namespace string

	// RequestTimeout is the timeout for individual requests.
	// Default: 30 seconds.
	RequestTimeout time.Duration

	// SessionTimeout is the ephemeral-key session timeout, which bounds
	// how long a crashed leader blocks its successor. Default: 15 seconds.
	SessionTimeout time.Duration
}

// Store implements the Catalog on Oxia.
type Store struct {
	client oxiaclient.SyncClient

	mu     sync.RWMutex
	closed bool
}

// wireMeta is the JSON document stored per snapshot. Timestamps are
// millisecond epochs with -1 for absent optionals, matching the journal
// sentinels.
type wireMeta struct {
	ID              string   `json:"id"`
	CreatedMs       int64    `json:"createdMs"`
	SizeBytes       uint64   `json:"sizeBytes"`
	State           int      `json:"state"`
	ParentID        string   `json:"parentId,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	LeaseCount      uint32   `json:"leaseCount"`
	LastAccessMs    int64    `json:"lastAccessMs"`
	HardDeleteMs    int64    `json:"hardDeleteAfterMs"`
	DeleteFailures  uint32   `json:"deleteFailures"`
	NextRetryMs     int64    `json:"nextRetryAfterMs"`
	LastError       string   `json:"lastError,omitempty"`
}

func toWire(m *snapshot.Meta) wireMeta {
	w := wireMeta{
		ID:             m.ID,
		CreatedMs:      millis(m.Created),
		SizeBytes:      m.SizeBytes,
		State:          int(m.State),
		ParentID:       m.ParentID,
		LeaseCount:     m.LeaseCount,
		LastAccessMs:   millis(m.LastAccess),
		HardDeleteMs:   optMillis(m.HardDeleteAfter),
		DeleteFailures: m.DeleteFailures,
		NextRetryMs:    optMillis(m.NextRetryAfter),
		LastError:      m.LastError,
	}
	for t := range m.Tags {
		w.Tags = append(w.Tags, t)
	}
	return w
}

func fromWire(w *wireMeta) (snapshot.Meta, error) {
	if !snapshot.State(w.State).Valid() {
		return snapshot.Meta{}, fmt.Errorf("%w: state %d", catalog.ErrCorruptRecord, w.State)
	}
	m := snapshot.Meta{
		ID:              w.ID,
		Created:         fromMillis(w.CreatedMs),
		SizeBytes:       w.SizeBytes,
		State:           snapshot.State(w.State),
		ParentID:        w.ParentID,
		LeaseCount:      w.LeaseCount,
		LastAccess:      fromMillis(w.LastAccessMs),
		DeleteFailures:  w.DeleteFailures,
		LastError:       w.LastError,
	}
	if w.HardDeleteMs >= 0 {
		m.HardDeleteAfter = fromMillis(w.HardDeleteMs)
	}
	if w.NextRetryMs >= 0 {
		m.NextRetryAfter = fromMillis(w.NextRetryMs)
	}
	for _, t := range w.Tags {
		m.AddTag(t)
	}
	return m, nil
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

// New creates an Oxia catalog.
func New(cfg Config) (*Store, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{client: client}, nil
}

func newClient(cfg Config) (oxiaclient.SyncClient, error) {
	if cfg.ServiceAddress == "" {
		return nil, errors.New("oxia: service address is required")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("oxia: namespace is required")
	}

	opts := []oxiaclient.ClientOption{
		oxiaclient.WithNamespace(cfg.Namespace),
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, oxiaclient.WithRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.SessionTimeout > 0 {
		opts = append(opts, oxiaclient.WithSessionTimeout(cfg.SessionTimeout))
	}

	client, err := oxiaclient.NewSyncClient(cfg.ServiceAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("oxia: failed to create client: %w", err)
	}
	return client, nil
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return catalog.ErrClosed
	}
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]snapshot.Meta, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	results := s.client.RangeScan(ctx, snapshotPrefix, snapshotPrefix+"/")
	var out []snapshot.Meta
	for result := range results {
		if result.Err != nil {
			return nil, fmt.Errorf("oxia: list: %w", result.Err)
		}
		var w wireMeta
		if err := json.Unmarshal(result.Value, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", catalog.ErrCorruptRecord, err)
		}
		m, err := fromWire(&w)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (snapshot.Meta, bool, error) {
	m, _, ok, err := s.getVersioned(ctx, id)
	return m, ok, err
}

func (s *Store) getVersioned(ctx context.Context, id string) (snapshot.Meta, int64, bool, error) {
	if err := s.checkClosed(); err != nil {
		return snapshot.Meta{}, 0, false, err
	}

	_, value, version, err := s.client.Get(ctx, snapshotPrefix+id)
	if err != nil {
		if errors.Is(err, oxiaclient.ErrKeyNotFound) {
			return snapshot.Meta{}, 0, false, nil
		}
		return snapshot.Meta{}, 0, false, fmt.Errorf("oxia: get %s: %w", id, err)
	}

	var w wireMeta
	if err := json.Unmarshal(value, &w); err != nil {
		return snapshot.Meta{}, 0, false, fmt.Errorf("%w: %v", catalog.ErrCorruptRecord, err)
	}
	m, err := fromWire(&w)
	if err != nil {
		return snapshot.Meta{}, 0, false, err
	}
	return m, version.VersionId, true, nil
}

// TransitionState reads the record, checks the expected state, and writes
// the desired state conditioned on the read version. Losing the version
// race means a concurrent mutation; the CAS reports false.
func (s *Store) TransitionState(ctx context.Context, id string, expected, desired snapshot.State) (bool, error) {
	m, version, ok, err := s.getVersioned(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok || m.State != expected {
		return false, nil
	}

	m.State = desired
	data, err := json.Marshal(toWire(&m))
	if err != nil {
		return false, fmt.Errorf("oxia: encode %s: %w", id, err)
	}

	_, _, err = s.client.Put(ctx, snapshotPrefix+id, data, oxiaclient.ExpectedVersionId(version))
	if err != nil {
		if errors.Is(err, oxiaclient.ErrUnexpectedVersionId) {
			return false, nil
		}
		return false, fmt.Errorf("oxia: transition %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) Upsert(ctx context.Context, m snapshot.Meta) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	data, err := json.Marshal(toWire(&m))
	if err != nil {
		return fmt.Errorf("oxia: encode %s: %w", m.ID, err)
	}
	if _, _, err := s.client.Put(ctx, snapshotPrefix+m.ID, data); err != nil {
		return fmt.Errorf("oxia: upsert %s: %w", m.ID, err)
	}
	return nil
}

// RecordEvent appends the event under a time-ordered key. The ms-epoch
// prefix keeps lexicographic order aligned with call order; the uuid
// suffix keeps same-millisecond events from colliding.
func (s *Store) RecordEvent(ctx context.Context, e snapshot.Event) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	data, err := json.Marshal(map[string]any{
		"whenMs":     millis(e.When),
		"snapshotId": e.SnapshotID,
		"type":       e.Type,
		"details":    e.Details,
	})
	if err != nil {
		return fmt.Errorf("oxia: encode event: %w", err)
	}
	key := fmt.Sprintf("%s%020d-%s", eventPrefix, millis(e.When), uuid.NewString())
	if _, _, err := s.client.Put(ctx, key, data); err != nil {
		return fmt.Errorf("oxia: record event: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

var _ catalog.Catalog = (*Store)(nil)
