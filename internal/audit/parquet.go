package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/snapgc-io/snapgc/internal/snapshot"
)

// defaultFlushThreshold is how many events the archiver buffers before
// rolling a file.
const defaultFlushThreshold = 1000

// EventRow is the Parquet schema for one archived GC event.
type EventRow struct {
	WhenMs     int64  `parquet:"when_ms"`
	SnapshotID string `parquet:"snapshot_id"`
	Type       string `parquet:"type"`
	Details    string `parquet:"details,optional"`
}

// ParquetArchiver is a Sink that batches events and writes them as Parquet
// files under a directory, one file per flush:
//
//	<dir>/gc-events-<firstWhenMs>-<uuid>.parquet
type ParquetArchiver struct {
	dir       string
	threshold int

	mu  sync.Mutex
	buf []EventRow
}

// NewParquetArchiver creates an archiver writing into dir, creating it if
// needed. flushThreshold <= 0 selects the default.
func NewParquetArchiver(dir string, flushThreshold int) (*ParquetArchiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create archive dir %s: %w", dir, err)
	}
	if flushThreshold <= 0 {
		flushThreshold = defaultFlushThreshold
	}
	return &ParquetArchiver{dir: dir, threshold: flushThreshold}, nil
}

func (a *ParquetArchiver) Publish(_ context.Context, e snapshot.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, EventRow{
		WhenMs:     e.When.UnixMilli(),
		SnapshotID: e.SnapshotID,
		Type:       e.Type,
		Details:    e.Details,
	})
	if len(a.buf) >= a.threshold {
		return a.flushLocked()
	}
	return nil
}

// Flush writes buffered events to a new Parquet file.
func (a *ParquetArchiver) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked()
}

func (a *ParquetArchiver) flushLocked() error {
	if len(a.buf) == 0 {
		return nil
	}
	rows := a.buf
	a.buf = nil

	name := fmt.Sprintf("gc-events-%d-%s.parquet", rows[0].WhenMs, uuid.NewString())
	path := filepath.Join(a.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create %s: %w", path, err)
	}

	w := parquet.NewGenericWriter[EventRow](f)
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("audit: write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("audit: finalize %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audit: close %s: %w", path, err)
	}
	return nil
}

// Close flushes any buffered events.
func (a *ParquetArchiver) Close() error {
	return a.Flush()
}

var _ Sink = (*ParquetArchiver)(nil)
