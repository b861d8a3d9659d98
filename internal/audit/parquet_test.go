package audit

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapgc-io/snapgc/internal/snapshot"
)

// bytesFile implements parquet's file interface over a byte slice.
type bytesFile struct {
	data []byte
}

func (f *bytesFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *bytesFile) Size() int64 {
	return int64(len(f.data))
}

func readArchive(t *testing.T, path string) []EventRow {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	reader := parquet.NewGenericReader[EventRow](&bytesFile{data: data})
	defer reader.Close()

	rows := make([]EventRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		t.Fatalf("read parquet: %v", err)
	}
	return rows[:n]
}

func TestParquetArchiverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a, err := NewParquetArchiver(dir, 0)
	require.NoError(t, err)

	when := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []snapshot.Event{
		{When: when, SnapshotID: "s1", Type: snapshot.EventTombstone, Details: "soft-deleted"},
		{When: when.Add(time.Second), SnapshotID: "s2", Type: snapshot.EventDeleteOK},
		{When: when.Add(2 * time.Second), SnapshotID: "s3", Type: snapshot.EventQuarantine, Details: "too many failures"},
	}
	for _, e := range events {
		require.NoError(t, a.Publish(context.Background(), e))
	}
	require.NoError(t, a.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "gc-events-*.parquet"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	rows := readArchive(t, matches[0])
	require.Len(t, rows, 3)
	for i, e := range events {
		assert.Equal(t, e.When.UnixMilli(), rows[i].WhenMs)
		assert.Equal(t, e.SnapshotID, rows[i].SnapshotID)
		assert.Equal(t, e.Type, rows[i].Type)
		assert.Equal(t, e.Details, rows[i].Details)
	}
}

func TestParquetArchiverFlushThresholdRollsFiles(t *testing.T) {
	dir := t.TempDir()
	a, err := NewParquetArchiver(dir, 2)
	require.NoError(t, err)

	when := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Publish(context.Background(), snapshot.Event{
			When:       when.Add(time.Duration(i) * time.Second),
			SnapshotID: "s",
			Type:       snapshot.EventDeleteOK,
		}))
	}
	require.NoError(t, a.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "gc-events-*.parquet"))
	require.NoError(t, err)
	// Two full files plus the final flush of the remainder.
	assert.Len(t, matches, 3)

	total := 0
	for _, m := range matches {
		total += len(readArchive(t, m))
	}
	assert.Equal(t, 5, total)
}

func TestParquetArchiverCloseWithoutEvents(t *testing.T) {
	dir := t.TempDir()
	a, err := NewParquetArchiver(dir, 0)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
