package journal

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/snapgc-io/snapgc/internal/catalog"
	"github.com/snapgc-io/snapgc/internal/snapshot"
)

// Catalog is the journal-backed Catalog implementation.
//
// All mutating and reading operations serialize on a single exclusive lock.
// Every mutation appends one line to the journal before the in-memory index
// is updated, so a failed append never leaves memory ahead of disk.
//
// The journal file is reopened for each append. That is deliberate: the GC
// is a low-rate writer and a short-lived handle survives log rotation and
// operator moves of the file.
type Catalog struct {
	path string

	mu     sync.Mutex
	items  map[string]snapshot.Meta
	closed bool
}

// Open opens (or creates) the journal at path and replays it to rebuild the
// in-memory index.
func Open(path string) (*Catalog, error) {
	c := &Catalog{
		path:  path,
		items: make(map[string]snapshot.Meta),
	}
	if err := c.replay(); err != nil {
		return nil, err
	}
	return c, nil
}

// replay reads the journal line by line and applies each record to the
// index. UPSERT restores a full record; STATE re-applies a transition to an
// existing record; EVENT lines and unknown tags are skipped.
func (c *Catalog) replay() error {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("journal: open %s: %w", c.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, tagUpsert+" "):
			m, err := Deserialize(line[len(tagUpsert)+1:])
			if err != nil {
				return fmt.Errorf("journal: line %d: %w", lineNo, err)
			}
			c.items[m.ID] = m
		case strings.HasPrefix(line, tagState+" "):
			c.replayState(line, lineNo)
		default:
			// EVENT lines and unknown tags: skipped. Events are
			// write-only from the catalog's perspective, and unknown
			// tags keep the format forward compatible.
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("journal: read %s: %w", c.path, err)
	}
	return nil
}

// replayState applies a "STATE <id> <expected> <desired>" line. The desired
// state is applied whenever the record exists; a mismatch between the
// recorded expected state and the replayed state is flagged but not fatal,
// since the line was only written after a successful CAS.
func (c *Catalog) replayState(line string, lineNo int) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		slog.Warn("journal: malformed STATE line", "line", lineNo)
		return
	}
	id := fields[1]
	expected, err1 := strconv.Atoi(fields[2])
	desired, err2 := strconv.Atoi(fields[3])
	if err1 != nil || err2 != nil || !snapshot.State(desired).Valid() {
		slog.Warn("journal: malformed STATE line", "line", lineNo)
		return
	}
	m, ok := c.items[id]
	if !ok {
		return
	}
	if m.State != snapshot.State(expected) {
		slog.Warn("journal: STATE expected mismatch during replay",
			"snapshot", id,
			"line", lineNo,
			"recorded", snapshot.State(expected).String(),
			"replayed", m.State.String(),
		)
	}
	m.State = snapshot.State(desired)
	c.items[id] = m
}

// append writes one journal line. Called with the lock held, before any
// in-memory mutation.
func (c *Catalog) append(rec string) error {
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	if _, err := f.WriteString(rec + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("journal: append: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

func (c *Catalog) ListAll(_ context.Context) ([]snapshot.Meta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, catalog.ErrClosed
	}
	out := make([]snapshot.Meta, 0, len(c.items))
	for _, m := range c.items {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (c *Catalog) Get(_ context.Context, id string) (snapshot.Meta, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return snapshot.Meta{}, false, catalog.ErrClosed
	}
	m, ok := c.items[id]
	if !ok {
		return snapshot.Meta{}, false, nil
	}
	return m.Clone(), true, nil
}

// TransitionState performs the CAS. The STATE line is only written for a
// successful transition, atomically (under the lock) with the index update.
func (c *Catalog) TransitionState(_ context.Context, id string, expected, desired snapshot.State) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, catalog.ErrClosed
	}
	m, ok := c.items[id]
	if !ok || m.State != expected {
		return false, nil
	}
	rec := fmt.Sprintf("%s %s %d %d", tagState, id, int(expected), int(desired))
	if err := c.append(rec); err != nil {
		return false, err
	}
	m.State = desired
	c.items[id] = m
	return true, nil
}

func (c *Catalog) Upsert(_ context.Context, m snapshot.Meta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return catalog.ErrClosed
	}
	if err := c.append(tagUpsert + " " + Serialize(&m)); err != nil {
		return err
	}
	c.items[m.ID] = m.Clone()
	return nil
}

func (c *Catalog) RecordEvent(_ context.Context, e snapshot.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return catalog.ErrClosed
	}
	return c.append(fmt.Sprintf("%s %s %s %s", tagEvent, e.SnapshotID, e.Type, Escape(e.Details)))
}

// Close marks the catalog closed. The journal has no open handle to release.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Len returns the number of indexed records.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

var _ catalog.Catalog = (*Catalog)(nil)
