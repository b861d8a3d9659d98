package gc

import "sync"

// MemoryCorruptionTracker is an in-process CorruptionTracker: a map of
// snapshot id to the corrupt byte offsets observed in its payload files.
// Recording happens on the read path elsewhere; the GC engine only forgets.
type MemoryCorruptionTracker struct {
	mu      sync.Mutex
	offsets map[string]map[string][]uint64 // snapshot id -> file -> offsets
}

// NewMemoryCorruptionTracker creates an empty tracker.
func NewMemoryCorruptionTracker() *MemoryCorruptionTracker {
	return &MemoryCorruptionTracker{
		offsets: make(map[string]map[string][]uint64),
	}
}

// RecordCorruptOffset remembers a corrupt offset within one of the
// snapshot's payload files.
func (t *MemoryCorruptionTracker) RecordCorruptOffset(snapshotID, file string, offset uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	files := t.offsets[snapshotID]
	if files == nil {
		files = make(map[string][]uint64)
		t.offsets[snapshotID] = files
	}
	files[file] = append(files[file], offset)
}

// ForgetCorruptionForSnapshot drops all corruption state for the snapshot.
// Called by the engine once per successful hard delete.
func (t *MemoryCorruptionTracker) ForgetCorruptionForSnapshot(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.offsets, id)
}

// HasCorruption reports whether any corruption is recorded for the snapshot.
func (t *MemoryCorruptionTracker) HasCorruption(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.offsets[id]) > 0
}

var _ CorruptionTracker = (*MemoryCorruptionTracker)(nil)
