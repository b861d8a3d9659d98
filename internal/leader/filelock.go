package leader

import (
	"os"
	"sync"

	"github.com/google/uuid"
)

// FileLock is the reference Elector: a lock file whose presence signals a
// held lock. TryAcquire creates the file with O_EXCL semantics and fails if
// it already exists; Release removes it.
//
// Known limitation: a holder that crashes leaves a stale lock file behind,
// and clearing it is an operator action. Deployments that need automatic
// failover should use the oxia ephemeral-key elector instead.
type FileLock struct {
	path string

	mu       sync.Mutex
	acquired bool
}

// NewFileLock creates a file-lock elector around the given path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryAcquire attempts to create the lock file. The file content is the
// holder's identity, advisory only.
func (l *FileLock) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acquired {
		return false
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	_, _ = f.WriteString("gc-leader " + uuid.NewString() + "\n")
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return false
	}
	l.acquired = true
	return true
}

// Release removes the lock file if this elector holds it.
func (l *FileLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.acquired {
		return
	}
	_ = os.Remove(l.path)
	l.acquired = false
}

var _ Elector = (*FileLock)(nil)
