package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FS is a filesystem Backend. Each snapshot payload lives under
// <root>/<id>, either as a file or a directory tree.
type FS struct {
	root string

	mu     sync.RWMutex
	closed bool
}

// NewFS creates a filesystem backend rooted at root, creating the
// directory if needed.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root %s: %w", root, err)
	}
	return &FS{root: root}, nil
}

// payloadPath maps an id to its path under the root, rejecting ids that
// would escape it.
func (f *FS) payloadPath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", &PayloadError{Op: "Path", ID: id, Err: errors.New("invalid snapshot id")}
	}
	return filepath.Join(f.root, id), nil
}

func (f *FS) checkClosed() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	return nil
}

func (f *FS) DeletePayload(_ context.Context, id string) error {
	if err := f.checkClosed(); err != nil {
		return err
	}
	p, err := f.payloadPath(id)
	if err != nil {
		return err
	}
	// RemoveAll succeeds on a missing path, which gives us idempotency.
	if err := os.RemoveAll(p); err != nil {
		return &PayloadError{Op: "Delete", ID: id, Err: err}
	}
	return nil
}

func (f *FS) DeletePayloadBatch(ctx context.Context, ids []string) ([]string, error) {
	return BatchDelete(ctx, f, ids)
}

func (f *FS) Exists(_ context.Context, id string) (bool, error) {
	if err := f.checkClosed(); err != nil {
		return false, err
	}
	p, err := f.payloadPath(id)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(p)
	if statErr == nil {
		return true, nil
	}
	if os.IsNotExist(statErr) {
		return false, nil
	}
	return false, &PayloadError{Op: "Exists", ID: id, Err: statErr}
}

func (f *FS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ Backend = (*FS)(nil)
