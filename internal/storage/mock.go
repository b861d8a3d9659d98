package storage

import (
	"context"
	"sync"
)

// MockBackend is an in-memory Backend for testing. It is exported so that
// tests in other packages can use it.
type MockBackend struct {
	mu       sync.Mutex
	payloads map[string][]byte

	// FailIDs contains ids whose deletion should fail.
	FailIDs map[string]struct{}

	// BatchErr, when non-nil, makes DeletePayloadBatch return it with an
	// empty failed list: a catastrophic batch-level failure.
	BatchErr error

	deleteCalls map[string]int
	batchCalls  int
}

// NewMockBackend creates an empty MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		payloads:    make(map[string][]byte),
		FailIDs:     make(map[string]struct{}),
		deleteCalls: make(map[string]int),
	}
}

// PutPayload seeds a payload. Test helper.
func (b *MockBackend) PutPayload(id string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads[id] = data
}

func (b *MockBackend) DeletePayload(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteCalls[id]++
	if _, fail := b.FailIDs[id]; fail {
		return &PayloadError{Op: "Delete", ID: id, Err: ErrAccessDenied}
	}
	delete(b.payloads, id)
	return nil
}

func (b *MockBackend) DeletePayloadBatch(ctx context.Context, ids []string) ([]string, error) {
	b.mu.Lock()
	b.batchCalls++
	batchErr := b.BatchErr
	b.mu.Unlock()
	if batchErr != nil {
		return nil, batchErr
	}
	return BatchDelete(ctx, b, ids)
}

func (b *MockBackend) Exists(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.payloads[id]
	return ok, nil
}

func (b *MockBackend) Close() error { return nil }

// DeleteCalls returns how many times DeletePayload ran for id.
func (b *MockBackend) DeleteCalls(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteCalls[id]
}

// BatchCalls returns how many times DeletePayloadBatch ran.
func (b *MockBackend) BatchCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batchCalls
}

var _ Backend = (*MockBackend)(nil)
