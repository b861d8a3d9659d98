package catalog

import (
	"context"
	"sync"

	"github.com/snapgc-io/snapgc/internal/snapshot"
)

// MockCatalog implements Catalog in memory for testing. It is exported so
// that tests in other packages can use it.
type MockCatalog struct {
	mu     sync.Mutex
	items  map[string]snapshot.Meta
	events []snapshot.Event
	closed bool

	// FailNext, when set, makes the next TransitionState or Upsert call
	// return the given error without touching state; RecordEvent does not
	// consume it. Used to exercise fail-closed behavior in the engine.
	FailNext error
}

// NewMockCatalog creates an empty MockCatalog.
func NewMockCatalog() *MockCatalog {
	return &MockCatalog{items: make(map[string]snapshot.Meta)}
}

// Put seeds a record directly, bypassing journaling. Test helper.
func (c *MockCatalog) Put(m snapshot.Meta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[m.ID] = m.Clone()
}

func (c *MockCatalog) takeFailure() error {
	if err := c.FailNext; err != nil {
		c.FailNext = nil
		return err
	}
	return nil
}

func (c *MockCatalog) ListAll(_ context.Context) ([]snapshot.Meta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	out := make([]snapshot.Meta, 0, len(c.items))
	for _, m := range c.items {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (c *MockCatalog) Get(_ context.Context, id string) (snapshot.Meta, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return snapshot.Meta{}, false, ErrClosed
	}
	m, ok := c.items[id]
	if !ok {
		return snapshot.Meta{}, false, nil
	}
	return m.Clone(), true, nil
}

func (c *MockCatalog) TransitionState(_ context.Context, id string, expected, desired snapshot.State) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	if err := c.takeFailure(); err != nil {
		return false, err
	}
	m, ok := c.items[id]
	if !ok || m.State != expected {
		return false, nil
	}
	m.State = desired
	c.items[id] = m
	return true, nil
}

func (c *MockCatalog) Upsert(_ context.Context, m snapshot.Meta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.takeFailure(); err != nil {
		return err
	}
	c.items[m.ID] = m.Clone()
	return nil
}

func (c *MockCatalog) RecordEvent(_ context.Context, e snapshot.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.events = append(c.events, e)
	return nil
}

// Events returns a copy of all recorded events, in call order. Test helper.
func (c *MockCatalog) Events() []snapshot.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]snapshot.Event, len(c.events))
	copy(out, c.events)
	return out
}

// EventTypes returns the type tags of all recorded events, in order.
func (c *MockCatalog) EventTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func (c *MockCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

var _ Catalog = (*MockCatalog)(nil)
