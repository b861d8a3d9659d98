// Package audit provides event sinks that fan GC events out beyond the
// catalog's own log: a Parquet archiver for columnar audit files and a
// Kafka publisher for streaming consumers. Sinks are best-effort by
// contract; a failing sink never fails a GC pass.
package audit

import (
	"context"

	"github.com/snapgc-io/snapgc/internal/snapshot"
)

// Sink receives a copy of every GC event. Implementations must be safe for
// sequential use from a single pass; Close flushes any buffered events.
type Sink interface {
	Publish(ctx context.Context, e snapshot.Event) error
	Close() error
}

// MultiSink fans events out to several sinks. Publish returns the first
// error but still delivers to every sink.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, e snapshot.Event) error {
	var firstErr error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m MultiSink) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
