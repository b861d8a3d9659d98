package oxia

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/snapgc-io/snapgc/internal/leader"
)

const leaderKey = "/snapgc/v1/leader"

// Elector is a leader.Elector backed by an Oxia ephemeral key. Unlike the
// file lock, a crashed holder's key disappears when its session expires, so
// no operator intervention is needed after a crash.
type Elector struct {
	client  oxiaclient.SyncClient
	timeout time.Duration
	holder  string

	acquired bool
}

// NewElector creates an Oxia-backed elector with its own client session.
func NewElector(cfg Config) (*Elector, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Elector{
		client:  client,
		timeout: timeout,
		holder:  uuid.NewString(),
	}, nil
}

// TryAcquire writes the leader key as an ephemeral record that must not
// already exist. Another live holder makes the conditional put fail.
func (e *Elector) TryAcquire() bool {
	if e.acquired {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	_, _, err := e.client.Put(ctx, leaderKey, []byte(e.holder),
		oxiaclient.Ephemeral(),
		oxiaclient.ExpectedRecordNotExists(),
	)
	if err != nil {
		if !errors.Is(err, oxiaclient.ErrUnexpectedVersionId) {
			slog.Warn("oxia leader acquisition failed", "error", err)
		}
		return false
	}
	e.acquired = true
	return true
}

// Release deletes the leader key if held. Idempotent; the ephemeral
// session would reclaim it eventually anyway.
func (e *Elector) Release() {
	if !e.acquired {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.client.Delete(ctx, leaderKey); err != nil && !errors.Is(err, oxiaclient.ErrKeyNotFound) {
		slog.Warn("oxia leader release failed", "error", err)
	}
	e.acquired = false
}

// Close releases leadership and the client session.
func (e *Elector) Close() error {
	e.Release()
	return e.client.Close()
}

var _ leader.Elector = (*Elector)(nil)
