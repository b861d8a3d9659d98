package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapgc-io/snapgc/internal/snapshot"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func fullMeta() snapshot.Meta {
	m := snapshot.Meta{
		ID:              "snap-1",
		Created:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SizeBytes:       4096,
		State:           snapshot.StateTombstoned,
		ParentID:        "snap-0",
		LeaseCount:      1,
		LastAccess:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		HardDeleteAfter: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		DeleteFailures:  2,
		NextRetryAfter:  time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
		LastError:       "connection reset",
	}
	m.AddTag(snapshot.TagRetain)
	return m
}

func TestUpsertPersistsFullRecord(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, fullMeta()))
	require.NoError(t, s.Close())

	// parentId and tags survive a reopen, unlike in the journal catalog.
	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "snap-1")
	require.NoError(t, err)
	require.True(t, ok)

	want := fullMeta()
	assert.Equal(t, want.ParentID, got.ParentID)
	assert.True(t, got.HasTag(snapshot.TagRetain))
	assert.Equal(t, want.SizeBytes, got.SizeBytes)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.LeaseCount, got.LeaseCount)
	assert.True(t, got.Created.Equal(want.Created))
	assert.True(t, got.LastAccess.Equal(want.LastAccess))
	assert.True(t, got.HardDeleteAfter.Equal(want.HardDeleteAfter))
	assert.Equal(t, want.DeleteFailures, got.DeleteFailures)
	assert.True(t, got.NextRetryAfter.Equal(want.NextRetryAfter))
	assert.Equal(t, want.LastError, got.LastError)
}

func TestGetMissing(t *testing.T) {
	s, _ := openTestStore(t)
	_, ok, err := s.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransitionStateCAS(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	m := fullMeta()
	m.State = snapshot.StateActive
	require.NoError(t, s.Upsert(ctx, m))

	ok, err := s.TransitionState(ctx, m.ID, snapshot.StateTombstoned, snapshot.StateDeleting)
	require.NoError(t, err)
	assert.False(t, ok, "CAS with wrong expected state must fail")

	ok, err = s.TransitionState(ctx, m.ID, snapshot.StateActive, snapshot.StateTombstoned)
	require.NoError(t, err)
	assert.True(t, ok)

	got, _, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshot.StateTombstoned, got.State)

	ok, err = s.TransitionState(ctx, "ghost", snapshot.StateActive, snapshot.StateTombstoned)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListAll(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		m := snapshot.Meta{ID: id, Created: time.Now().UTC(), State: snapshot.StateActive}
		require.NoError(t, s.Upsert(ctx, m))
	}
	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestEventsInOrder(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	when := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, typ := range []string{snapshot.EventTombstone, snapshot.EventDeleteFail, snapshot.EventDeleteOK} {
		require.NoError(t, s.RecordEvent(ctx, snapshot.Event{
			When:       when.Add(time.Duration(i) * time.Second),
			SnapshotID: "s",
			Type:       typ,
		}))
	}
	events, err := s.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, snapshot.EventTombstone, events[0].Type)
	assert.Equal(t, snapshot.EventDeleteFail, events[1].Type)
	assert.Equal(t, snapshot.EventDeleteOK, events[2].Type)
}
