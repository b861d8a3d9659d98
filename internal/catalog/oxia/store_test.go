package oxia

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapgc-io/snapgc/internal/snapshot"
)

// The store itself needs a live Oxia service; these tests cover the wire
// document codec, which is where restart compatibility lives.

func TestWireRoundTrip(t *testing.T) {
	m := snapshot.Meta{
		ID:              "snap-1",
		Created:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SizeBytes:       1 << 20,
		State:           snapshot.StateTombstoned,
		ParentID:        "snap-0",
		LeaseCount:      2,
		LastAccess:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		HardDeleteAfter: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		DeleteFailures:  3,
		NextRetryAfter:  time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
		LastError:       "timeout",
	}
	m.AddTag(snapshot.TagLegal)

	data, err := json.Marshal(toWire(&m))
	require.NoError(t, err)

	var w wireMeta
	require.NoError(t, json.Unmarshal(data, &w))
	got, err := fromWire(&w)
	require.NoError(t, err)

	assert.Equal(t, m.ID, got.ID)
	assert.True(t, got.Created.Equal(m.Created))
	assert.Equal(t, m.SizeBytes, got.SizeBytes)
	assert.Equal(t, m.State, got.State)
	assert.Equal(t, m.ParentID, got.ParentID)
	assert.True(t, got.HasTag(snapshot.TagLegal))
	assert.Equal(t, m.LeaseCount, got.LeaseCount)
	assert.True(t, got.LastAccess.Equal(m.LastAccess))
	assert.True(t, got.HardDeleteAfter.Equal(m.HardDeleteAfter))
	assert.Equal(t, m.DeleteFailures, got.DeleteFailures)
	assert.True(t, got.NextRetryAfter.Equal(m.NextRetryAfter))
	assert.Equal(t, m.LastError, got.LastError)
}

func TestWireAbsentOptionals(t *testing.T) {
	m := snapshot.Meta{
		ID:      "snap-1",
		Created: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		State:   snapshot.StateActive,
	}
	w := toWire(&m)
	assert.Equal(t, int64(-1), w.HardDeleteMs)
	assert.Equal(t, int64(-1), w.NextRetryMs)
	assert.Equal(t, int64(0), w.LastAccessMs)

	got, err := fromWire(&w)
	require.NoError(t, err)
	assert.True(t, got.HardDeleteAfter.IsZero())
	assert.True(t, got.NextRetryAfter.IsZero())
	assert.True(t, got.LastAccess.IsZero())
}

func TestWireRejectsUnknownState(t *testing.T) {
	w := wireMeta{ID: "s", State: 9}
	_, err := fromWire(&w)
	assert.Error(t, err)
}
