package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapgc-io/snapgc/internal/snapshot"
)

// Producing needs a live broker; these tests cover config validation and
// the record encoding, which is the publisher's wire contract.

func TestNewKafkaPublisherValidatesConfig(t *testing.T) {
	_, err := NewKafkaPublisher(context.Background(), KafkaConfig{Topic: "gc-events"})
	assert.Error(t, err, "missing brokers")

	_, err = NewKafkaPublisher(context.Background(), KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err, "missing topic")
}

func TestEncodeEvent(t *testing.T) {
	when := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec, err := encodeEvent("gc-events", snapshot.Event{
		When:       when,
		SnapshotID: "snap-7",
		Type:       snapshot.EventDeleteFail,
		Details:    "will retry after backoff",
	})
	require.NoError(t, err)

	assert.Equal(t, "gc-events", rec.Topic)
	assert.Equal(t, []byte("snap-7"), rec.Key, "records are keyed by snapshot id for per-snapshot ordering")

	var payload eventRecord
	require.NoError(t, json.Unmarshal(rec.Value, &payload))
	assert.Equal(t, when.UnixMilli(), payload.WhenMs)
	assert.Equal(t, "snap-7", payload.SnapshotID)
	assert.Equal(t, snapshot.EventDeleteFail, payload.Type)
	assert.Equal(t, "will retry after backoff", payload.Details)
}

func TestEncodeEventOmitsEmptyDetails(t *testing.T) {
	rec, err := encodeEvent("gc-events", snapshot.Event{
		When:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SnapshotID: "s",
		Type:       snapshot.EventDeleteOK,
	})
	require.NoError(t, err)
	assert.NotContains(t, string(rec.Value), "details")
}
