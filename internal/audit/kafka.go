package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/snapgc-io/snapgc/internal/snapshot"
)

// KafkaConfig configures the Kafka event publisher.
type KafkaConfig struct {
	// Brokers are the seed broker addresses.
	Brokers []string

	// Topic is the topic GC events are produced to.
	Topic string

	// EnsureTopic, when true, creates the topic at startup if it does not
	// exist (single partition, replication factor 1).
	EnsureTopic bool
}

// KafkaPublisher is a Sink producing one JSON record per GC event, keyed by
// snapshot id so all events of a snapshot land in one partition in order.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// eventRecord is the JSON payload of a published event.
type eventRecord struct {
	WhenMs     int64  `json:"whenMs"`
	SnapshotID string `json:"snapshotId"`
	Type       string `json:"type"`
	Details    string `json:"details,omitempty"`
}

// encodeEvent builds the Kafka record for a GC event.
func encodeEvent(topic string, e snapshot.Event) (*kgo.Record, error) {
	value, err := json.Marshal(eventRecord{
		WhenMs:     e.When.UnixMilli(),
		SnapshotID: e.SnapshotID,
		Type:       e.Type,
		Details:    e.Details,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: encode event: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(e.SnapshotID),
		Value: value,
	}, nil
}

// NewKafkaPublisher connects to the brokers and optionally ensures the
// topic exists.
func NewKafkaPublisher(ctx context.Context, cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("audit: kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("audit: kafka topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("audit: kafka client: %w", err)
	}

	if cfg.EnsureTopic {
		adm := kadm.NewClient(client)
		// Already-exists errors are fine; anything else surfaces on the
		// first produce.
		_, _ = adm.CreateTopics(ctx, 1, 1, nil, cfg.Topic)
	}

	return &KafkaPublisher{client: client, topic: cfg.Topic}, nil
}

// Publish produces the event synchronously so ordering matches the
// catalog's event log.
func (p *KafkaPublisher) Publish(ctx context.Context, e snapshot.Event) error {
	rec, err := encodeEvent(p.topic, e)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("audit: produce event: %w", err)
	}
	return nil
}

// Close flushes outstanding produces and closes the client.
func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.client.Close()
		return err
	}
	p.client.Close()
	return nil
}

var _ Sink = (*KafkaPublisher)(nil)
