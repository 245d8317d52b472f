// Package kafka wraps a franz-go client for publishing to a single topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"quotaguard/internal/platform/config"
)

// Producer publishes records to one topic.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer connects to the brokers and verifies reachability. It returns
// nil without error when no brokers are configured.
func NewProducer(ctx context.Context, cfg config.KafkaConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	if cfg.AuditTopic == "" {
		return nil, errors.New("kafka topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.AuditTopic),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping failed: %w", err)
	}
	return &Producer{client: client, topic: cfg.AuditTopic}, nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (p *Producer) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Produce writes one record and waits for the broker acknowledgement.
func (p *Producer) Produce(ctx context.Context, key, value []byte) error {
	rec := &kgo.Record{Topic: p.topic, Key: key, Value: value}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}
	return nil
}

// Topic returns the destination topic.
func (p *Producer) Topic() string {
	return p.topic
}

// Client exposes the underlying client for consumers in tests.
func (p *Producer) Client() *kgo.Client {
	return p.client
}

func (p *Producer) Close() {
	p.client.Close()
}
