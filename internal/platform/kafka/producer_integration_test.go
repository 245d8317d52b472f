//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"quotaguard/internal/platform/config"
	"quotaguard/pkg/testutil/containers"
)

type ProducerIntegrationSuite struct {
	suite.Suite
	broker   *containers.RedpandaContainer
	producer *Producer
}

func TestProducerIntegrationSuite(t *testing.T) {
	suite.Run(t, new(ProducerIntegrationSuite))
}

func (s *ProducerIntegrationSuite) SetupSuite() {
	s.broker = containers.NewRedpandaContainer(s.T())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := NewProducer(ctx, config.KafkaConfig{Brokers: []string{s.broker.Broker}, AuditTopic: "quotaguard.audit.test"})
	s.Require().NoError(err)
	s.producer = p
	s.Require().NoError(p.EnsureTopic(ctx, 1, 1))
	s.Require().NoError(p.EnsureTopic(ctx, 1, 1), "creating an existing topic is not an error")
}

func (s *ProducerIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

func (s *ProducerIntegrationSuite) TestProduceIsConsumable() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.Require().NoError(s.producer.Produce(ctx, []byte("k1"), []byte(`{"action":"quota_exceeded"}`)))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker.Broker),
		kgo.ConsumeTopics(s.producer.Topic()),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())
	records := fetches.Records()
	s.Require().NotEmpty(records)
	s.Equal("k1", string(records[0].Key))
}
