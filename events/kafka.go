package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
)

// KafkaPublisher publishes events to a single topic, keyed by user id so one
// user's events stay ordered within a partition.
type KafkaPublisher struct {
	brokers []string
	topic   string
	logger  *slog.Logger

	mu       sync.RWMutex
	producer sarama.SyncProducer
}

// NewKafkaPublisher creates a publisher. Empty brokers default to
// localhost:9092 and an empty topic to "mindcare.events".
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	if topic == "" {
		topic = "mindcare.events"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{brokers: brokers, topic: topic, logger: logger}
}

// NewKafkaPublisherWithProducer wraps an existing producer; Start is then a
// no-op.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaPublisher {
	p := NewKafkaPublisher(nil, topic, logger)
	p.producer = producer
	return p
}

// ProducerConfig is the sarama configuration used by Start.
func ProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "mindcare"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	return config
}

// Start connects the sync producer.
func (p *KafkaPublisher) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.producer != nil {
		return nil
	}
	producer, err := sarama.NewSyncProducer(p.brokers, ProducerConfig())
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	p.producer = producer
	p.logger.Info("Kafka publisher started", "brokers", p.brokers, "topic", p.topic)
	return nil
}

// Stop closes the producer.
func (p *KafkaPublisher) Stop(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.producer == nil {
		return nil
	}
	err := p.producer.Close()
	p.producer = nil
	if err != nil {
		return fmt.Errorf("close Kafka producer: %w", err)
	}
	p.logger.Info("Kafka publisher stopped")
	return nil
}

func (p *KafkaPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.RLock()
	producer := p.producer
	p.mu.RUnlock()
	if producer == nil {
		return ErrNotConnected
	}
	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.UserID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(ev.Type)},
		},
	}
	partition, offset, err := producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish to topic %q: %w", p.topic, err)
	}
	p.logger.Debug("event published to Kafka", "topic", p.topic, "partition", partition, "offset", offset, "event_id", ev.ID)
	return nil
}
