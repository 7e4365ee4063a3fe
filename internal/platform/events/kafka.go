package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kafka publishes events as JSON to a single topic through a sync producer.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	logger   zerolog.Logger
	now      func() time.Time
}

// NewKafka dials brokers and returns a publisher writing to topic.
func NewKafka(brokers []string, topic string, logger zerolog.Logger) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaFromProducer(producer, topic, logger), nil
}

// NewKafkaFromProducer wraps an existing producer.
func NewKafkaFromProducer(producer sarama.SyncProducer, topic string, logger zerolog.Logger) *Kafka {
	return &Kafka{producer: producer, topic: topic, logger: logger, now: time.Now}
}

func (k *Kafka) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(e.EventType())},
			{Key: []byte("event-id"), Value: []byte(uuid.New().String())},
			{Key: []byte("timestamp"), Value: []byte(k.now().UTC().Format(time.RFC3339))},
		},
	}
	if key := e.PartitionKey(); key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.EventType(), err)
	}
	k.logger.Debug().
		Str("topic", k.topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Str("event_type", e.EventType()).
		Msg("event published")
	return nil
}

func (k *Kafka) Close() error {
	if k.producer == nil {
		return nil
	}
	return k.producer.Close()
}
