package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafka_PublishStockAdjusted(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "clinic.stock" {
			return errors.New("wrong topic " + msg.Topic)
		}
		if header(msg, "event-type") != TypeStockAdjusted {
			return errors.New("missing event-type header")
		}
		key, _ := msg.Key.Encode()
		if string(key) != "item-1" {
			return errors.New("wrong key " + string(key))
		}
		raw, _ := msg.Value.Encode()
		var got StockAdjusted
		if err := json.Unmarshal(raw, &got); err != nil {
			return err
		}
		if got.Delta != -3 || got.NewStock != 7 {
			return errors.New("unexpected payload " + string(raw))
		}
		return nil
	})

	k := NewKafkaFromProducer(producer, "clinic.stock", zerolog.Nop())
	err := k.Publish(context.Background(), StockAdjusted{
		ItemID:     "item-1",
		Delta:      -3,
		Reason:     "sale",
		NewStock:   7,
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, k.Close())
}

func TestKafka_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	k := NewKafkaFromProducer(producer, "clinic.stock", zerolog.Nop())
	err := k.Publish(context.Background(), LowStock{ItemID: "item-2", CurrentStock: 1, LowStockThreshold: 5})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, k.Close())
}

func TestKafka_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	k := NewKafkaFromProducer(producer, "clinic.stock", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, k.Publish(ctx, LowStock{ItemID: "x"}), context.Canceled)
	require.NoError(t, k.Close())
}

func TestLog_Publish(t *testing.T) {
	l := NewLog(zerolog.Nop())
	assert.NoError(t, l.Publish(context.Background(), LowStock{ItemID: "x"}))
	assert.NoError(t, l.Close())
}

func TestEventTypes(t *testing.T) {
	assert.Equal(t, "StockAdjusted", StockAdjusted{}.EventType())
	assert.Equal(t, "LowStock", LowStock{}.EventType())
	assert.Equal(t, "abc", StockAdjusted{ItemID: "abc"}.PartitionKey())
}
