package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

func headerValue(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestOutboxPublisher_RoutesByAggregate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		aggregateType string
		eventType     string
		wantTopic     string
	}{
		{"order", domain.AggregateOrder, domain.EventOrderConfirmed, TopicOrderEvents},
		{"inventory", domain.AggregateInventory, domain.EventStockMovement, TopicInventoryEvents},
		{"unknown", "invoice", "invoice.created", TopicOrderEvents},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			producer, mockProducer := testProducer(t)
			mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
				assert.Equal(t, tc.wantTopic, msg.Topic)
				key, err := msg.Key.Encode()
				require.NoError(t, err)
				assert.Equal(t, "agg-1", string(key))
				assert.Equal(t, tc.eventType, headerValue(msg, HeaderEventType))
				assert.Equal(t, "outbox-1", headerValue(msg, HeaderOutboxID))
				return nil
			})

			err := NewOutboxPublisher(producer).Publish(domain.OutboxMessage{
				ID:            "outbox-1",
				AggregateType: tc.aggregateType,
				AggregateID:   "agg-1",
				EventType:     tc.eventType,
				Payload:       []byte(`{"status":"confirmed"}`),
				CreatedAt:     time.Now(),
			})
			require.NoError(t, err)
			require.NoError(t, mockProducer.Close())
		})
	}
}

func TestOutboxPublisher_EnvelopeCarriesPayload(t *testing.T) {
	producer, mockProducer := testProducer(t)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var envelope Envelope
		require.NoError(t, json.Unmarshal(val, &envelope))
		assert.Equal(t, "order-9", envelope.AggregateID)
		assert.JSONEq(t, `{"number":"ORD-000009"}`, string(envelope.Payload))
		return nil
	})

	err := NewOutboxPublisher(producer).Publish(domain.OutboxMessage{
		ID:            "outbox-9",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-9",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"number":"ORD-000009"}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestDLQPublisher_KeepsOriginalTopicHeader(t *testing.T) {
	producer, mockProducer := testProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicDeadLetterQueue, msg.Topic)
		assert.Equal(t, TopicInventoryEvents, headerValue(msg, HeaderOriginalTopic))
		return nil
	})

	err := NewDLQPublisher(producer).Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregateInventory,
		AggregateID:   "item-1",
		EventType:     domain.EventInventoryLowStock,
		Payload:       []byte(`{}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_ProducerError(t *testing.T) {
	producer, mockProducer := testProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := NewOutboxPublisher(producer).Publish(domain.OutboxMessage{
		ID:            "outbox-3",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-3",
		Payload:       []byte(`{}`),
	})
	require.Error(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_NilProducer(t *testing.T) {
	t.Parallel()

	err := NewOutboxPublisher(nil).Publish(domain.OutboxMessage{ID: "outbox-4"})
	require.ErrorIs(t, err, domain.ErrOutboxPublish)
}
