package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

// OutboxPublisher публикует outbox-сообщения в Kafka.
// Topic выбирается по типу агрегата, если не зафиксирован явно.
type OutboxPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт publisher с маршрутизацией по типу агрегата.
func NewOutboxPublisher(producer *Producer) *OutboxPublisher {
	return &OutboxPublisher{producer: producer}
}

// NewDLQPublisher создаёт publisher, который пишет всё в TopicDeadLetterQueue.
func NewDLQPublisher(producer *Producer) *OutboxPublisher {
	return &OutboxPublisher{producer: producer, topic: TopicDeadLetterQueue}
}

// Envelope: формат значения сообщения в topic событий и в DLQ.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Publish отправляет сообщение; ключ партиционирования это ID агрегата,
// поэтому события одного заказа сохраняют порядок внутри партиции.
func (p *OutboxPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("%w: kafka publisher is not initialized", domain.ErrOutboxPublish)
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	routed := TopicForAggregate(event.AggregateType)
	topic := p.topic
	if topic == "" {
		topic = routed
	}

	value, err := json.Marshal(Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		CreatedAt:     event.CreatedAt.UTC(),
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal outbox envelope: %w", err)
	}

	headers := EnvelopeHeaders(Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		EventType:     event.EventType,
	})
	if topic != routed {
		headers[HeaderOriginalTopic] = routed
	}

	return p.producer.Send(topic, key, value, headers)
}

// EnvelopeHeaders возвращает стандартные заголовки для конверта.
func EnvelopeHeaders(env Envelope) map[string]string {
	return map[string]string{
		HeaderEventType:     env.EventType,
		HeaderAggregateType: env.AggregateType,
		HeaderOutboxID:      env.ID,
	}
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
