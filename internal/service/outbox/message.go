package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

// Envelope: общий формат полезной нагрузки событий в outbox.
type Envelope struct {
	EventType   string    `json:"event_type"`
	AggregateID string    `json:"aggregate_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Data        any       `json:"data"`
}

// NewMessage сериализует data в Envelope и собирает сообщение outbox.
func NewMessage(aggregateType, aggregateID, eventType string, data any, at time.Time) (domain.OutboxMessage, error) {
	payload, err := json.Marshal(Envelope{
		EventType:   eventType,
		AggregateID: aggregateID,
		OccurredAt:  at.UTC(),
		Data:        data,
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     at,
	}, nil
}

// Enqueue пишет событие в outbox текущей транзакции.
func Enqueue(ctx context.Context, repo domain.OutboxRepository, aggregateType, aggregateID, eventType string, data any, at time.Time) error {
	msg, err := NewMessage(aggregateType, aggregateID, eventType, data, at)
	if err != nil {
		return err
	}
	if _, err := repo.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}
