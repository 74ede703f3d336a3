package kafka

import "github.com/vladislavdragonenkov/erp/internal/domain"

// Topics для событий ERP.
const (
	TopicOrderEvents     = "erp.order.events"
	TopicInventoryEvents = "erp.inventory.events"
	TopicDeadLetterQueue = "erp.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderOriginalTopic = "x-original-topic"
)

// TopicForAggregate выбирает topic по типу агрегата outbox-сообщения.
// Неизвестные типы уходят в topic заказов, чтобы событие не потерялось.
func TopicForAggregate(aggregateType string) string {
	switch aggregateType {
	case domain.AggregateInventory:
		return TopicInventoryEvents
	default:
		return TopicOrderEvents
	}
}
