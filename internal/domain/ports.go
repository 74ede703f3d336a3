package domain

import (
	"context"
	"time"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPurger удаляет опубликованные сообщения, обновлённые раньше before.
// Возвращает число удалённых записей; за один вызов удаляется не больше limit.
type OutboxPurger interface {
	DeleteSent(ctx context.Context, before time.Time, limit int) (int, error)
}

// Типы агрегатов в outbox.
const (
	AggregateOrder     = "order"
	AggregateInventory = "inventory_item"
)

// Типы событий, которые сервисы пишут в outbox.
const (
	EventOrderCreated      = "order.created"
	EventOrderItemAdded    = "order.item_added"
	EventOrderItemRemoved  = "order.item_removed"
	EventOrderSubmitted    = "order.submitted"
	EventOrderConfirmed    = "order.confirmed"
	EventOrderProcessing   = "order.processing"
	EventOrderCancelled    = "order.cancelled"
	EventOrderShipped      = "order.shipped"
	EventOrderDelivered    = "order.delivered"
	EventInventoryCreated  = "inventory.created"
	EventInventoryUpdated  = "inventory.updated"
	EventStockMovement     = "inventory.stock_movement"
	EventInventoryLowStock = "inventory.low_stock"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
