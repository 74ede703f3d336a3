package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/service/outbox"
	"github.com/vladislavdragonenkov/erp/internal/storage/memory"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	producer, err := initKafkaProducer(" , ", quietLogger())
	require.NoError(t, err)
	assert.Nil(t, producer)

	closeKafka(nil, quietLogger())
}

func TestInitKafkaProducer_UnreachableBrokersFail(t *testing.T) {
	producer, err := initKafkaProducer("127.0.0.1:1", quietLogger())
	require.Error(t, err)
	assert.Nil(t, producer)
	assert.Contains(t, err.Error(), "init kafka producer")
}

func TestNewOutboxWorker_DrainsWithLogPublisherWithoutKafka(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		return outbox.Enqueue(ctx, uow.Outbox(), domain.AggregateInventory, "item-1",
			domain.EventInventoryLowStock, map[string]int{"available": 2}, time.Now())
	}))

	cfg := DefaultConfig()
	cfg.OutboxRetryDelay = 0
	worker := newOutboxWorker(cfg, store.Outbox(), nil, quietLogger())

	assert.Equal(t, 1, worker.ProcessOnce(ctx))
	assert.Empty(t, store.Outbox().AllPending(ctx))

	cleanup := newOutboxCleanup(cfg, store.Outbox(), quietLogger())
	deleted, err := cleanup.DeleteExpired(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}
