package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/storage/memory"
)

func newItem(t *testing.T, sku string, onHand int) domain.InventoryItem {
	t.Helper()
	item, err := domain.NewInventoryItem(domain.NewInventoryItemInput{
		OrganizationID: "org-1",
		SKU:            sku,
		Name:           "Item " + sku,
		SellingPrice:   decimal.NewFromInt(10),
		QuantityOnHand: onHand,
	}, time.Now().UTC())
	require.NoError(t, err)
	return item
}

func TestStore_WithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	item := newItem(t, "A", 10)
	require.NoError(t, store.Inventory().Create(ctx, item))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		loaded, err := uow.Inventory().GetForUpdate(ctx, item.ID)
		require.NoError(t, err)
		require.NoError(t, loaded.ReserveStock(4, "order-1", time.Now()))
		require.NoError(t, uow.Inventory().Save(ctx, loaded))
		_, err = uow.Outbox().Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.AggregateInventory})
		require.NoError(t, err)
		require.NoError(t, uow.Orders().Create(ctx, newOrder(t, "ORD-9")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := store.Inventory().Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 0, stored.QuantityReserved)
	require.Equal(t, item.Version, stored.Version)
	require.Empty(t, store.Outbox().AllPending(ctx))
	orders, err := store.Orders().List(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestStore_WithinTxCancelledContextDiscardsChanges(t *testing.T) {
	store := memory.NewStore()
	item := newItem(t, "A", 10)
	require.NoError(t, store.Inventory().Create(context.Background(), item))

	ctx, cancel := context.WithCancel(context.Background())
	err := store.WithinTx(ctx, func(txCtx context.Context, uow domain.UnitOfWork) error {
		loaded, err := uow.Inventory().GetForUpdate(txCtx, item.ID)
		if err != nil {
			return err
		}
		if _, err := loaded.ReceiveStock(5, "PO-1", "u", time.Now()); err != nil {
			return err
		}
		if err := uow.Inventory().Save(txCtx, loaded); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	stored, err := store.Inventory().Get(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, 10, stored.QuantityOnHand)
}

func TestStore_WithinTxCommits(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	item := newItem(t, "A", 10)
	require.NoError(t, store.Inventory().Create(ctx, item))

	err := store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		loaded, err := uow.Inventory().GetForUpdate(ctx, item.ID)
		if err != nil {
			return err
		}
		m, err := loaded.ReceiveStock(5, "PO-1", "u", time.Now())
		if err != nil {
			return err
		}
		if err := uow.Inventory().Save(ctx, loaded); err != nil {
			return err
		}
		return uow.Movements().Append(ctx, m)
	})
	require.NoError(t, err)

	stored, err := store.Inventory().Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 15, stored.QuantityOnHand)
	require.Equal(t, item.Version+1, stored.Version)

	movements, err := store.Movements().ListByItem(ctx, item.ID, 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, 15, movements[0].QuantityAfter)
}

func TestInventoryRepository_QueriesAndDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Inventory()

	low := newItem(t, "LOW-1", 3)
	low.Category = "tools"
	low.Barcode = "4600000000001"
	plenty := newItem(t, "BIG-1", 500)
	plenty.Description = "Heavy duty hammer"
	require.NoError(t, repo.Create(ctx, low))
	require.NoError(t, repo.Create(ctx, plenty))
	require.ErrorIs(t, repo.Create(ctx, newItem(t, "low-1", 1)), domain.ErrDuplicateSKU)

	bySKU, err := repo.GetBySKU(ctx, "org-1", "BIG-1")
	require.NoError(t, err)
	require.Equal(t, plenty.ID, bySKU.ID)

	byBarcode, err := repo.GetByBarcode(ctx, "org-1", "4600000000001")
	require.NoError(t, err)
	require.Equal(t, low.ID, byBarcode.ID)

	lowStock, err := repo.ListLowStock(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, lowStock, 1)
	require.Equal(t, low.ID, lowStock[0].ID)

	found, err := repo.List(ctx, domain.InventoryFilter{OrganizationID: "org-1", Search: "HAMMER"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	tools, err := repo.List(ctx, domain.InventoryFilter{OrganizationID: "org-1", Category: "tools"})
	require.NoError(t, err)
	require.Len(t, tools, 1)
}

func TestOrderNumberAllocator_Concurrent(t *testing.T) {
	alloc := memory.NewOrderNumberAllocator()
	const workers = 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := alloc.Next(context.Background(), "org-1")
			require.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers)
	for i := int64(1); i <= workers; i++ {
		require.True(t, seen[i], "missing number %d", i)
	}

	other, err := alloc.Next(context.Background(), "org-2")
	require.NoError(t, err)
	require.Equal(t, int64(1), other)
}
