package postgres

import (
	"context"
	"fmt"
)

// OrderNumberAllocator ведёт счётчики номеров заказов в таблице order_number_counters.
// Номер выделяется отдельной короткой операцией, поэтому откат заказа оставляет пропуск.
type OrderNumberAllocator struct {
	store *Store
}

// NewOrderNumberAllocator создаёт аллокатор поверх store.
func NewOrderNumberAllocator(store *Store) *OrderNumberAllocator {
	return &OrderNumberAllocator{store: store}
}

// Next атомарно увеличивает счётчик организации.
func (a *OrderNumberAllocator) Next(ctx context.Context, organizationID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var seq int64
	err := a.store.db.QueryRowContext(ctx, `
		INSERT INTO order_number_counters (organization_id, last_value)
		VALUES ($1, 1)
		ON CONFLICT (organization_id)
		DO UPDATE SET last_value = order_number_counters.last_value + 1
		RETURNING last_value
	`, organizationID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("allocate order number: %w", mapError(err))
	}
	return seq, nil
}
