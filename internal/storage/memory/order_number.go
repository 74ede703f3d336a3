package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

// OrderNumberAllocator: счётчик номеров заказов по организациям.
type OrderNumberAllocator struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewOrderNumberAllocator() *OrderNumberAllocator {
	return &OrderNumberAllocator{counters: make(map[string]int64)}
}

// Next атомарно увеличивает счётчик организации.
func (a *OrderNumberAllocator) Next(ctx context.Context, organizationID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.counters[organizationID]++
	return a.counters[organizationID], nil
}

var _ domain.OrderNumberAllocator = (*OrderNumberAllocator)(nil)
