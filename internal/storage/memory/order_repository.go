package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

// orderRepository: in-memory реализация OrderRepository поверх общего Store.
type orderRepository struct {
	s  *Store
	tx *txn
}

// Create сохраняет новый заказ, если ID и номер ещё не заняты.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	return r.s.run(ctx, r.tx, func(st *state, tx *txn) error {
		if _, exists := st.orders[order.ID]; exists {
			return domain.ErrVersionConflict
		}
		for _, existing := range st.orders {
			if existing.OrganizationID == order.OrganizationID && existing.Number == order.Number {
				return domain.ErrDuplicateOrderNumber
			}
		}
		// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
		st.orders[order.ID] = order.Clone()
		tx.onRollback(func() { delete(st.orders, order.ID) })
		return nil
	})
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	var out domain.Order
	err := r.s.run(ctx, r.tx, func(st *state, _ *txn) error {
		order, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		out = order.Clone()
		return nil
	})
	return out, err
}

func (r *orderRepository) GetByNumber(ctx context.Context, organizationID, number string) (domain.Order, error) {
	var out domain.Order
	err := r.s.run(ctx, r.tx, func(st *state, _ *txn) error {
		for _, order := range st.orders {
			if order.OrganizationID == organizationID && order.Number == number {
				out = order.Clone()
				return nil
			}
		}
		return domain.ErrOrderNotFound
	})
	return out, err
}

// List возвращает заказы по фильтру, новые первыми.
func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var out []domain.Order
	err := r.s.run(ctx, r.tx, func(st *state, _ *txn) error {
		result := make([]domain.Order, 0, len(st.orders))
		for _, order := range st.orders {
			if !matchesOrder(order, filter) {
				continue
			}
			result = append(result, order.Clone())
		}

		sort.Slice(result, func(i, j int) bool {
			if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
				return result[i].CreatedAt.After(result[j].CreatedAt)
			}
			return result[i].Number > result[j].Number
		})
		out = paginate(result, filter.Offset, filter.Limit)
		return nil
	})
	return out, err
}

func matchesOrder(order domain.Order, f domain.OrderFilter) bool {
	if f.OrganizationID != "" && order.OrganizationID != f.OrganizationID {
		return false
	}
	if f.Status != "" && order.Status != f.Status {
		return false
	}
	if f.CustomerID != "" && order.CustomerID != f.CustomerID {
		return false
	}
	if !f.CreatedFrom.IsZero() && order.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && order.CreatedAt.After(f.CreatedTo) {
		return false
	}
	return true
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	return r.s.run(ctx, r.tx, func(st *state, tx *txn) error {
		current, ok := st.orders[order.ID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if current.Version != order.Version {
			return domain.ErrVersionConflict
		}
		order = order.Clone()
		order.Version++
		st.orders[order.ID] = order
		tx.onRollback(func() { st.orders[order.ID] = current })
		return nil
	})
}

func (r *orderRepository) Delete(ctx context.Context, id string) error {
	return r.s.run(ctx, r.tx, func(st *state, tx *txn) error {
		current, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		delete(st.orders, id)
		tx.onRollback(func() { st.orders[id] = current })
		return nil
	})
}

var _ domain.OrderRepository = (*orderRepository)(nil)
