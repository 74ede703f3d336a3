package memory

import (
	"context"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

// movementRepository: журнал движений; записи только добавляются.
type movementRepository struct {
	s  *Store
	tx *txn
}

func (r *movementRepository) Append(ctx context.Context, movement domain.StockMovement) error {
	return r.s.run(ctx, r.tx, func(st *state, tx *txn) error {
		if _, ok := st.inventory[movement.InventoryItemID]; !ok {
			return domain.ErrInventoryItemNotFound
		}
		n := len(st.movements)
		st.movements = append(st.movements, movement)
		tx.onRollback(func() { st.movements = st.movements[:n] })
		return nil
	})
}

// ListByItem возвращает движения позиции, новые первыми.
func (r *movementRepository) ListByItem(ctx context.Context, inventoryItemID string, limit int) ([]domain.StockMovement, error) {
	var out []domain.StockMovement
	err := r.s.run(ctx, r.tx, func(st *state, _ *txn) error {
		out = make([]domain.StockMovement, 0)
		for i := len(st.movements) - 1; i >= 0; i-- {
			if st.movements[i].InventoryItemID != inventoryItemID {
				continue
			}
			out = append(out, st.movements[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

var _ domain.StockMovementRepository = (*movementRepository)(nil)
