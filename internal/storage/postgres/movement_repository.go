package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

type movementRepository struct {
	c conn
}

func (r *movementRepository) Append(ctx context.Context, m domain.StockMovement) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.c.q().ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, inventory_item_id, movement_type, quantity, quantity_after,
			reference, notes, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		m.ID, m.InventoryItemID, string(m.Type), m.Quantity, m.QuantityAfter,
		m.Reference, m.Notes, m.CreatedBy, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("append stock movement: %w", mapError(err))
	}
	return nil
}

// ListByItem возвращает движения позиции, новые первыми.
func (r *movementRepository) ListByItem(ctx context.Context, inventoryItemID string, limit int) ([]domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	args := []any{inventoryItemID}
	query := `
		SELECT id, inventory_item_id, movement_type, quantity, quantity_after,
		       reference, notes, created_by, created_at
		FROM stock_movements
		WHERE inventory_item_id = $1
		ORDER BY created_at DESC, id DESC`
	query += paginationClause(&args, 0, limit)

	rows, err := r.c.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", mapError(err))
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0)
	for rows.Next() {
		var (
			m   domain.StockMovement
			typ string
		)
		if err := rows.Scan(
			&m.ID, &m.InventoryItemID, &typ, &m.Quantity, &m.QuantityAfter,
			&m.Reference, &m.Notes, &m.CreatedBy, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		m.Type = domain.MovementType(typ)
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}
	return movements, nil
}

var _ domain.StockMovementRepository = (*movementRepository)(nil)
