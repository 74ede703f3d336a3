package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

const inventoryColumns = `
	id, organization_id, sku, name, description, barcode, category, brand, tags,
	unit, currency, cost_price, selling_price, quantity_on_hand, quantity_reserved,
	quantity_on_order, reorder_point, reorder_quantity, is_active, is_trackable,
	version, created_at, updated_at`

type inventoryRepository struct {
	c conn
}

func (r *inventoryRepository) Create(ctx context.Context, item domain.InventoryItem) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tags, err := encodeTags(item.Tags)
	if err != nil {
		return err
	}
	_, err = r.c.q().ExecContext(ctx, `
		INSERT INTO inventory_items (`+inventoryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`,
		item.ID, item.OrganizationID, item.SKU, item.Name, item.Description, item.Barcode, item.Category, item.Brand, tags,
		item.Unit, item.Currency, item.CostPrice, item.SellingPrice, item.QuantityOnHand, item.QuantityReserved,
		item.QuantityOnOrder, item.ReorderPoint, item.ReorderQuantity, item.IsActive, item.IsTrackable,
		item.Version, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if _, constraint := pgCode(err); constraint == "inventory_items_org_sku_key" {
				return domain.ErrDuplicateSKU
			}
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert inventory item: %w", mapError(err))
	}
	return nil
}

func (r *inventoryRepository) Get(ctx context.Context, id string) (domain.InventoryItem, error) {
	return r.one(ctx, `WHERE id = $1`, id)
}

// GetForUpdate блокирует строку до конца транзакции.
func (r *inventoryRepository) GetForUpdate(ctx context.Context, id string) (domain.InventoryItem, error) {
	if r.c.tx == nil {
		return r.Get(ctx, id)
	}
	return r.one(ctx, `WHERE id = $1 FOR UPDATE`, id)
}

func (r *inventoryRepository) GetBySKU(ctx context.Context, organizationID, sku string) (domain.InventoryItem, error) {
	return r.one(ctx, `WHERE organization_id = $1 AND lower(sku) = lower($2)`, organizationID, sku)
}

func (r *inventoryRepository) GetByBarcode(ctx context.Context, organizationID, barcode string) (domain.InventoryItem, error) {
	if barcode == "" {
		return domain.InventoryItem{}, domain.ErrInventoryItemNotFound
	}
	return r.one(ctx, `WHERE organization_id = $1 AND barcode = $2 LIMIT 1`, organizationID, barcode)
}

func (r *inventoryRepository) one(ctx context.Context, where string, args ...any) (domain.InventoryItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	item, err := scanInventory(r.c.q().QueryRowContext(ctx, `SELECT `+inventoryColumns+` FROM inventory_items `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryItem{}, domain.ErrInventoryItemNotFound
		}
		return domain.InventoryItem{}, fmt.Errorf("select inventory item: %w", mapError(err))
	}
	return item, nil
}

// List возвращает позиции, отсортированные по названию.
func (r *inventoryRepository) List(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if filter.ActiveOnly {
		where = append(where, "is_active")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		args = append(args, pattern)
		n := len(args)
		where = append(where, fmt.Sprintf("(lower(name) LIKE $%d OR lower(sku) LIKE $%d OR lower(description) LIKE $%d)", n, n, n))
	}

	query := `SELECT ` + inventoryColumns + ` FROM inventory_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name ASC, sku ASC"
	query += paginationClause(&args, filter.Offset, filter.Limit)
	return r.many(ctx, query, args...)
}

// ListLowStock возвращает активные позиции, у которых доступный остаток не выше точки дозаказа.
func (r *inventoryRepository) ListLowStock(ctx context.Context, organizationID string) ([]domain.InventoryItem, error) {
	return r.many(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_items
		WHERE organization_id = $1
		  AND is_active
		  AND GREATEST(quantity_on_hand - quantity_reserved, 0) <= reorder_point
		ORDER BY name ASC, sku ASC
	`, organizationID)
}

func (r *inventoryRepository) many(ctx context.Context, query string, args ...any) ([]domain.InventoryItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.c.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list inventory items: %w", mapError(err))
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0)
	for rows.Next() {
		item, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory items: %w", err)
	}
	return items, nil
}

// Save перезаписывает позицию с проверкой версии.
func (r *inventoryRepository) Save(ctx context.Context, item domain.InventoryItem) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tags, err := encodeTags(item.Tags)
	if err != nil {
		return err
	}
	q := r.c.q()
	res, err := q.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = $1,
		    description = $2,
		    barcode = $3,
		    category = $4,
		    brand = $5,
		    tags = $6,
		    cost_price = $7,
		    selling_price = $8,
		    quantity_on_hand = $9,
		    quantity_reserved = $10,
		    quantity_on_order = $11,
		    reorder_point = $12,
		    reorder_quantity = $13,
		    is_active = $14,
		    is_trackable = $15,
		    updated_at = $16,
		    version = version + 1
		WHERE id = $17
		  AND version = $18
	`,
		item.Name, item.Description, item.Barcode, item.Category, item.Brand, tags,
		item.CostPrice, item.SellingPrice, item.QuantityOnHand, item.QuantityReserved, item.QuantityOnOrder,
		item.ReorderPoint, item.ReorderQuantity, item.IsActive, item.IsTrackable, item.UpdatedAt,
		item.ID, item.Version,
	)
	if err != nil {
		return fmt.Errorf("update inventory item: %w", mapError(err))
	}
	return checkAffected(ctx, q, res, "inventory_items", item.ID, domain.ErrInventoryItemNotFound)
}

func (r *inventoryRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.c.q().ExecContext(ctx, `DELETE FROM inventory_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete inventory item: %w", mapError(err))
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return domain.ErrInventoryItemNotFound
	}
	return nil
}

func scanInventory(row rowScanner) (domain.InventoryItem, error) {
	var (
		item domain.InventoryItem
		tags []byte
	)
	if err := row.Scan(
		&item.ID, &item.OrganizationID, &item.SKU, &item.Name, &item.Description, &item.Barcode, &item.Category, &item.Brand, &tags,
		&item.Unit, &item.Currency, &item.CostPrice, &item.SellingPrice, &item.QuantityOnHand, &item.QuantityReserved,
		&item.QuantityOnOrder, &item.ReorderPoint, &item.ReorderQuantity, &item.IsActive, &item.IsTrackable,
		&item.Version, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return domain.InventoryItem{}, err
	}
	item.Currency = strings.TrimSpace(item.Currency)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &item.Tags); err != nil {
			return domain.InventoryItem{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	return item, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(raw), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)
