package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

type inventoryRepository struct {
	s  *Store
	tx *txn
}

func (r *inventoryRepository) Create(ctx context.Context, item domain.InventoryItem) error {
	return r.s.run(ctx, r.tx, func(st *state, tx *txn) error {
		if _, exists := st.inventory[item.ID]; exists {
			return domain.ErrVersionConflict
		}
		for _, existing := range st.inventory {
			if existing.OrganizationID == item.OrganizationID && strings.EqualFold(existing.SKU, item.SKU) {
				return domain.ErrDuplicateSKU
			}
		}
		st.inventory[item.ID] = item.Clone()
		tx.onRollback(func() { delete(st.inventory, item.ID) })
		return nil
	})
}

func (r *inventoryRepository) Get(ctx context.Context, id string) (domain.InventoryItem, error) {
	var out domain.InventoryItem
	err := r.s.run(ctx, r.tx, func(st *state, _ *txn) error {
		item, ok := st.inventory[id]
		if !ok {
			return domain.ErrInventoryItemNotFound
		}
		out = item.Clone()
		return nil
	})
	return out, err
}

// GetForUpdate совпадает с Get: транзакция и так держит эксклюзивную блокировку хранилища.
func (r *inventoryRepository) GetForUpdate(ctx context.Context, id string) (domain.InventoryItem, error) {
	return r.Get(ctx, id)
}

func (r *inventoryRepository) GetBySKU(ctx context.Context, organizationID, sku string) (domain.InventoryItem, error) {
	return r.find(ctx, func(it domain.InventoryItem) bool {
		return it.OrganizationID == organizationID && strings.EqualFold(it.SKU, sku)
	})
}

func (r *inventoryRepository) GetByBarcode(ctx context.Context, organizationID, barcode string) (domain.InventoryItem, error) {
	return r.find(ctx, func(it domain.InventoryItem) bool {
		return it.OrganizationID == organizationID && barcode != "" && it.Barcode == barcode
	})
}

func (r *inventoryRepository) find(ctx context.Context, match func(domain.InventoryItem) bool) (domain.InventoryItem, error) {
	var out domain.InventoryItem
	err := r.s.run(ctx, r.tx, func(st *state, _ *txn) error {
		for _, item := range st.inventory {
			if match(item) {
				out = item.Clone()
				return nil
			}
		}
		return domain.ErrInventoryItemNotFound
	})
	return out, err
}

// List возвращает позиции, отсортированные по названию.
func (r *inventoryRepository) List(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	return r.collect(ctx, filter.Offset, filter.Limit, func(it domain.InventoryItem) bool {
		if filter.OrganizationID != "" && it.OrganizationID != filter.OrganizationID {
			return false
		}
		if filter.Category != "" && it.Category != filter.Category {
			return false
		}
		if filter.ActiveOnly && !it.IsActive {
			return false
		}
		if search != "" {
			haystack := strings.ToLower(it.Name + "\x00" + it.SKU + "\x00" + it.Description)
			if !strings.Contains(haystack, search) {
				return false
			}
		}
		return true
	})
}

func (r *inventoryRepository) ListLowStock(ctx context.Context, organizationID string) ([]domain.InventoryItem, error) {
	return r.collect(ctx, 0, 0, func(it domain.InventoryItem) bool {
		return it.OrganizationID == organizationID && it.IsActive && it.NeedsReorder()
	})
}

func (r *inventoryRepository) collect(ctx context.Context, offset, limit int, match func(domain.InventoryItem) bool) ([]domain.InventoryItem, error) {
	var out []domain.InventoryItem
	err := r.s.run(ctx, r.tx, func(st *state, _ *txn) error {
		result := make([]domain.InventoryItem, 0)
		for _, item := range st.inventory {
			if match(item) {
				result = append(result, item.Clone())
			}
		}
		sort.Slice(result, func(i, j int) bool {
			if result[i].Name != result[j].Name {
				return result[i].Name < result[j].Name
			}
			return result[i].SKU < result[j].SKU
		})
		out = paginate(result, offset, limit)
		return nil
	})
	return out, err
}

// Save перезаписывает позицию с проверкой версии.
func (r *inventoryRepository) Save(ctx context.Context, item domain.InventoryItem) error {
	return r.s.run(ctx, r.tx, func(st *state, tx *txn) error {
		current, ok := st.inventory[item.ID]
		if !ok {
			return domain.ErrInventoryItemNotFound
		}
		if current.Version != item.Version {
			return domain.ErrVersionConflict
		}
		item = item.Clone()
		item.Version++
		st.inventory[item.ID] = item
		tx.onRollback(func() { st.inventory[item.ID] = current })
		return nil
	})
}

func (r *inventoryRepository) Delete(ctx context.Context, id string) error {
	return r.s.run(ctx, r.tx, func(st *state, tx *txn) error {
		current, ok := st.inventory[id]
		if !ok {
			return domain.ErrInventoryItemNotFound
		}
		delete(st.inventory, id)
		tx.onRollback(func() { st.inventory[id] = current })
		return nil
	})
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)
