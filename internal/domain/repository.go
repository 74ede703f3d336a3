package domain

import (
	"context"
	"time"
)

// OrderFilter задаёт выборку заказов организации.
type OrderFilter struct {
	OrganizationID string
	Status         OrderStatus
	CustomerID     string
	CreatedFrom    time.Time
	CreatedTo      time.Time
	Offset         int
	Limit          int
}

// InventoryFilter задаёт выборку складских позиций организации.
type InventoryFilter struct {
	OrganizationID string
	Category       string
	// Search ищет подстроку в названии, SKU и описании без учёта регистра.
	Search     string
	ActiveOnly bool
	Offset     int
	Limit      int
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetByNumber ищет заказ по человекочитаемому номеру внутри организации.
	GetByNumber(ctx context.Context, organizationID, number string) (Order, error)
	// List возвращает заказы по фильтру, новые первыми.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// Save применяет изменения с проверкой версии и увеличивает её; позиции перезаписываются целиком.
	Save(ctx context.Context, order Order) error
	// Delete удаляет заказ и его позиции.
	Delete(ctx context.Context, id string) error
}

// InventoryRepository описывает хранилище складских позиций.
type InventoryRepository interface {
	Create(ctx context.Context, item InventoryItem) error
	Get(ctx context.Context, id string) (InventoryItem, error)
	// GetForUpdate читает позицию с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (InventoryItem, error)
	GetBySKU(ctx context.Context, organizationID, sku string) (InventoryItem, error)
	GetByBarcode(ctx context.Context, organizationID, barcode string) (InventoryItem, error)
	List(ctx context.Context, filter InventoryFilter) ([]InventoryItem, error)
	// ListLowStock возвращает активные позиции, у которых доступный остаток не выше точки дозаказа.
	ListLowStock(ctx context.Context, organizationID string) ([]InventoryItem, error)
	// Save применяет изменения с проверкой версии и увеличивает её.
	Save(ctx context.Context, item InventoryItem) error
	Delete(ctx context.Context, id string) error
}

// StockMovementRepository: журнал движений, только добавление.
type StockMovementRepository interface {
	Append(ctx context.Context, movement StockMovement) error
	// ListByItem возвращает движения позиции, новые первыми.
	ListByItem(ctx context.Context, inventoryItemID string, limit int) ([]StockMovement, error)
}

// UserRepository хранит учётные записи.
type UserRepository interface {
	Create(ctx context.Context, user User) error
	Get(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context, organizationID string, offset, limit int) ([]User, error)
	Save(ctx context.Context, user User) error
}

// OrderNumberAllocator выдаёт монотонные номера без коллизий в пределах организации.
type OrderNumberAllocator interface {
	Next(ctx context.Context, organizationID string) (int64, error)
}

// UnitOfWork: репозитории, работающие внутри одной транзакции.
type UnitOfWork interface {
	Orders() OrderRepository
	Inventory() InventoryRepository
	Movements() StockMovementRepository
	Outbox() OutboxRepository
}

// Transactor выполняет fn атомарно: изменения фиксируются только если fn вернула nil.
// Отмена ctx до фиксации откатывает транзакцию.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}
