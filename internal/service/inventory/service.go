// Package inventory управляет складскими позициями и журналом движений.
package inventory

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/metrics"
	"github.com/vladislavdragonenkov/erp/internal/service/outbox"
	"github.com/vladislavdragonenkov/erp/internal/service/txn"
)

const (
	defaultListLimit      = 50
	maxListLimit          = 100
	defaultMovementsLimit = 100
)

// Cache: кэш чтения карточек товара. Ошибки кэша не прерывают операции.
type Cache interface {
	Get(ctx context.Context, id string) (domain.InventoryItem, bool, error)
	Set(ctx context.Context, item domain.InventoryItem) error
	Invalidate(ctx context.Context, id string) error
}

// AdjustStockInput: ручная корректировка остатка.
type AdjustStockInput struct {
	OrganizationID string
	ItemID         string
	// Quantity: знаковая дельта: отрицательная списывает.
	Quantity     int
	Reason       string
	MovementType domain.MovementType
	Actor        string
}

// Option настраивает Service.
type Option func(*Service)

// WithCache подключает кэш чтения.
func WithCache(cache Cache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics подключает доменные метрики.
func WithMetrics(m *metrics.DomainMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service: операции склада.
type Service struct {
	runner    *txn.Runner
	items     domain.InventoryRepository
	movements domain.StockMovementRepository
	cache     Cache
	metrics   *metrics.DomainMetrics
	logger    *log.Entry
	now       func() time.Time

	// invalidations растёт при каждом сбросе кэша; GetItem не кэширует прочитанное до сброса.
	invalidations atomic.Uint64
}

// NewService создаёт сервис склада; items и movements используются для чтения вне транзакций.
func NewService(runner *txn.Runner, items domain.InventoryRepository, movements domain.StockMovementRepository, opts ...Option) *Service {
	s := &Service{
		runner:    runner,
		items:     items,
		movements: movements,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "inventory-service")
	}
	return s
}

// CreateItem заводит новую позицию. Повтор SKU в организации даёт ErrDuplicateSKU.
func (s *Service) CreateItem(ctx context.Context, in domain.NewInventoryItemInput) (domain.InventoryItem, error) {
	item, err := domain.NewInventoryItem(in, s.now())
	if err != nil {
		return domain.InventoryItem{}, err
	}
	err = s.runner.Run(ctx, "inventory.create", func(ctx context.Context, uow domain.UnitOfWork) error {
		if err := uow.Inventory().Create(ctx, item); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, uow.Outbox(), domain.AggregateInventory, item.ID,
			domain.EventInventoryCreated, outbox.NewInventoryEvent(item), item.CreatedAt)
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.logger.WithFields(log.Fields{
		"item_id":      item.ID,
		"sku":          item.SKU,
		"organization": item.OrganizationID,
	}).Info("inventory item created")
	return item, nil
}

// GetItem возвращает позицию организации, используя кэш при наличии.
func (s *Service) GetItem(ctx context.Context, organizationID, id string) (domain.InventoryItem, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, id)
		if err != nil {
			s.logger.WithError(err).WithField("item_id", id).Warn("inventory cache read failed")
		}
		if ok && cached.OrganizationID == organizationID {
			return cached, nil
		}
	}

	generation := s.invalidations.Load()
	item, err := s.items.Get(ctx, id)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if item.OrganizationID != organizationID {
		return domain.InventoryItem{}, domain.ErrInventoryItemNotFound
	}
	if s.cache != nil {
		// Пока читали, другая операция могла закоммитить изменения и сбросить кэш.
		if s.invalidations.Load() != generation {
			s.logger.WithField("item_id", id).Debug("skip caching item read before invalidation")
			return item, nil
		}
		if err := s.cache.Set(ctx, item); err != nil {
			s.logger.WithError(err).WithField("item_id", id).Warn("inventory cache write failed")
		}
	}
	return item, nil
}

// ListItems возвращает страницу позиций по фильтру.
func (s *Service) ListItems(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryItem, error) {
	if filter.OrganizationID == "" {
		return nil, domain.ErrOrganizationRequired
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.items.List(ctx, filter)
}

// ListLowStock возвращает позиции, требующие дозаказа, и обновляет метрику.
func (s *Service) ListLowStock(ctx context.Context, organizationID string) ([]domain.InventoryItem, error) {
	if organizationID == "" {
		return nil, domain.ErrOrganizationRequired
	}
	items, err := s.items.ListLowStock(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	s.metrics.SetLowStockItems(organizationID, len(items))
	return items, nil
}

// ListMovements возвращает журнал движений позиции, новые первыми.
func (s *Service) ListMovements(ctx context.Context, organizationID, id string, limit int) ([]domain.StockMovement, error) {
	if _, err := s.GetItem(ctx, organizationID, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > defaultMovementsLimit {
		limit = defaultMovementsLimit
	}
	return s.movements.ListByItem(ctx, id, limit)
}

// UpdateItem применяет частичное обновление карточки.
func (s *Service) UpdateItem(ctx context.Context, organizationID, id string, update domain.InventoryUpdate) (domain.InventoryItem, error) {
	var result domain.InventoryItem
	err := s.runner.Run(ctx, "inventory.update", func(ctx context.Context, uow domain.UnitOfWork) error {
		item, err := lockItem(ctx, uow, organizationID, id)
		if err != nil {
			return err
		}
		if err := item.ApplyUpdate(update, s.now()); err != nil {
			return err
		}
		if err := uow.Inventory().Save(ctx, item); err != nil {
			return err
		}
		item.Version++
		result = item
		return outbox.Enqueue(ctx, uow.Outbox(), domain.AggregateInventory, item.ID,
			domain.EventInventoryUpdated, outbox.NewInventoryEvent(item), item.UpdatedAt)
	})
	s.invalidate(ctx, id)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	return result, nil
}

// ReceiveStock оприходует поставку и пишет движение purchase.
func (s *Service) ReceiveStock(ctx context.Context, organizationID, id string, qty int, reference, actor string) (domain.InventoryItem, domain.StockMovement, error) {
	return s.mutateStock(ctx, "inventory.receive", organizationID, id, func(item *domain.InventoryItem, now time.Time) (domain.StockMovement, error) {
		return item.ReceiveStock(qty, reference, actor, now)
	})
}

// AdjustStock применяет знаковую корректировку; остаток не может стать отрицательным.
func (s *Service) AdjustStock(ctx context.Context, in AdjustStockInput) (domain.InventoryItem, domain.StockMovement, error) {
	return s.mutateStock(ctx, "inventory.adjust", in.OrganizationID, in.ItemID, func(item *domain.InventoryItem, now time.Time) (domain.StockMovement, error) {
		return item.AdjustStock(in.Quantity, in.Reason, in.MovementType, in.Actor, now)
	})
}

// mutateStock блокирует строку, применяет изменение и пишет движение в той же транзакции.
func (s *Service) mutateStock(
	ctx context.Context,
	operation, organizationID, id string,
	apply func(item *domain.InventoryItem, now time.Time) (domain.StockMovement, error),
) (domain.InventoryItem, domain.StockMovement, error) {
	var (
		result   domain.InventoryItem
		movement domain.StockMovement
	)
	err := s.runner.Run(ctx, operation, func(ctx context.Context, uow domain.UnitOfWork) error {
		now := s.now()
		item, err := lockItem(ctx, uow, organizationID, id)
		if err != nil {
			return err
		}
		wasLow := item.NeedsReorder()
		m, err := apply(&item, now)
		if err != nil {
			return err
		}
		if err := uow.Inventory().Save(ctx, item); err != nil {
			return err
		}
		item.Version++
		if err := uow.Movements().Append(ctx, m); err != nil {
			return err
		}
		if err := outbox.Enqueue(ctx, uow.Outbox(), domain.AggregateInventory, item.ID,
			domain.EventStockMovement, outbox.NewStockMovementEvent(item, m), now); err != nil {
			return err
		}
		if !wasLow && item.NeedsReorder() && item.IsActive {
			if err := outbox.Enqueue(ctx, uow.Outbox(), domain.AggregateInventory, item.ID,
				domain.EventInventoryLowStock, outbox.NewInventoryEvent(item), now); err != nil {
				return err
			}
		}
		result, movement = item, m
		return nil
	})
	s.invalidate(ctx, id)
	if err != nil {
		return domain.InventoryItem{}, domain.StockMovement{}, err
	}

	s.metrics.RecordStockMovement(string(movement.Type))
	s.logger.WithFields(log.Fields{
		"item_id":        result.ID,
		"sku":            result.SKU,
		"movement_type":  movement.Type,
		"quantity":       movement.Quantity,
		"quantity_after": movement.QuantityAfter,
	}).Info("stock movement recorded")
	return result, movement, nil
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	s.invalidations.Add(1)
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WithError(err).WithField("item_id", id).Warn("inventory cache invalidation failed")
	}
}

// InvalidateItems сбрасывает кэш позиций, изменённых другими сервисами.
func (s *Service) InvalidateItems(ctx context.Context, ids ...string) {
	for _, id := range ids {
		s.invalidate(ctx, id)
	}
}

func lockItem(ctx context.Context, uow domain.UnitOfWork, organizationID, id string) (domain.InventoryItem, error) {
	item, err := uow.Inventory().GetForUpdate(ctx, id)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if item.OrganizationID != organizationID {
		return domain.InventoryItem{}, domain.ErrInventoryItemNotFound
	}
	return item, nil
}
