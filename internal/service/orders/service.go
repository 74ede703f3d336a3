// Package orders реализует сценарии работы с заказами: создание, состав,
// переходы статусов с резервированием и списанием склада.
package orders

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/metrics"
	"github.com/vladislavdragonenkov/erp/internal/service/txn"
	"github.com/vladislavdragonenkov/erp/internal/tracing"
)

const (
	// DefaultListLimit: размер страницы, если лимит не задан.
	DefaultListLimit = 50
	// MaxListLimit: верхняя граница размера страницы.
	MaxListLimit = 100
)

var tracer = tracing.Tracer("erp/orders")

// Option настраивает Service.
type Option func(*Service)

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

// StockInvalidator сбрасывает кэшированные карточки товаров после изменения остатков.
type StockInvalidator interface {
	InvalidateItems(ctx context.Context, ids ...string)
}

// WithStockInvalidator подключает сброс кэша склада.
func WithStockInvalidator(inv StockInvalidator) Option {
	return func(s *Service) { s.stock = inv }
}

// Service координирует заказы и склад внутри одной транзакции.
type Service struct {
	runner  *txn.Runner
	orders  domain.OrderRepository
	numbers domain.OrderNumberAllocator
	stock   StockInvalidator
	metrics *metrics.DomainMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewService создаёт сервис заказов. orders используется для чтения вне транзакций.
func NewService(runner *txn.Runner, orders domain.OrderRepository, numbers domain.OrderNumberAllocator, opts ...Option) *Service {
	s := &Service{
		runner:  runner,
		orders:  orders,
		numbers: numbers,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "order-service")
	}
	return s
}

// GetOrder возвращает заказ организации.
func (s *Service) GetOrder(ctx context.Context, organizationID, orderID string) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.GetOrder")
	order, err := s.orders.Get(ctx, orderID)
	if err == nil && order.OrganizationID != organizationID {
		err = domain.ErrOrderNotFound
	}
	tracing.End(span, err)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// GetOrderByNumber ищет заказ по номеру вида ORD-YYYYMMDD-NNNNN.
func (s *Service) GetOrderByNumber(ctx context.Context, organizationID, number string) (domain.Order, error) {
	return s.orders.GetByNumber(ctx, organizationID, number)
}

// ListOrders возвращает страницу заказов; лимит приводится к [1, MaxListLimit].
func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.OrganizationID == "" {
		return nil, domain.ErrOrganizationRequired
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown order status %q", domain.ErrValidation, filter.Status)
	}
	filter.Limit = ClampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.orders.List(ctx, filter)
}

// CalculateOrderSummary возвращает финансовые итоги заказа без изменений.
func (s *Service) CalculateOrderSummary(ctx context.Context, organizationID, orderID string) (domain.OrderSummary, error) {
	order, err := s.GetOrder(ctx, organizationID, orderID)
	if err != nil {
		return domain.OrderSummary{}, err
	}
	return order.Summary(), nil
}

func (s *Service) invalidateStock(ctx context.Context, items []domain.OrderItem) {
	if s.stock == nil || len(items) == 0 {
		return
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	s.stock.InvalidateItems(ctx, ids...)
}

// ClampLimit нормализует размер страницы.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// loadOrder читает заказ в транзакции с проверкой организации.
func loadOrder(ctx context.Context, uow domain.UnitOfWork, organizationID, orderID string) (domain.Order, error) {
	order, err := uow.Orders().Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.OrganizationID != organizationID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}
