package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DomainMetrics содержит метрики заказов, склада и аутентификации.
// Методы безопасно вызывать на nil-получателе: сервисы в тестах работают без метрик.
type DomainMetrics struct {
	// Счётчики заказов
	ordersCreated    prometheus.Counter
	orderTransitions *prometheus.CounterVec

	// Склад
	reservations   *prometheus.CounterVec
	stockMovements *prometheus.CounterVec
	lowStockItems  *prometheus.GaugeVec

	// Транзакции
	txConflicts       *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	authAttempts *prometheus.CounterVec
}

// NewDomainMetrics создаёт метрики в DefaultRegisterer.
func NewDomainMetrics() *DomainMetrics {
	return NewDomainMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewDomainMetricsWithRegisterer позволяет тестам использовать изолированный реестр.
func NewDomainMetricsWithRegisterer(registerer prometheus.Registerer) *DomainMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &DomainMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "erp_orders_created_total",
			Help: "Total number of orders created",
		}),
		orderTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "erp_order_transitions_total",
			Help: "Total number of order status transitions by target status",
		}, []string{"status"}),
		reservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "erp_stock_reservations_total",
			Help: "Stock reservation attempts grouped by result",
		}, []string{"result"}),
		stockMovements: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "erp_stock_movements_total",
			Help: "Recorded stock movements grouped by movement type",
		}, []string{"type"}),
		lowStockItems: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "erp_low_stock_items",
			Help: "Number of active inventory items at or below reorder point, last observed per organization",
		}, []string{"organization"}),
		txConflicts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "erp_tx_conflicts_total",
			Help: "Transaction conflicts that triggered a retry, by operation",
		}, []string{"operation"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "erp_operation_duration_seconds",
			Help:    "Duration of transactional service operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation", "result"}),
		authAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "erp_auth_attempts_total",
			Help: "Login attempts grouped by result",
		}, []string{"result"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGaugeVec(registerer prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	collector := prometheus.NewGaugeVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.GaugeVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *DomainMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderTransition учитывает переход заказа в статус.
func (m *DomainMetrics) RecordOrderTransition(status string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(status).Inc()
}

// RecordReservation учитывает результат резервирования: reserved, insufficient, released.
func (m *DomainMetrics) RecordReservation(result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(result).Inc()
}

// RecordStockMovement учитывает запись в журнал движений.
func (m *DomainMetrics) RecordStockMovement(movementType string) {
	if m == nil {
		return
	}
	m.stockMovements.WithLabelValues(movementType).Inc()
}

// SetLowStockItems фиксирует последнее наблюдённое число позиций ниже точки дозаказа.
func (m *DomainMetrics) SetLowStockItems(organizationID string, n int) {
	if m == nil {
		return
	}
	m.lowStockItems.WithLabelValues(organizationID).Set(float64(n))
}

// RecordTxConflict учитывает конфликт транзакции перед повтором.
func (m *DomainMetrics) RecordTxConflict(operation string) {
	if m == nil {
		return
	}
	m.txConflicts.WithLabelValues(operation).Inc()
}

// RecordOperationDuration записывает длительность операции с результатом ok или error.
func (m *DomainMetrics) RecordOperationDuration(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operationDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// RecordAuthAttempt учитывает попытку входа.
func (m *DomainMetrics) RecordAuthAttempt(result string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(result).Inc()
}
