package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/service/outbox"
)

// maxNumberAttempts ограничивает перевыделение номера при ErrDuplicateOrderNumber.
const maxNumberAttempts = 5

// CreateOrderInput: данные нового черновика заказа.
type CreateOrderInput struct {
	OrganizationID  string
	CustomerID      string
	CustomerName    string
	CustomerEmail   string
	BillingAddress  domain.Address
	ShippingAddress domain.Address
	Currency        string
	ShippingCost    decimal.Decimal
	HandlingFee     decimal.Decimal
	CustomerNotes   string
	CreatedBy       string
}

// AddItemInput: добавление товара со склада в заказ.
type AddItemInput struct {
	OrganizationID string
	OrderID        string
	ProductID      string
	Quantity       int
	// UnitPrice переопределяет цену продажи со склада, если задан.
	UnitPrice       *decimal.Decimal
	DiscountPercent decimal.Decimal
	TaxPercent      decimal.Decimal
	Notes           string
}

// CreateOrder выделяет номер и создаёт заказ в статусе DRAFT.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	now := s.now()
	order, err := domain.NewOrder(domain.NewOrderInput{
		OrganizationID:  in.OrganizationID,
		CustomerID:      in.CustomerID,
		CustomerName:    in.CustomerName,
		CustomerEmail:   in.CustomerEmail,
		BillingAddress:  in.BillingAddress,
		ShippingAddress: in.ShippingAddress,
		Currency:        in.Currency,
		ShippingCost:    in.ShippingCost,
		HandlingFee:     in.HandlingFee,
		CustomerNotes:   in.CustomerNotes,
		CreatedBy:       in.CreatedBy,
	}, now)
	if err != nil {
		return domain.Order{}, err
	}

	// Номер выделяется вне транзакции: после отката остаётся пропуск, но не дубль.
	// Дубль возможен, если счётчик аллокатора отстал от таблицы заказов; тогда берём следующий номер.
	for attempt := 1; ; attempt++ {
		seq, err := s.numbers.Next(ctx, order.OrganizationID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("allocate order number: %w", err)
		}
		order.Number = domain.FormatOrderNumber(now, seq)

		err = s.runner.Run(ctx, "orders.create", func(ctx context.Context, uow domain.UnitOfWork) error {
			if err := uow.Orders().Create(ctx, order); err != nil {
				return err
			}
			return s.emitOrder(ctx, uow, domain.EventOrderCreated, order, nil)
		})
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrDuplicateOrderNumber) || attempt >= maxNumberAttempts {
			return domain.Order{}, err
		}
		s.logger.WithFields(log.Fields{
			"order_number": order.Number,
			"organization": order.OrganizationID,
			"attempt":      attempt,
		}).Warn("order number already taken, allocating next")
	}

	s.metrics.RecordOrderCreated()
	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
		"organization": order.OrganizationID,
	}).Info("order created")
	return order, nil
}

// AddItem резервирует товар и добавляет позицию в заказ одной транзакцией.
func (s *Service) AddItem(ctx context.Context, in AddItemInput) (domain.Order, error) {
	var result domain.Order
	err := s.runner.Run(ctx, "orders.add_item", func(ctx context.Context, uow domain.UnitOfWork) error {
		now := s.now()
		order, err := loadOrder(ctx, uow, in.OrganizationID, in.OrderID)
		if err != nil {
			return err
		}
		if err := order.EnsureModifiable(); err != nil {
			return err
		}

		item, err := uow.Inventory().GetForUpdate(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if item.OrganizationID != order.OrganizationID {
			return domain.ErrInventoryItemNotFound
		}
		if item.Currency != order.Currency {
			return fmt.Errorf("%w: order %s, item %s", domain.ErrCurrencyMismatch, order.Currency, item.Currency)
		}

		price := item.SellingPrice
		if in.UnitPrice != nil {
			price = *in.UnitPrice
		}
		line := domain.OrderItem{
			ProductID:       item.ID,
			ProductName:     item.Name,
			SKU:             item.SKU,
			Quantity:        in.Quantity,
			UnitPrice:       price,
			DiscountPercent: in.DiscountPercent,
			TaxPercent:      in.TaxPercent,
			Notes:           in.Notes,
		}
		if err := line.Validate(); err != nil {
			return err
		}

		wasLow := item.NeedsReorder()
		if err := item.ReserveStock(line.Quantity, order.ID, now); err != nil {
			return err
		}
		added, err := order.AddItem(line, now)
		if err != nil {
			return err
		}

		if err := saveItem(ctx, uow, &item); err != nil {
			return err
		}
		if err := saveOrder(ctx, uow, &order); err != nil {
			return err
		}
		if err := s.emitOrder(ctx, uow, domain.EventOrderItemAdded, order, func(e *outbox.OrderEvent) {
			e.Item = outbox.NewOrderItemEvent(added)
		}); err != nil {
			return err
		}
		if !wasLow && item.NeedsReorder() {
			if err := outbox.Enqueue(ctx, uow.Outbox(), domain.AggregateInventory, item.ID,
				domain.EventInventoryLowStock, outbox.NewInventoryEvent(item), now); err != nil {
				return err
			}
		}
		result = order
		return nil
	})
	s.invalidateStock(ctx, []domain.OrderItem{{ProductID: in.ProductID}})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.metrics.RecordReservation("insufficient")
			s.logger.WithFields(log.Fields{
				"order_id":   in.OrderID,
				"product_id": in.ProductID,
				"quantity":   in.Quantity,
			}).Info("reservation rejected: insufficient stock")
		}
		return domain.Order{}, err
	}
	s.metrics.RecordReservation("reserved")
	return result, nil
}

// RemoveItem удаляет позицию и снимает её резерв.
func (s *Service) RemoveItem(ctx context.Context, organizationID, orderID, itemID string) (domain.Order, error) {
	var (
		result  domain.Order
		touched []domain.OrderItem
	)
	err := s.runner.Run(ctx, "orders.remove_item", func(ctx context.Context, uow domain.UnitOfWork) error {
		now := s.now()
		order, err := loadOrder(ctx, uow, organizationID, orderID)
		if err != nil {
			return err
		}
		removed, err := order.RemoveItem(itemID, now)
		if err != nil {
			return err
		}
		if err := s.releaseReservations(ctx, uow, order.ID, []domain.OrderItem{removed}); err != nil {
			return err
		}
		if err := saveOrder(ctx, uow, &order); err != nil {
			return err
		}
		if err := s.emitOrder(ctx, uow, domain.EventOrderItemRemoved, order, func(e *outbox.OrderEvent) {
			e.Item = outbox.NewOrderItemEvent(removed)
		}); err != nil {
			return err
		}
		result = order
		touched = []domain.OrderItem{removed}
		return nil
	})
	s.invalidateStock(ctx, touched)
	if err != nil {
		return domain.Order{}, err
	}
	s.metrics.RecordReservation("released")
	return result, nil
}

// SubmitOrder переводит DRAFT → PENDING.
func (s *Service) SubmitOrder(ctx context.Context, organizationID, orderID string) (domain.Order, error) {
	return s.transition(ctx, "orders.submit", organizationID, orderID, domain.EventOrderSubmitted, func(o *domain.Order) error {
		return o.Submit(s.now())
	})
}

// ConfirmOrder переводит PENDING → CONFIRMED.
func (s *Service) ConfirmOrder(ctx context.Context, organizationID, orderID string) (domain.Order, error) {
	return s.transition(ctx, "orders.confirm", organizationID, orderID, domain.EventOrderConfirmed, func(o *domain.Order) error {
		return o.Confirm(s.now())
	})
}

// StartProcessing переводит CONFIRMED → PROCESSING.
func (s *Service) StartProcessing(ctx context.Context, organizationID, orderID string) (domain.Order, error) {
	return s.transition(ctx, "orders.process", organizationID, orderID, domain.EventOrderProcessing, func(o *domain.Order) error {
		return o.StartProcessing(s.now())
	})
}

// DeliverOrder переводит SHIPPED → DELIVERED.
func (s *Service) DeliverOrder(ctx context.Context, organizationID, orderID string) (domain.Order, error) {
	return s.transition(ctx, "orders.deliver", organizationID, orderID, domain.EventOrderDelivered, func(o *domain.Order) error {
		return o.Deliver(s.now())
	})
}

// CancelOrder снимает все резервы заказа и переводит его в CANCELLED.
func (s *Service) CancelOrder(ctx context.Context, organizationID, orderID, reason string) (domain.Order, error) {
	var result domain.Order
	err := s.runner.Run(ctx, "orders.cancel", func(ctx context.Context, uow domain.UnitOfWork) error {
		order, err := loadOrder(ctx, uow, organizationID, orderID)
		if err != nil {
			return err
		}
		if err := order.EnsureCancellable(); err != nil {
			return err
		}
		if err := s.releaseReservations(ctx, uow, order.ID, order.Items); err != nil {
			return err
		}
		if err := order.Cancel(reason, s.now()); err != nil {
			return err
		}
		if err := saveOrder(ctx, uow, &order); err != nil {
			return err
		}
		if err := s.emitOrder(ctx, uow, domain.EventOrderCancelled, order, func(e *outbox.OrderEvent) {
			e.Reason = reason
		}); err != nil {
			return err
		}
		result = order
		return nil
	})
	s.invalidateStock(ctx, result.Items)
	if err != nil {
		return domain.Order{}, err
	}
	s.afterTransition(result)
	return result, nil
}

// ShipOrder списывает товар по всем позициям, пишет движения и переводит заказ в SHIPPED.
func (s *Service) ShipOrder(ctx context.Context, organizationID, orderID, tracking, actor string) (domain.Order, error) {
	var (
		result    domain.Order
		movements []domain.StockMovement
	)
	err := s.runner.Run(ctx, "orders.ship", func(ctx context.Context, uow domain.UnitOfWork) error {
		movements = movements[:0]
		now := s.now()
		order, err := loadOrder(ctx, uow, organizationID, orderID)
		if err != nil {
			return err
		}
		if err := order.EnsureShippable(); err != nil {
			return err
		}

		for _, line := range groupByProduct(order.Items) {
			item, err := uow.Inventory().GetForUpdate(ctx, line.productID)
			if err != nil {
				return err
			}
			movement, err := item.SellStock(line.quantity, order.ID, actor, now)
			if err != nil {
				return err
			}
			if err := saveItem(ctx, uow, &item); err != nil {
				return err
			}
			if err := uow.Movements().Append(ctx, movement); err != nil {
				return err
			}
			if err := outbox.Enqueue(ctx, uow.Outbox(), domain.AggregateInventory, item.ID,
				domain.EventStockMovement, outbox.NewStockMovementEvent(item, movement), now); err != nil {
				return err
			}
			movements = append(movements, movement)
		}

		if err := order.Ship(tracking, now); err != nil {
			return err
		}
		if err := saveOrder(ctx, uow, &order); err != nil {
			return err
		}
		if err := s.emitOrder(ctx, uow, domain.EventOrderShipped, order, func(e *outbox.OrderEvent) {
			e.Tracking = tracking
		}); err != nil {
			return err
		}
		result = order
		return nil
	})
	s.invalidateStock(ctx, result.Items)
	if err != nil {
		return domain.Order{}, err
	}
	for _, m := range movements {
		s.metrics.RecordStockMovement(string(m.Type))
	}
	s.afterTransition(result)
	return result, nil
}

func (s *Service) transition(ctx context.Context, operation, organizationID, orderID, event string, apply func(*domain.Order) error) (domain.Order, error) {
	var result domain.Order
	err := s.runner.Run(ctx, operation, func(ctx context.Context, uow domain.UnitOfWork) error {
		order, err := loadOrder(ctx, uow, organizationID, orderID)
		if err != nil {
			return err
		}
		if err := apply(&order); err != nil {
			return err
		}
		if err := saveOrder(ctx, uow, &order); err != nil {
			return err
		}
		if err := s.emitOrder(ctx, uow, event, order, nil); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.afterTransition(result)
	return result, nil
}

func (s *Service) afterTransition(order domain.Order) {
	s.metrics.RecordOrderTransition(string(order.Status))
	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
		"status":       order.Status,
	}).Info("order status changed")
}

// releaseReservations снимает резервы позиций, блокируя строки склада в порядке идентификаторов.
// Удалённые со склада позиции пропускаются.
func (s *Service) releaseReservations(ctx context.Context, uow domain.UnitOfWork, orderID string, items []domain.OrderItem) error {
	now := s.now()
	for _, line := range groupByProduct(items) {
		item, err := uow.Inventory().GetForUpdate(ctx, line.productID)
		if errors.Is(err, domain.ErrInventoryItemNotFound) {
			s.logger.WithFields(log.Fields{
				"order_id":   orderID,
				"product_id": line.productID,
			}).Warn("inventory item not found while releasing reservation, skipping")
			continue
		}
		if err != nil {
			return err
		}
		if err := item.ReleaseReservation(line.quantity, now); err != nil {
			return err
		}
		if err := saveItem(ctx, uow, &item); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) emitOrder(ctx context.Context, uow domain.UnitOfWork, event string, order domain.Order, decorate func(*outbox.OrderEvent)) error {
	data := outbox.NewOrderEvent(order)
	if decorate != nil {
		decorate(&data)
	}
	return outbox.Enqueue(ctx, uow.Outbox(), domain.AggregateOrder, order.ID, event, data, order.UpdatedAt)
}

type productQuantity struct {
	productID string
	quantity  int
}

// groupByProduct суммирует количества по товару и сортирует по идентификатору,
// чтобы конкурентные транзакции блокировали строки в одном порядке.
func groupByProduct(items []domain.OrderItem) []productQuantity {
	totals := make(map[string]int, len(items))
	for _, it := range items {
		totals[it.ProductID] += it.Quantity
	}
	out := make([]productQuantity, 0, len(totals))
	for id, qty := range totals {
		out = append(out, productQuantity{productID: id, quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].productID < out[j].productID })
	return out
}

func saveOrder(ctx context.Context, uow domain.UnitOfWork, order *domain.Order) error {
	if err := uow.Orders().Save(ctx, *order); err != nil {
		return err
	}
	order.Version++
	return nil
}

func saveItem(ctx context.Context, uow domain.UnitOfWork, item *domain.InventoryItem) error {
	if err := uow.Inventory().Save(ctx, *item); err != nil {
		return err
	}
	item.Version++
	return nil
}
