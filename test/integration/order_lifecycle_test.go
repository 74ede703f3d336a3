package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/erp/internal/service/inventory"
	"github.com/vladislavdragonenkov/erp/internal/service/orders"
	"github.com/vladislavdragonenkov/erp/internal/service/outbox"
	"github.com/vladislavdragonenkov/erp/internal/service/txn"
	"github.com/vladislavdragonenkov/erp/internal/storage/memory"
)

const org = "org-integration"

// recordingProducer запоминает отправленные сообщения вместо брокера.
type recordingProducer struct {
	sarama.SyncProducer

	mu   sync.Mutex
	sent []*sarama.ProducerMessage
}

func (p *recordingProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return 0, int64(len(p.sent)), nil
}

func (p *recordingProducer) Close() error { return nil }

type published struct {
	topic     string
	key       string
	eventType string
}

func (p *recordingProducer) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]published, 0, len(p.sent))
	for _, msg := range p.sent {
		key, _ := msg.Key.Encode()
		rec := published{topic: msg.Topic, key: string(key)}
		for _, h := range msg.Headers {
			if string(h.Key) == kafka.HeaderEventType {
				rec.eventType = string(h.Value)
			}
		}
		out = append(out, rec)
	}
	return out
}

// OrderLifecycleTestSuite проверяет путь заказа от создания до доставки
// вместе с доставкой событий через outbox в Kafka.
type OrderLifecycleTestSuite struct {
	suite.Suite

	store     *memory.Store
	orders    *orders.Service
	inventory *inventory.Service
	worker    *outbox.Worker
	producer  *recordingProducer
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	base := log.New()
	base.SetLevel(log.WarnLevel)
	logger := base.WithField("component", "integration-test")

	s.store = memory.NewStore()
	runner := txn.NewRunner(s.store, txn.DefaultRetryConfig(), nil, logger)
	s.inventory = inventory.NewService(runner, s.store.Inventory(), s.store.Movements(), inventory.WithLogger(logger))
	s.orders = orders.NewService(runner, s.store.Orders(), memory.NewOrderNumberAllocator(),
		orders.WithLogger(logger),
		orders.WithStockInvalidator(s.inventory),
	)

	s.producer = &recordingProducer{}
	publisher := kafka.NewOutboxPublisher(kafka.NewProducerFromSync(s.producer, logger))
	s.worker = outbox.NewWorker(s.store.Outbox(), publisher,
		outbox.WithLogger(logger),
		outbox.WithBatchSize(500),
	)
}

func (s *OrderLifecycleTestSuite) newItem(sku string, onHand int) domain.InventoryItem {
	reorder := 1
	item, err := s.inventory.CreateItem(context.Background(), domain.NewInventoryItemInput{
		OrganizationID: org,
		SKU:            sku,
		Name:           "Item " + sku,
		CostPrice:      decimal.NewFromInt(4),
		SellingPrice:   decimal.RequireFromString("9.50"),
		QuantityOnHand: onHand,
		ReorderPoint:   &reorder,
	})
	s.Require().NoError(err)
	return item
}

func (s *OrderLifecycleTestSuite) newOrder(customer string) domain.Order {
	order, err := s.orders.CreateOrder(context.Background(), orders.CreateOrderInput{
		OrganizationID: org,
		CustomerID:     customer,
		CreatedBy:      "integration",
	})
	s.Require().NoError(err)
	return order
}

func (s *OrderLifecycleTestSuite) addItem(orderID, productID string, qty int) error {
	_, err := s.orders.AddItem(context.Background(), orders.AddItemInput{
		OrganizationID: org,
		OrderID:        orderID,
		ProductID:      productID,
		Quantity:       qty,
	})
	return err
}

func (s *OrderLifecycleTestSuite) stock(id string) domain.InventoryItem {
	item, err := s.inventory.GetItem(context.Background(), org, id)
	s.Require().NoError(err)
	return item
}

func (s *OrderLifecycleTestSuite) drain() []published {
	for s.worker.ProcessOnce(context.Background()) > 0 {
	}
	return s.producer.messages()
}

func (s *OrderLifecycleTestSuite) TestFullLifecycleDeliversOrderedEvents() {
	ctx := context.Background()
	item := s.newItem("SKU-FULL", 10)
	order := s.newOrder("cust-full")

	s.Require().NoError(s.addItem(order.ID, item.ID, 3))
	s.Require().Equal(3, s.stock(item.ID).QuantityReserved)

	steps := []func(context.Context, string, string) (domain.Order, error){
		s.orders.SubmitOrder,
		s.orders.ConfirmOrder,
		s.orders.StartProcessing,
	}
	for _, step := range steps {
		_, err := step(ctx, org, order.ID)
		s.Require().NoError(err)
	}
	_, err := s.orders.ShipOrder(ctx, org, order.ID, "TRACK-1", "integration")
	s.Require().NoError(err)
	delivered, err := s.orders.DeliverOrder(ctx, org, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusDelivered, delivered.Status)

	after := s.stock(item.ID)
	s.Equal(7, after.QuantityOnHand)
	s.Equal(0, after.QuantityReserved)

	var orderEvents []string
	for _, msg := range s.drain() {
		switch msg.topic {
		case kafka.TopicOrderEvents:
			s.Equal(order.ID, msg.key)
			orderEvents = append(orderEvents, msg.eventType)
		case kafka.TopicInventoryEvents:
			s.Equal(item.ID, msg.key)
		default:
			s.Failf("unexpected topic", "topic %s", msg.topic)
		}
	}
	s.Equal([]string{
		domain.EventOrderCreated,
		domain.EventOrderItemAdded,
		domain.EventOrderSubmitted,
		domain.EventOrderConfirmed,
		domain.EventOrderProcessing,
		domain.EventOrderShipped,
		domain.EventOrderDelivered,
	}, orderEvents)

	stats, err := s.store.Outbox().Stats(ctx)
	s.Require().NoError(err)
	s.Zero(stats.PendingCount)
}

func (s *OrderLifecycleTestSuite) TestCancelReleasesReservation() {
	ctx := context.Background()
	item := s.newItem("SKU-CANCEL", 5)
	order := s.newOrder("cust-cancel")

	s.Require().NoError(s.addItem(order.ID, item.ID, 5))
	reserved := s.stock(item.ID)
	s.Equal(0, reserved.QuantityAvailable())

	_, err := s.orders.SubmitOrder(ctx, org, order.ID)
	s.Require().NoError(err)
	cancelled, err := s.orders.CancelOrder(ctx, org, order.ID, "customer request")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, cancelled.Status)

	after := s.stock(item.ID)
	s.Equal(5, after.QuantityOnHand)
	s.Equal(0, after.QuantityReserved)

	var last string
	for _, msg := range s.drain() {
		if msg.topic == kafka.TopicOrderEvents {
			last = msg.eventType
		}
	}
	s.Equal(domain.EventOrderCancelled, last)
}

func (s *OrderLifecycleTestSuite) TestConcurrentReservationsNeverOversell() {
	item := s.newItem("SKU-RACE", 4)

	const buyers = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := range buyers {
		order := s.newOrder(fmt.Sprintf("cust-race-%d", i))
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			err := s.addItem(orderID, item.ID, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected++
			default:
				s.T().Errorf("unexpected error: %v", err)
			}
		}(order.ID)
	}
	wg.Wait()

	s.Equal(4, accepted)
	s.Equal(buyers-4, rejected)

	after := s.stock(item.ID)
	s.Equal(4, after.QuantityReserved)
	s.LessOrEqual(after.QuantityReserved, after.QuantityOnHand)
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
