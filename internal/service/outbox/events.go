package outbox

import (
	"github.com/vladislavdragonenkov/erp/internal/domain"
)

// OrderEvent: данные событий order.*.
type OrderEvent struct {
	OrderID        string             `json:"order_id"`
	OrganizationID string             `json:"organization_id"`
	Number         string             `json:"number"`
	CustomerID     string             `json:"customer_id"`
	Status         domain.OrderStatus `json:"status"`
	Currency       string             `json:"currency"`
	GrandTotal     string             `json:"grand_total"`
	ItemCount      int                `json:"item_count"`
	Item           *OrderItemEvent    `json:"item,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	Tracking       string             `json:"tracking,omitempty"`
}

// OrderItemEvent описывает позицию, добавленную или удалённую из заказа.
type OrderItemEvent struct {
	ItemID    string `json:"item_id"`
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// StockMovementEvent: данные события inventory.stock_movement.
type StockMovementEvent struct {
	MovementID      string              `json:"movement_id"`
	InventoryItemID string              `json:"inventory_item_id"`
	OrganizationID  string              `json:"organization_id"`
	SKU             string              `json:"sku"`
	Type            domain.MovementType `json:"movement_type"`
	Quantity        int                 `json:"quantity"`
	QuantityAfter   int                 `json:"quantity_after"`
	Reference       string              `json:"reference,omitempty"`
	CreatedBy       string              `json:"created_by,omitempty"`
}

// InventoryEvent: данные событий inventory.created, inventory.updated и inventory.low_stock.
type InventoryEvent struct {
	InventoryItemID   string `json:"inventory_item_id"`
	OrganizationID    string `json:"organization_id"`
	SKU               string `json:"sku"`
	QuantityOnHand    int    `json:"quantity_on_hand"`
	QuantityReserved  int    `json:"quantity_reserved"`
	QuantityAvailable int    `json:"quantity_available"`
	ReorderPoint      int    `json:"reorder_point"`
	ReorderQuantity   int    `json:"reorder_quantity"`
}

// NewOrderEvent собирает снимок заказа для события.
func NewOrderEvent(order domain.Order) OrderEvent {
	return OrderEvent{
		OrderID:        order.ID,
		OrganizationID: order.OrganizationID,
		Number:         order.Number,
		CustomerID:     order.CustomerID,
		Status:         order.Status,
		Currency:       order.Currency,
		GrandTotal:     order.GrandTotal().Amount.StringFixed(2),
		ItemCount:      order.ItemCount(),
	}
}

// NewOrderItemEvent описывает позицию заказа.
func NewOrderItemEvent(item domain.OrderItem) *OrderItemEvent {
	return &OrderItemEvent{
		ItemID:    item.ID,
		ProductID: item.ProductID,
		SKU:       item.SKU,
		Quantity:  item.Quantity,
		UnitPrice: item.UnitPrice.String(),
	}
}

// NewStockMovementEvent описывает движение по позиции item.
func NewStockMovementEvent(item domain.InventoryItem, m domain.StockMovement) StockMovementEvent {
	return StockMovementEvent{
		MovementID:      m.ID,
		InventoryItemID: item.ID,
		OrganizationID:  item.OrganizationID,
		SKU:             item.SKU,
		Type:            m.Type,
		Quantity:        m.Quantity,
		QuantityAfter:   m.QuantityAfter,
		Reference:       m.Reference,
		CreatedBy:       m.CreatedBy,
	}
}

// NewInventoryEvent собирает снимок остатков позиции.
func NewInventoryEvent(item domain.InventoryItem) InventoryEvent {
	return InventoryEvent{
		InventoryItemID:   item.ID,
		OrganizationID:    item.OrganizationID,
		SKU:               item.SKU,
		QuantityOnHand:    item.QuantityOnHand,
		QuantityReserved:  item.QuantityReserved,
		QuantityAvailable: item.QuantityAvailable(),
		ReorderPoint:      item.ReorderPoint,
		ReorderQuantity:   item.ReorderQuantity,
	}
}
