package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusDraft: черновик, позиции можно менять.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusPending: заказ отправлен на подтверждение.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed: заказ подтверждён, резервы удерживаются.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing: заказ собирается на складе.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped: товар списан со склада и передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered: заказ получен клиентом.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled: заказ отменён, резервы сняты.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded: деньги возвращены клиенту.
	OrderStatusRefunded OrderStatus = "refunded"
)

type statusCapability struct {
	modify   bool
	cancel   bool
	terminal bool
}

var statusCapabilities = map[OrderStatus]statusCapability{
	OrderStatusDraft:      {modify: true, cancel: true},
	OrderStatusPending:    {modify: true, cancel: true},
	OrderStatusConfirmed:  {cancel: true},
	OrderStatusProcessing: {cancel: true},
	OrderStatusShipped:    {},
	OrderStatusDelivered:  {terminal: true},
	OrderStatusCancelled:  {terminal: true},
	OrderStatusRefunded:   {terminal: true},
}

// IsValid проверяет, что статус известен.
func (s OrderStatus) IsValid() bool {
	_, ok := statusCapabilities[s]
	return ok
}

// CanModify: можно ли менять состав заказа.
func (s OrderStatus) CanModify() bool { return statusCapabilities[s].modify }

// CanCancel: можно ли отменить заказ.
func (s OrderStatus) CanCancel() bool { return statusCapabilities[s].cancel }

// IsTerminal: из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool { return statusCapabilities[s].terminal }

// OrderItem: позиция заказа. Название, SKU и цена фиксируются в момент добавления.
type OrderItem struct {
	ID              string
	ProductID       string
	ProductName     string
	SKU             string
	Quantity        int
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	TaxPercent      decimal.Decimal
	Notes           string
	CreatedAt       time.Time
}

// Validate проверяет количество, цену, скидку и налог позиции.
// Цена и проценты не длиннее itemScale знаков после запятой: столько хранит postgres.
func (it OrderItem) Validate() error {
	if err := ValidateQuantity(it.Quantity); err != nil {
		return err
	}
	if it.UnitPrice.IsNegative() || !fitsItemScale(it.UnitPrice) {
		return ErrInvalidPrice
	}
	if it.DiscountPercent.IsNegative() || it.DiscountPercent.GreaterThan(hundred) || !fitsItemScale(it.DiscountPercent) {
		return ErrInvalidDiscount
	}
	if it.TaxPercent.IsNegative() || !fitsItemScale(it.TaxPercent) {
		return ErrInvalidTax
	}
	return nil
}

const itemScale = 4

func fitsItemScale(v decimal.Decimal) bool {
	return v.Equal(v.Truncate(itemScale))
}

// Subtotal и производные суммы позиции точные; до копеек округляют Money и Summary.
func (it OrderItem) Subtotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

func (it OrderItem) DiscountAmount() decimal.Decimal {
	return it.Subtotal().Mul(it.DiscountPercent).Div(hundred)
}

func (it OrderItem) TaxableAmount() decimal.Decimal {
	return it.Subtotal().Sub(it.DiscountAmount())
}

func (it OrderItem) TaxAmount() decimal.Decimal {
	return it.TaxableAmount().Mul(it.TaxPercent).Div(hundred)
}

func (it OrderItem) Total() decimal.Decimal {
	return it.TaxableAmount().Add(it.TaxAmount())
}

// Order: агрегат заказа с позициями и вычисляемыми итогами.
type Order struct {
	ID              string
	OrganizationID  string
	Number          string
	CustomerID      string
	CustomerName    string
	CustomerEmail   string
	BillingAddress  Address
	ShippingAddress Address
	// Items хранится в порядке добавления: от него зависит отображение и порядок итогов.
	Items         []OrderItem
	Status        OrderStatus
	Currency      string
	ShippingCost  decimal.Decimal
	HandlingFee   decimal.Decimal
	CustomerNotes string
	InternalNotes string
	CreatedBy     string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ConfirmedAt   *time.Time
	ShippedAt     *time.Time
	DeliveredAt   *time.Time
}

// NewOrderInput: данные для создания черновика заказа.
type NewOrderInput struct {
	OrganizationID  string
	Number          string
	CustomerID      string
	CustomerName    string
	CustomerEmail   string
	BillingAddress  Address
	ShippingAddress Address
	Currency        string
	ShippingCost    decimal.Decimal
	HandlingFee     decimal.Decimal
	CustomerNotes   string
	CreatedBy       string
}

// NewOrder создаёт заказ в статусе DRAFT.
func NewOrder(in NewOrderInput, now time.Time) (Order, error) {
	if strings.TrimSpace(in.OrganizationID) == "" {
		return Order{}, ErrOrganizationRequired
	}
	if strings.TrimSpace(in.CustomerID) == "" {
		return Order{}, ErrCustomerRequired
	}
	currency, err := NormalizeCurrency(in.Currency)
	if err != nil {
		return Order{}, err
	}
	if in.ShippingCost.IsNegative() || in.HandlingFee.IsNegative() {
		return Order{}, ErrNegativeAmount
	}
	email := ""
	if strings.TrimSpace(in.CustomerEmail) != "" {
		if email, err = NormalizeEmail(in.CustomerEmail); err != nil {
			return Order{}, err
		}
	}
	if err := in.BillingAddress.Validate(); err != nil {
		return Order{}, err
	}
	if err := in.ShippingAddress.Validate(); err != nil {
		return Order{}, err
	}

	return Order{
		ID:              uuid.NewString(),
		OrganizationID:  in.OrganizationID,
		Number:          in.Number,
		CustomerID:      in.CustomerID,
		CustomerName:    strings.TrimSpace(in.CustomerName),
		CustomerEmail:   email,
		BillingAddress:  in.BillingAddress,
		ShippingAddress: in.ShippingAddress,
		Status:          OrderStatusDraft,
		Currency:        currency,
		ShippingCost:    RoundMoney(in.ShippingCost),
		HandlingFee:     RoundMoney(in.HandlingFee),
		CustomerNotes:   in.CustomerNotes,
		CreatedBy:       in.CreatedBy,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// FormatOrderNumber строит номер вида ORD-YYYYMMDD-00001.
func FormatOrderNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%s-%05d", at.UTC().Format("20060102"), seq)
}

// AddItem добавляет позицию в конец списка.
func (o *Order) AddItem(item OrderItem, now time.Time) (OrderItem, error) {
	if !o.Status.CanModify() {
		return OrderItem{}, fmt.Errorf("%w: cannot modify order in status %s", ErrInvalidTransition, o.Status)
	}
	if err := item.Validate(); err != nil {
		return OrderItem{}, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.CreatedAt = now
	o.Items = append(o.Items, item)
	o.UpdatedAt = now
	return item, nil
}

// RemoveItem удаляет позицию по идентификатору и возвращает её.
func (o *Order) RemoveItem(itemID string, now time.Time) (OrderItem, error) {
	if !o.Status.CanModify() {
		return OrderItem{}, fmt.Errorf("%w: cannot modify order in status %s", ErrInvalidTransition, o.Status)
	}
	for idx, it := range o.Items {
		if it.ID == itemID {
			o.Items = append(o.Items[:idx:idx], o.Items[idx+1:]...)
			o.UpdatedAt = now
			return it, nil
		}
	}
	return OrderItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
}

// FindItem ищет позицию по идентификатору.
func (o *Order) FindItem(itemID string) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.ID == itemID {
			return it, true
		}
	}
	return OrderItem{}, false
}

// Submit переводит DRAFT → PENDING.
func (o *Order) Submit(now time.Time) error {
	if err := o.requireStatus(OrderStatusPending, OrderStatusDraft); err != nil {
		return err
	}
	if len(o.Items) == 0 {
		return ErrEmptyOrder
	}
	o.Status = OrderStatusPending
	o.UpdatedAt = now
	return nil
}

// Confirm переводит PENDING → CONFIRMED и фиксирует время подтверждения.
func (o *Order) Confirm(now time.Time) error {
	if err := o.requireStatus(OrderStatusConfirmed, OrderStatusPending); err != nil {
		return err
	}
	if len(o.Items) == 0 {
		return ErrEmptyOrder
	}
	o.Status = OrderStatusConfirmed
	o.ConfirmedAt = timePtr(now)
	o.UpdatedAt = now
	return nil
}

// StartProcessing переводит CONFIRMED → PROCESSING.
func (o *Order) StartProcessing(now time.Time) error {
	if err := o.requireStatus(OrderStatusProcessing, OrderStatusConfirmed); err != nil {
		return err
	}
	o.Status = OrderStatusProcessing
	o.UpdatedAt = now
	return nil
}

// Cancel отменяет заказ из любого отменяемого статуса; причина дописывается во внутренние заметки.
func (o *Order) Cancel(reason string, now time.Time) error {
	if !o.Status.CanCancel() {
		return fmt.Errorf("%w: cannot cancel order in status %s", ErrInvalidTransition, o.Status)
	}
	o.Status = OrderStatusCancelled
	if reason = strings.TrimSpace(reason); reason != "" {
		o.appendInternalNote("Cancelled: " + reason)
	}
	o.UpdatedAt = now
	return nil
}

// Ship переводит CONFIRMED или PROCESSING → SHIPPED.
func (o *Order) Ship(tracking string, now time.Time) error {
	if err := o.requireStatus(OrderStatusShipped, OrderStatusConfirmed, OrderStatusProcessing); err != nil {
		return err
	}
	o.Status = OrderStatusShipped
	o.ShippedAt = timePtr(now)
	if tracking = strings.TrimSpace(tracking); tracking != "" {
		o.appendInternalNote("Tracking: " + tracking)
	}
	o.UpdatedAt = now
	return nil
}

// Deliver переводит SHIPPED → DELIVERED.
func (o *Order) Deliver(now time.Time) error {
	if err := o.requireStatus(OrderStatusDelivered, OrderStatusShipped); err != nil {
		return err
	}
	o.Status = OrderStatusDelivered
	o.DeliveredAt = timePtr(now)
	o.UpdatedAt = now
	return nil
}

// EnsureShippable проверяет переход в SHIPPED без изменения заказа.
func (o *Order) EnsureShippable() error {
	return o.requireStatus(OrderStatusShipped, OrderStatusConfirmed, OrderStatusProcessing)
}

// EnsureCancellable проверяет возможность отмены без изменения заказа.
func (o *Order) EnsureCancellable() error {
	if !o.Status.CanCancel() {
		return fmt.Errorf("%w: cannot cancel order in status %s", ErrInvalidTransition, o.Status)
	}
	return nil
}

// EnsureModifiable проверяет, что состав заказа можно менять.
func (o *Order) EnsureModifiable() error {
	if !o.Status.CanModify() {
		return fmt.Errorf("%w: cannot modify order in status %s", ErrInvalidTransition, o.Status)
	}
	return nil
}

func (o *Order) requireStatus(target OrderStatus, allowed ...OrderStatus) error {
	for _, s := range allowed {
		if o.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
}

func (o *Order) appendInternalNote(note string) {
	o.InternalNotes = strings.TrimSpace(o.InternalNotes + "\n" + note)
}

// Итоги всегда пересчитываются из текущих позиций и нигде не хранятся.

func (o *Order) Subtotal() Money {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Subtotal())
	}
	return NewMoney(sum, o.Currency)
}

func (o *Order) TotalDiscount() Money {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.DiscountAmount())
	}
	return NewMoney(sum, o.Currency)
}

func (o *Order) TotalTax() Money {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.TaxAmount())
	}
	return NewMoney(sum, o.Currency)
}

// GrandTotal: сумма итогов позиций плюс доставка и обработка.
func (o *Order) GrandTotal() Money {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Total())
	}
	return NewMoney(sum.Add(o.ShippingCost).Add(o.HandlingFee), o.Currency)
}

// ItemCount: суммарное количество единиц во всех позициях.
func (o *Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// OrderSummary: финансовая проекция заказа только для чтения.
type OrderSummary struct {
	OrderID       string
	Number        string
	Status        OrderStatus
	Currency      string
	LineCount     int
	ItemCount     int
	Subtotal      decimal.Decimal
	TotalDiscount decimal.Decimal
	TotalTax      decimal.Decimal
	ShippingCost  decimal.Decimal
	HandlingFee   decimal.Decimal
	GrandTotal    decimal.Decimal
}

// Summary собирает итоги заказа.
func (o *Order) Summary() OrderSummary {
	return OrderSummary{
		OrderID:       o.ID,
		Number:        o.Number,
		Status:        o.Status,
		Currency:      o.Currency,
		LineCount:     len(o.Items),
		ItemCount:     o.ItemCount(),
		Subtotal:      o.Subtotal().Amount,
		TotalDiscount: o.TotalDiscount().Amount,
		TotalTax:      o.TotalTax().Amount,
		ShippingCost:  o.ShippingCost,
		HandlingFee:   o.HandlingFee,
		GrandTotal:    o.GrandTotal().Amount,
	}
}

// Clone возвращает копию заказа, не разделяющую срез позиций.
func (o Order) Clone() Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	return o
}

func timePtr(t time.Time) *time.Time {
	return &t
}
