package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// DefaultReorderPoint: порог доступного остатка, при котором позиция считается низкой.
	DefaultReorderPoint = 10
	// DefaultReorderQuantity: рекомендуемый объём дозаказа.
	DefaultReorderQuantity = 50
	// DefaultUnit: единица измерения по умолчанию.
	DefaultUnit = "piece"
)

// InventoryItem: агрегат складской позиции организации.
type InventoryItem struct {
	ID             string
	OrganizationID string
	SKU            string
	Name           string
	Description    string
	Barcode        string
	Category       string
	Brand          string
	Tags           []string
	Unit           string
	Currency       string
	CostPrice      decimal.Decimal
	SellingPrice   decimal.Decimal
	// Счётчики остатков; резерв не может сделать доступный остаток отрицательным.
	QuantityOnHand   int
	QuantityReserved int
	QuantityOnOrder  int
	ReorderPoint     int
	ReorderQuantity  int
	IsActive         bool
	IsTrackable      bool
	// Version используется для optimistic locking в хранилищах.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewInventoryItemInput: данные для заведения новой позиции.
type NewInventoryItemInput struct {
	OrganizationID  string
	SKU             string
	Name            string
	Description     string
	Barcode         string
	Category        string
	Brand           string
	Tags            []string
	Unit            string
	Currency        string
	CostPrice       decimal.Decimal
	SellingPrice    decimal.Decimal
	QuantityOnHand  int
	ReorderPoint    *int
	ReorderQuantity *int
}

// NewInventoryItem валидирует вход и создаёт активную отслеживаемую позицию.
func NewInventoryItem(in NewInventoryItemInput, now time.Time) (InventoryItem, error) {
	if strings.TrimSpace(in.OrganizationID) == "" {
		return InventoryItem{}, ErrOrganizationRequired
	}
	sku := strings.TrimSpace(in.SKU)
	if sku == "" {
		return InventoryItem{}, ErrSKURequired
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return InventoryItem{}, ErrNameRequired
	}
	currency, err := NormalizeCurrency(in.Currency)
	if err != nil {
		return InventoryItem{}, err
	}
	if in.CostPrice.IsNegative() || in.SellingPrice.IsNegative() {
		return InventoryItem{}, ErrInvalidPrice
	}
	if in.QuantityOnHand < 0 {
		return InventoryItem{}, fmt.Errorf("%w: initial quantity must be non-negative", ErrValidation)
	}

	item := InventoryItem{
		ID:              uuid.NewString(),
		OrganizationID:  in.OrganizationID,
		SKU:             sku,
		Name:            name,
		Description:     in.Description,
		Barcode:         strings.TrimSpace(in.Barcode),
		Category:        in.Category,
		Brand:           in.Brand,
		Tags:            append([]string(nil), in.Tags...),
		Unit:            in.Unit,
		Currency:        currency,
		CostPrice:       RoundMoney(in.CostPrice),
		SellingPrice:    RoundMoney(in.SellingPrice),
		QuantityOnHand:  in.QuantityOnHand,
		ReorderPoint:    DefaultReorderPoint,
		ReorderQuantity: DefaultReorderQuantity,
		IsActive:        true,
		IsTrackable:     true,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if item.Unit == "" {
		item.Unit = DefaultUnit
	}
	if in.ReorderPoint != nil {
		item.ReorderPoint = *in.ReorderPoint
	}
	if in.ReorderQuantity != nil {
		item.ReorderQuantity = *in.ReorderQuantity
	}
	if item.ReorderPoint < 0 || item.ReorderQuantity < 0 {
		return InventoryItem{}, fmt.Errorf("%w: reorder settings must be non-negative", ErrValidation)
	}
	return item, nil
}

// QuantityAvailable возвращает свободный остаток, никогда не отрицательный.
func (i *InventoryItem) QuantityAvailable() int {
	if avail := i.QuantityOnHand - i.QuantityReserved; avail > 0 {
		return avail
	}
	return 0
}

// NeedsReorder сообщает, что доступный остаток опустился до точки дозаказа.
func (i *InventoryItem) NeedsReorder() bool {
	return i.QuantityAvailable() <= i.ReorderPoint
}

// ProfitMargin: наценка в процентах относительно себестоимости.
func (i *InventoryItem) ProfitMargin() decimal.Decimal {
	if i.CostPrice.IsZero() {
		return hundred
	}
	return RoundMoney(i.SellingPrice.Sub(i.CostPrice).Div(i.CostPrice).Mul(hundred))
}

// StockValue: стоимость остатка по себестоимости.
func (i *InventoryItem) StockValue() Money {
	return NewMoney(i.CostPrice.Mul(decimal.NewFromInt(int64(i.QuantityOnHand))), i.Currency)
}

// ReserveStock удерживает qty единиц под заказ orderRef.
func (i *InventoryItem) ReserveStock(qty int, orderRef string, now time.Time) error {
	if err := ValidateQuantity(qty); err != nil {
		return err
	}
	if avail := i.QuantityAvailable(); qty > avail {
		return fmt.Errorf("%w: sku %s available %d, requested %d (order %s)", ErrInsufficientStock, i.SKU, avail, qty, orderRef)
	}
	i.QuantityReserved += qty
	i.UpdatedAt = now
	return nil
}

// ReleaseReservation снимает резерв; лишнее количество игнорируется, резерв не уходит ниже нуля.
func (i *InventoryItem) ReleaseReservation(qty int, now time.Time) error {
	if err := ValidateQuantity(qty); err != nil {
		return err
	}
	i.QuantityReserved = clampZero(i.QuantityReserved - qty)
	i.UpdatedAt = now
	return nil
}

// SellStock списывает проданное количество и превращает резерв в фактическое списание.
func (i *InventoryItem) SellStock(qty int, orderRef, actor string, now time.Time) (StockMovement, error) {
	if err := ValidateQuantity(qty); err != nil {
		return StockMovement{}, err
	}
	if qty > i.QuantityOnHand {
		return StockMovement{}, fmt.Errorf("%w: sku %s on hand %d, requested %d", ErrInsufficientStock, i.SKU, i.QuantityOnHand, qty)
	}
	i.QuantityOnHand -= qty
	i.QuantityReserved = clampZero(i.QuantityReserved - qty)
	i.UpdatedAt = now
	return newStockMovement(i.ID, MovementSale, -qty, i.QuantityOnHand, orderRef, actor, now), nil
}

// ReceiveStock оприходует поставку.
func (i *InventoryItem) ReceiveStock(qty int, reference, actor string, now time.Time) (StockMovement, error) {
	if err := ValidateQuantity(qty); err != nil {
		return StockMovement{}, err
	}
	i.QuantityOnHand += qty
	i.UpdatedAt = now
	return newStockMovement(i.ID, MovementPurchase, qty, i.QuantityOnHand, reference, actor, now), nil
}

// AdjustStock применяет знаковую корректировку остатка. Пустой тип означает adjustment.
func (i *InventoryItem) AdjustStock(delta int, reason string, typ MovementType, actor string, now time.Time) (StockMovement, error) {
	if delta == 0 {
		return StockMovement{}, fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidQuantity)
	}
	if typ == "" {
		typ = MovementAdjustment
	}
	if !typ.IsValid() {
		return StockMovement{}, ErrInvalidMovementType
	}
	if i.QuantityOnHand+delta < 0 {
		return StockMovement{}, fmt.Errorf("%w: sku %s on hand %d, delta %d", ErrNegativeStock, i.SKU, i.QuantityOnHand, delta)
	}
	i.QuantityOnHand += delta
	i.UpdatedAt = now
	m := newStockMovement(i.ID, typ, delta, i.QuantityOnHand, reason, actor, now)
	m.Notes = reason
	return m, nil
}

// InventoryUpdate: частичное обновление карточки товара; nil означает «не менять».
type InventoryUpdate struct {
	Name            *string
	Description     *string
	Barcode         *string
	Category        *string
	Brand           *string
	Tags            []string
	CostPrice       *decimal.Decimal
	SellingPrice    *decimal.Decimal
	ReorderPoint    *int
	ReorderQuantity *int
	IsActive        *bool
	IsTrackable     *bool
}

// ApplyUpdate валидирует изменения целиком и применяет их только при успехе.
func (i *InventoryItem) ApplyUpdate(u InventoryUpdate, now time.Time) error {
	next := *i
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return ErrNameRequired
		}
		next.Name = name
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.Barcode != nil {
		next.Barcode = strings.TrimSpace(*u.Barcode)
	}
	if u.Category != nil {
		next.Category = *u.Category
	}
	if u.Brand != nil {
		next.Brand = *u.Brand
	}
	if u.Tags != nil {
		next.Tags = append([]string(nil), u.Tags...)
	}
	if u.CostPrice != nil {
		if u.CostPrice.IsNegative() {
			return ErrInvalidPrice
		}
		next.CostPrice = RoundMoney(*u.CostPrice)
	}
	if u.SellingPrice != nil {
		if u.SellingPrice.IsNegative() {
			return ErrInvalidPrice
		}
		next.SellingPrice = RoundMoney(*u.SellingPrice)
	}
	if u.ReorderPoint != nil {
		if *u.ReorderPoint < 0 {
			return fmt.Errorf("%w: reorder point must be non-negative", ErrValidation)
		}
		next.ReorderPoint = *u.ReorderPoint
	}
	if u.ReorderQuantity != nil {
		if *u.ReorderQuantity < 0 {
			return fmt.Errorf("%w: reorder quantity must be non-negative", ErrValidation)
		}
		next.ReorderQuantity = *u.ReorderQuantity
	}
	if u.IsActive != nil {
		next.IsActive = *u.IsActive
	}
	if u.IsTrackable != nil {
		next.IsTrackable = *u.IsTrackable
	}
	next.UpdatedAt = now
	*i = next
	return nil
}

func clampZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// Clone возвращает копию позиции, не разделяющую срез тегов.
func (i InventoryItem) Clone() InventoryItem {
	i.Tags = append([]string(nil), i.Tags...)
	return i
}
