package domain

import (
	"time"

	"github.com/google/uuid"
)

// MovementType описывает причину изменения складского остатка.
type MovementType string

const (
	MovementPurchase   MovementType = "purchase"
	MovementSale       MovementType = "sale"
	MovementAdjustment MovementType = "adjustment"
	MovementTransfer   MovementType = "transfer"
	MovementReturn     MovementType = "return"
	MovementDamage     MovementType = "damage"
	MovementExpired    MovementType = "expired"
)

// IsValid проверяет, что тип движения известен.
func (t MovementType) IsValid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementAdjustment, MovementTransfer,
		MovementReturn, MovementDamage, MovementExpired:
		return true
	default:
		return false
	}
}

// StockMovement: неизменяемая запись журнала складских движений.
// Quantity знаковое: положительное значение увеличивает остаток, отрицательное уменьшает.
type StockMovement struct {
	ID              string
	InventoryItemID string
	Type            MovementType
	Quantity        int
	// QuantityAfter: остаток на руках после движения.
	QuantityAfter int
	Reference     string
	Notes         string
	CreatedBy     string
	CreatedAt     time.Time
}

func newStockMovement(itemID string, typ MovementType, qty, after int, reference, actor string, at time.Time) StockMovement {
	return StockMovement{
		ID:              uuid.NewString(),
		InventoryItemID: itemID,
		Type:            typ,
		Quantity:        qty,
		QuantityAfter:   after,
		Reference:       reference,
		CreatedBy:       actor,
		CreatedAt:       at,
	}
}
