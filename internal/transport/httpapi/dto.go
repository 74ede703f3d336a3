package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/erp/internal/auth"
	"github.com/vladislavdragonenkov/erp/internal/domain"
)

// Запросы. Денежные поля принимаются и числом, и строкой.

type registerRequest struct {
	Email          string `json:"email" binding:"required"`
	Password       string `json:"password" binding:"required"`
	FullName       string `json:"full_name"`
	OrganizationID string `json:"organization_id"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type changeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

type createInventoryRequest struct {
	SKU             string          `json:"sku" binding:"required"`
	Name            string          `json:"name" binding:"required"`
	Description     string          `json:"description"`
	Barcode         string          `json:"barcode"`
	Category        string          `json:"category"`
	Brand           string          `json:"brand"`
	Tags            []string        `json:"tags"`
	Unit            string          `json:"unit"`
	Currency        string          `json:"currency"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	SellingPrice    decimal.Decimal `json:"selling_price"`
	Quantity        int             `json:"quantity" binding:"min=0"`
	ReorderPoint    *int            `json:"reorder_point"`
	ReorderQuantity *int            `json:"reorder_quantity"`
}

type updateInventoryRequest struct {
	Name            *string          `json:"name"`
	Description     *string          `json:"description"`
	Barcode         *string          `json:"barcode"`
	Category        *string          `json:"category"`
	Brand           *string          `json:"brand"`
	Tags            []string         `json:"tags"`
	CostPrice       *decimal.Decimal `json:"cost_price"`
	SellingPrice    *decimal.Decimal `json:"selling_price"`
	ReorderPoint    *int             `json:"reorder_point"`
	ReorderQuantity *int             `json:"reorder_quantity"`
	IsActive        *bool            `json:"is_active"`
	IsTrackable     *bool            `json:"is_trackable"`
}

func (r updateInventoryRequest) toDomain() domain.InventoryUpdate {
	return domain.InventoryUpdate{
		Name:            r.Name,
		Description:     r.Description,
		Barcode:         r.Barcode,
		Category:        r.Category,
		Brand:           r.Brand,
		Tags:            r.Tags,
		CostPrice:       r.CostPrice,
		SellingPrice:    r.SellingPrice,
		ReorderPoint:    r.ReorderPoint,
		ReorderQuantity: r.ReorderQuantity,
		IsActive:        r.IsActive,
		IsTrackable:     r.IsTrackable,
	}
}

type adjustStockRequest struct {
	Quantity     int    `json:"quantity"`
	Reason       string `json:"reason" binding:"required"`
	MovementType string `json:"movement_type"`
}

type receiveStockRequest struct {
	Quantity  int    `json:"quantity"`
	Reference string `json:"reference"`
}

type createOrderRequest struct {
	CustomerID      string          `json:"customer_id" binding:"required"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email"`
	BillingAddress  domain.Address  `json:"billing_address"`
	ShippingAddress domain.Address  `json:"shipping_address"`
	Currency        string          `json:"currency"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	HandlingFee     decimal.Decimal `json:"handling_fee"`
	CustomerNotes   string          `json:"customer_notes"`
}

type addItemRequest struct {
	ProductID       string           `json:"product_id" binding:"required"`
	Quantity        int              `json:"quantity"`
	UnitPrice       *decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	TaxPercent      decimal.Decimal  `json:"tax_percent"`
	Notes           string           `json:"notes"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type shipOrderRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

// Ответы.

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func newTokenResponse(pair auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(pair.AccessExpiresAt).Seconds()),
	}
}

type userResponse struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Email          string          `json:"email"`
	FullName       string          `json:"full_name"`
	Role           domain.UserRole `json:"role"`
	IsActive       bool            `json:"is_active"`
	LastLoginAt    *time.Time      `json:"last_login_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func newUserResponse(u domain.User) userResponse {
	return userResponse{
		ID:             u.ID,
		OrganizationID: u.OrganizationID,
		Email:          u.Email,
		FullName:       u.FullName,
		Role:           u.Role,
		IsActive:       u.IsActive,
		LastLoginAt:    u.LastLoginAt,
		CreatedAt:      u.CreatedAt,
	}
}

type inventoryResponse struct {
	ID                string    `json:"id"`
	OrganizationID    string    `json:"organization_id"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Barcode           string    `json:"barcode,omitempty"`
	Category          string    `json:"category,omitempty"`
	Brand             string    `json:"brand,omitempty"`
	Tags              []string  `json:"tags"`
	Unit              string    `json:"unit"`
	Currency          string    `json:"currency"`
	CostPrice         string    `json:"cost_price"`
	SellingPrice      string    `json:"selling_price"`
	QuantityOnHand    int       `json:"quantity_on_hand"`
	QuantityReserved  int       `json:"quantity_reserved"`
	QuantityAvailable int       `json:"quantity_available"`
	QuantityOnOrder   int       `json:"quantity_on_order"`
	ReorderPoint      int       `json:"reorder_point"`
	ReorderQuantity   int       `json:"reorder_quantity"`
	NeedsReorder      bool      `json:"needs_reorder"`
	ProfitMargin      string    `json:"profit_margin"`
	StockValue        string    `json:"stock_value"`
	IsActive          bool      `json:"is_active"`
	IsTrackable       bool      `json:"is_trackable"`
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func newInventoryResponse(i domain.InventoryItem) inventoryResponse {
	tags := i.Tags
	if tags == nil {
		tags = []string{}
	}
	return inventoryResponse{
		ID:                i.ID,
		OrganizationID:    i.OrganizationID,
		SKU:               i.SKU,
		Name:              i.Name,
		Description:       i.Description,
		Barcode:           i.Barcode,
		Category:          i.Category,
		Brand:             i.Brand,
		Tags:              tags,
		Unit:              i.Unit,
		Currency:          i.Currency,
		CostPrice:         i.CostPrice.StringFixed(2),
		SellingPrice:      i.SellingPrice.StringFixed(2),
		QuantityOnHand:    i.QuantityOnHand,
		QuantityReserved:  i.QuantityReserved,
		QuantityAvailable: i.QuantityAvailable(),
		QuantityOnOrder:   i.QuantityOnOrder,
		ReorderPoint:      i.ReorderPoint,
		ReorderQuantity:   i.ReorderQuantity,
		NeedsReorder:      i.NeedsReorder(),
		ProfitMargin:      i.ProfitMargin().StringFixed(2),
		StockValue:        i.StockValue().Amount.StringFixed(2),
		IsActive:          i.IsActive,
		IsTrackable:       i.IsTrackable,
		Version:           i.Version,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	}
}

type movementResponse struct {
	ID              string              `json:"id"`
	InventoryItemID string              `json:"inventory_item_id"`
	MovementType    domain.MovementType `json:"movement_type"`
	Quantity        int                 `json:"quantity"`
	QuantityAfter   int                 `json:"quantity_after"`
	Reference       string              `json:"reference,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	CreatedBy       string              `json:"created_by,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

func newMovementResponse(m domain.StockMovement) movementResponse {
	return movementResponse{
		ID:              m.ID,
		InventoryItemID: m.InventoryItemID,
		MovementType:    m.Type,
		Quantity:        m.Quantity,
		QuantityAfter:   m.QuantityAfter,
		Reference:       m.Reference,
		Notes:           m.Notes,
		CreatedBy:       m.CreatedBy,
		CreatedAt:       m.CreatedAt,
	}
}

type stockMutationResponse struct {
	Item     inventoryResponse `json:"item"`
	Movement movementResponse  `json:"movement"`
}

type orderItemResponse struct {
	ID              string    `json:"id"`
	ProductID       string    `json:"product_id"`
	ProductName     string    `json:"product_name"`
	SKU             string    `json:"sku"`
	Quantity        int       `json:"quantity"`
	UnitPrice       string    `json:"unit_price"`
	DiscountPercent string    `json:"discount_percent"`
	TaxPercent      string    `json:"tax_percent"`
	Subtotal        string    `json:"subtotal"`
	DiscountAmount  string    `json:"discount_amount"`
	TaxAmount       string    `json:"tax_amount"`
	Total           string    `json:"total"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	OrganizationID  string              `json:"organization_id"`
	Number          string              `json:"number"`
	CustomerID      string              `json:"customer_id"`
	CustomerName    string              `json:"customer_name,omitempty"`
	CustomerEmail   string              `json:"customer_email,omitempty"`
	BillingAddress  *domain.Address     `json:"billing_address,omitempty"`
	ShippingAddress *domain.Address     `json:"shipping_address,omitempty"`
	Status          domain.OrderStatus  `json:"status"`
	Currency        string              `json:"currency"`
	Items           []orderItemResponse `json:"items"`
	ShippingCost    string              `json:"shipping_cost"`
	HandlingFee     string              `json:"handling_fee"`
	Subtotal        string              `json:"subtotal"`
	TotalDiscount   string              `json:"total_discount"`
	TotalTax        string              `json:"total_tax"`
	GrandTotal      string              `json:"grand_total"`
	ItemCount       int                 `json:"item_count"`
	CustomerNotes   string              `json:"customer_notes,omitempty"`
	InternalNotes   string              `json:"internal_notes,omitempty"`
	CreatedBy       string              `json:"created_by,omitempty"`
	Version         int64               `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	ConfirmedAt     *time.Time          `json:"confirmed_at,omitempty"`
	ShippedAt       *time.Time          `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time          `json:"delivered_at,omitempty"`
}

func newOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ID:              it.ID,
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			SKU:             it.SKU,
			Quantity:        it.Quantity,
			UnitPrice:       unitPriceString(it.UnitPrice),
			DiscountPercent: it.DiscountPercent.String(),
			TaxPercent:      it.TaxPercent.String(),
			Subtotal:        it.Subtotal().StringFixed(2),
			DiscountAmount:  it.DiscountAmount().StringFixed(2),
			TaxAmount:       it.TaxAmount().StringFixed(2),
			Total:           it.Total().StringFixed(2),
			Notes:           it.Notes,
			CreatedAt:       it.CreatedAt,
		})
	}
	resp := orderResponse{
		ID:             o.ID,
		OrganizationID: o.OrganizationID,
		Number:         o.Number,
		CustomerID:     o.CustomerID,
		CustomerName:   o.CustomerName,
		CustomerEmail:  o.CustomerEmail,
		Status:         o.Status,
		Currency:       o.Currency,
		Items:          items,
		ShippingCost:   o.ShippingCost.StringFixed(2),
		HandlingFee:    o.HandlingFee.StringFixed(2),
		Subtotal:       o.Subtotal().Amount.StringFixed(2),
		TotalDiscount:  o.TotalDiscount().Amount.StringFixed(2),
		TotalTax:       o.TotalTax().Amount.StringFixed(2),
		GrandTotal:     o.GrandTotal().Amount.StringFixed(2),
		ItemCount:      o.ItemCount(),
		CustomerNotes:  o.CustomerNotes,
		InternalNotes:  o.InternalNotes,
		CreatedBy:      o.CreatedBy,
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		ConfirmedAt:    o.ConfirmedAt,
		ShippedAt:      o.ShippedAt,
		DeliveredAt:    o.DeliveredAt,
	}
	if !o.BillingAddress.IsZero() {
		addr := o.BillingAddress
		resp.BillingAddress = &addr
	}
	if !o.ShippingAddress.IsZero() {
		addr := o.ShippingAddress
		resp.ShippingAddress = &addr
	}
	return resp
}

type orderSummaryResponse struct {
	OrderID       string             `json:"order_id"`
	Number        string             `json:"number"`
	Status        domain.OrderStatus `json:"status"`
	Currency      string             `json:"currency"`
	LineCount     int                `json:"line_count"`
	ItemCount     int                `json:"item_count"`
	Subtotal      string             `json:"subtotal"`
	TotalDiscount string             `json:"total_discount"`
	TotalTax      string             `json:"total_tax"`
	ShippingCost  string             `json:"shipping_cost"`
	HandlingFee   string             `json:"handling_fee"`
	GrandTotal    string             `json:"grand_total"`
}

func newOrderSummaryResponse(s domain.OrderSummary) orderSummaryResponse {
	return orderSummaryResponse{
		OrderID:       s.OrderID,
		Number:        s.Number,
		Status:        s.Status,
		Currency:      s.Currency,
		LineCount:     s.LineCount,
		ItemCount:     s.ItemCount,
		Subtotal:      s.Subtotal.StringFixed(2),
		TotalDiscount: s.TotalDiscount.StringFixed(2),
		TotalTax:      s.TotalTax.StringFixed(2),
		ShippingCost:  s.ShippingCost.StringFixed(2),
		HandlingFee:   s.HandlingFee.StringFixed(2),
		GrandTotal:    s.GrandTotal.StringFixed(2),
	}
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

// unitPriceString показывает цену минимум с двумя знаками, не обрезая более точную.
func unitPriceString(v decimal.Decimal) string {
	if !v.Equal(v.Round(2)) {
		return v.String()
	}
	return v.StringFixed(2)
}
