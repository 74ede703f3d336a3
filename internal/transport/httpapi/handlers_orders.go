package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/service/orders"
)

func (h *handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	user := mustUser(c)
	order, err := h.orders.CreateOrder(c.Request.Context(), orders.CreateOrderInput{
		OrganizationID:  user.OrganizationID,
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		BillingAddress:  req.BillingAddress,
		ShippingAddress: req.ShippingAddress,
		Currency:        req.Currency,
		ShippingCost:    req.ShippingCost,
		HandlingFee:     req.HandlingFee,
		CustomerNotes:   req.CustomerNotes,
		CreatedBy:       user.ID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderResponse(order))
}

func (h *handler) listOrders(c *gin.Context) {
	skip, limit, err := pagination(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	filter := domain.OrderFilter{
		OrganizationID: mustUser(c).OrganizationID,
		Status:         domain.OrderStatus(c.Query("status")),
		CustomerID:     c.Query("customer_id"),
		Offset:         skip,
		Limit:          limit,
	}
	if filter.CreatedFrom, err = parseTimeQuery(c, "created_from"); err != nil {
		h.respondError(c, err)
		return
	}
	if filter.CreatedTo, err = parseTimeQuery(c, "created_to"); err != nil {
		h.respondError(c, err)
		return
	}

	list, err := h.orders.ListOrders(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	resp := listResponse[orderResponse]{Items: make([]orderResponse, 0, len(list)), Skip: skip, Limit: orders.ClampLimit(limit)}
	for _, o := range list {
		resp.Items = append(resp.Items, newOrderResponse(o))
	}
	c.JSON(http.StatusOK, resp)
}

func parseTimeQuery(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, badRequest(key + " must be an RFC3339 timestamp")
	}
	return t, nil
}

func (h *handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), mustUser(c).OrganizationID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *handler) orderSummary(c *gin.Context) {
	summary, err := h.orders.CalculateOrderSummary(c.Request.Context(), mustUser(c).OrganizationID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderSummaryResponse(summary))
}

func (h *handler) addOrderItem(c *gin.Context) {
	var req addItemRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	order, err := h.orders.AddItem(c.Request.Context(), orders.AddItemInput{
		OrganizationID:  mustUser(c).OrganizationID,
		OrderID:         c.Param("id"),
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		UnitPrice:       req.UnitPrice,
		DiscountPercent: req.DiscountPercent,
		TaxPercent:      req.TaxPercent,
		Notes:           req.Notes,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderResponse(order))
}

func (h *handler) removeOrderItem(c *gin.Context) {
	order, err := h.orders.RemoveItem(c.Request.Context(), mustUser(c).OrganizationID, c.Param("id"), c.Param("itemId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

type transitionFunc func(ctx context.Context, organizationID, orderID string) (domain.Order, error)

// runTransition обслуживает переходы статуса без тела запроса.
func (h *handler) runTransition(c *gin.Context, fn transitionFunc) {
	order, err := fn(c.Request.Context(), mustUser(c).OrganizationID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *handler) submitOrder(c *gin.Context)  { h.runTransition(c, h.orders.SubmitOrder) }
func (h *handler) confirmOrder(c *gin.Context) { h.runTransition(c, h.orders.ConfirmOrder) }
func (h *handler) processOrder(c *gin.Context) { h.runTransition(c, h.orders.StartProcessing) }
func (h *handler) deliverOrder(c *gin.Context) { h.runTransition(c, h.orders.DeliverOrder) }

func (h *handler) cancelOrder(c *gin.Context) {
	var req cancelOrderRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	order, err := h.orders.CancelOrder(c.Request.Context(), mustUser(c).OrganizationID, c.Param("id"), req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *handler) shipOrder(c *gin.Context) {
	var req shipOrderRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	user := mustUser(c)
	order, err := h.orders.ShipOrder(c.Request.Context(), user.OrganizationID, c.Param("id"), req.TrackingNumber, user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}
