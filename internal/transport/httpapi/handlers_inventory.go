package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/service/inventory"
)

func (h *handler) createInventoryItem(c *gin.Context) {
	var req createInventoryRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	user := mustUser(c)
	item, err := h.inventory.CreateItem(c.Request.Context(), domain.NewInventoryItemInput{
		OrganizationID:  user.OrganizationID,
		SKU:             req.SKU,
		Name:            req.Name,
		Description:     req.Description,
		Barcode:         req.Barcode,
		Category:        req.Category,
		Brand:           req.Brand,
		Tags:            req.Tags,
		Unit:            req.Unit,
		Currency:        req.Currency,
		CostPrice:       req.CostPrice,
		SellingPrice:    req.SellingPrice,
		QuantityOnHand:  req.Quantity,
		ReorderPoint:    req.ReorderPoint,
		ReorderQuantity: req.ReorderQuantity,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newInventoryResponse(item))
}

func (h *handler) listInventory(c *gin.Context) {
	skip, limit, err := pagination(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	activeOnly := false
	if raw := c.Query("active"); raw != "" {
		activeOnly, err = strconv.ParseBool(raw)
		if err != nil {
			h.respondError(c, badRequest("active must be a boolean"))
			return
		}
	}
	items, err := h.inventory.ListItems(c.Request.Context(), domain.InventoryFilter{
		OrganizationID: mustUser(c).OrganizationID,
		Category:       c.Query("category"),
		Search:         c.Query("search"),
		ActiveOnly:     activeOnly,
		Offset:         skip,
		Limit:          limit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inventoryList(items, skip, limit))
}

func (h *handler) listLowStock(c *gin.Context) {
	items, err := h.inventory.ListLowStock(c.Request.Context(), mustUser(c).OrganizationID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inventoryList(items, 0, len(items)))
}

func inventoryList(items []domain.InventoryItem, skip, limit int) listResponse[inventoryResponse] {
	resp := listResponse[inventoryResponse]{Items: make([]inventoryResponse, 0, len(items)), Skip: skip, Limit: limit}
	for _, it := range items {
		resp.Items = append(resp.Items, newInventoryResponse(it))
	}
	return resp
}

func (h *handler) getInventoryItem(c *gin.Context) {
	item, err := h.inventory.GetItem(c.Request.Context(), mustUser(c).OrganizationID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInventoryResponse(item))
}

func (h *handler) updateInventoryItem(c *gin.Context) {
	var req updateInventoryRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	item, err := h.inventory.UpdateItem(c.Request.Context(), mustUser(c).OrganizationID, c.Param("id"), req.toDomain())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInventoryResponse(item))
}

func (h *handler) adjustStock(c *gin.Context) {
	var req adjustStockRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	typ := domain.MovementAdjustment
	if req.MovementType != "" {
		typ = domain.MovementType(req.MovementType)
	}
	user := mustUser(c)
	item, movement, err := h.inventory.AdjustStock(c.Request.Context(), inventory.AdjustStockInput{
		OrganizationID: user.OrganizationID,
		ItemID:         c.Param("id"),
		Quantity:       req.Quantity,
		Reason:         req.Reason,
		MovementType:   typ,
		Actor:          user.ID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stockMutationResponse{Item: newInventoryResponse(item), Movement: newMovementResponse(movement)})
}

func (h *handler) receiveStock(c *gin.Context) {
	var req receiveStockRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	user := mustUser(c)
	item, movement, err := h.inventory.ReceiveStock(c.Request.Context(), user.OrganizationID, c.Param("id"), req.Quantity, req.Reference, user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stockMutationResponse{Item: newInventoryResponse(item), Movement: newMovementResponse(movement)})
}

func (h *handler) listMovements(c *gin.Context) {
	_, limit, err := pagination(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	movements, err := h.inventory.ListMovements(c.Request.Context(), mustUser(c).OrganizationID, c.Param("id"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	resp := listResponse[movementResponse]{Items: make([]movementResponse, 0, len(movements)), Limit: limit}
	for _, m := range movements {
		resp.Items = append(resp.Items, newMovementResponse(m))
	}
	c.JSON(http.StatusOK, resp)
}
