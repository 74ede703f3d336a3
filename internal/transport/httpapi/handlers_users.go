package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

func (h *handler) listUsers(c *gin.Context) {
	skip, limit, err := pagination(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	actor := mustUser(c)
	list, err := h.users.List(c.Request.Context(), actor.OrganizationID, skip, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	resp := listResponse[userResponse]{Items: make([]userResponse, 0, len(list)), Skip: skip, Limit: limit}
	for _, u := range list {
		resp.Items = append(resp.Items, newUserResponse(u))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) getUser(c *gin.Context) {
	actor := mustUser(c)
	user, err := h.users.Get(c.Request.Context(), actor.OrganizationID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}

func (h *handler) changeRole(c *gin.Context) {
	var req changeRoleRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	user, err := h.users.ChangeRole(c.Request.Context(), mustUser(c), c.Param("id"), role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}

func (h *handler) deactivateUser(c *gin.Context) {
	user, err := h.users.Deactivate(c.Request.Context(), mustUser(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}
