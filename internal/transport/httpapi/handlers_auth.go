package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/erp/internal/auth"
	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/service/users"
)

// bindJSON разбирает обязательное тело запроса.
func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return badRequest(err.Error())
	}
	return nil
}

// bindOptionalJSON разбирает тело, если оно есть. Пустое тело допустимо.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return badRequest(err.Error())
	}
	return nil
}

// pagination читает skip и limit из query-строки.
func pagination(c *gin.Context) (skip, limit int, err error) {
	if raw := c.Query("skip"); raw != "" {
		skip, err = strconv.Atoi(raw)
		if err != nil || skip < 0 {
			return 0, 0, badRequest("skip must be a non-negative integer")
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return 0, 0, badRequest("limit must be a non-negative integer")
		}
	}
	return skip, limit, nil
}

func (h *handler) register(c *gin.Context) {
	var req registerRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	org := req.OrganizationID
	if org == "" {
		org = h.defaultOrg
	}
	user, err := h.users.Register(c.Request.Context(), users.RegisterInput{
		OrganizationID: org,
		Email:          req.Email,
		Password:       req.Password,
		FullName:       req.FullName,
		Role:           domain.RoleViewer,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUserResponse(user))
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.issueTokens(c, user)
}

func (h *handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	claims, err := h.jwt.ValidateToken(req.RefreshToken, auth.TokenRefresh)
	if err != nil {
		h.respondError(c, err)
		return
	}
	user, err := h.users.Get(c.Request.Context(), claims.OrganizationID, claims.UserID())
	if err != nil {
		h.respondError(c, auth.ErrInvalidToken)
		return
	}
	if !user.IsActive {
		h.respondError(c, domain.ErrAccountInactive)
		return
	}
	h.issueTokens(c, user)
}

func (h *handler) issueTokens(c *gin.Context, user domain.User) {
	pair, err := h.jwt.GenerateTokenPair(user)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(pair))
}

func (h *handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, newUserResponse(mustUser(c)))
}
