// Package httpapi: REST API сервиса поверх gin.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/erp/internal/auth"
	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/service/inventory"
	"github.com/vladislavdragonenkov/erp/internal/service/orders"
	"github.com/vladislavdragonenkov/erp/internal/service/users"
)

// Dependencies: сервисы и настройки, из которых собирается API.
type Dependencies struct {
	Orders    *orders.Service
	Inventory *inventory.Service
	Users     *users.Service
	JWT       *auth.JWTManager
	Logger    *log.Entry
	// Debug раскрывает текст внутренних ошибок в ответах.
	Debug          bool
	AllowedOrigins []string
	// DefaultOrganizationID используется при регистрации без явной организации.
	DefaultOrganizationID string
}

type handler struct {
	orders     *orders.Service
	inventory  *inventory.Service
	users      *users.Service
	jwt        *auth.JWTManager
	logger     *log.Entry
	debug      bool
	defaultOrg string
}

// NewRouter собирает gin.Engine со всеми маршрутами /api/v1.
func NewRouter(deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	h := &handler{
		orders:     deps.Orders,
		inventory:  deps.Inventory,
		users:      deps.Users,
		jwt:        deps.JWT,
		logger:     logger,
		debug:      deps.Debug,
		defaultOrg: deps.DefaultOrganizationID,
	}

	router := gin.New()
	router.Use(
		requestIDMiddleware(),
		h.recoveryMiddleware(),
		accessLogMiddleware(logger),
		spanMiddleware(),
		corsMiddleware(deps.AllowedOrigins),
	)
	router.NoRoute(func(c *gin.Context) {
		h.respondError(c, errRouteNotFound)
	})

	api := router.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.POST("/register", h.register)
	authGroup.POST("/login", h.login)
	authGroup.POST("/refresh", h.refresh)
	authGroup.GET("/me", h.authMiddleware(), h.me)

	secured := api.Group("", h.authMiddleware())
	read := h.requirePermission(domain.PermRead)
	write := h.requirePermission(domain.PermWrite)
	del := h.requirePermission(domain.PermDelete)
	manageUsers := h.requirePermission(domain.PermManageUsers)

	usersGroup := secured.Group("/users")
	usersGroup.GET("", manageUsers, h.listUsers)
	usersGroup.GET("/:id", manageUsers, h.getUser)
	usersGroup.PATCH("/:id/role", manageUsers, h.changeRole)
	usersGroup.DELETE("/:id", manageUsers, h.deactivateUser)

	inv := secured.Group("/inventory")
	inv.POST("", write, h.createInventoryItem)
	inv.GET("", read, h.listInventory)
	inv.GET("/low-stock", read, h.listLowStock)
	inv.GET("/:id", read, h.getInventoryItem)
	inv.PATCH("/:id", write, h.updateInventoryItem)
	inv.POST("/:id/adjust", write, h.adjustStock)
	inv.POST("/:id/receive", write, h.receiveStock)
	inv.GET("/:id/movements", read, h.listMovements)

	ord := secured.Group("/orders")
	ord.POST("", write, h.createOrder)
	ord.GET("", read, h.listOrders)
	ord.GET("/:id", read, h.getOrder)
	ord.GET("/:id/summary", read, h.orderSummary)
	ord.POST("/:id/items", write, h.addOrderItem)
	ord.DELETE("/:id/items/:itemId", del, h.removeOrderItem)
	ord.POST("/:id/submit", write, h.submitOrder)
	ord.POST("/:id/confirm", write, h.confirmOrder)
	ord.POST("/:id/process", write, h.processOrder)
	ord.POST("/:id/cancel", write, h.cancelOrder)
	ord.POST("/:id/ship", write, h.shipOrder)
	ord.POST("/:id/deliver", write, h.deliverOrder)

	return router
}

// NewHandler оборачивает роутер серверными спанами OpenTelemetry.
func NewHandler(router *gin.Engine) http.Handler {
	return otelhttp.NewHandler(router, "erp-http")
}
