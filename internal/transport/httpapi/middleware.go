package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/erp/internal/auth"
	"github.com/vladislavdragonenkov/erp/internal/domain"
)

const (
	// RequestIDHeader: заголовок корреляции запросов.
	RequestIDHeader = "X-Request-ID"

	ctxRequestID = "request_id"
	ctxUser      = "erp.user"
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

// accessLogMiddleware пишет одну строку на запрос после его обработки.
func accessLogMiddleware(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := log.Fields{
			"request_id": requestID(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"route":      c.FullPath(),
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		}
		if user, ok := currentUser(c); ok {
			fields["user_id"] = user.ID
		}
		entry := logger.WithFields(fields)
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("http request")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("http request")
		default:
			entry.Info("http request")
		}
	}
}

// spanMiddleware называет серверный спан по шаблону маршрута и добавляет атрибуты запроса.
func spanMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}
		if route := c.FullPath(); route != "" {
			span.SetName(c.Request.Method + " " + route)
		}
		span.SetAttributes(attribute.String("erp.request_id", requestID(c)))
		if user, ok := currentUser(c); ok {
			span.SetAttributes(
				attribute.String("erp.user_id", user.ID),
				attribute.String("erp.organization_id", user.OrganizationID),
			)
		}
	}
}

func (h *handler) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		h.respondError(c, fmt.Errorf("panic: %v", recovered))
	})
}

// corsMiddleware разрешает кросс-доменные запросы только из списка origins; "*" разрешает все.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := false
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok || allowAll {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, "+RequestIDHeader)
				c.Header("Access-Control-Expose-Headers", RequestIDHeader)
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authMiddleware проверяет Bearer-токен и загружает актуального пользователя.
func (h *handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			h.respondError(c, fmt.Errorf("%w: missing authorization header", domain.ErrUnauthenticated))
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			h.respondError(c, fmt.Errorf("%w: expected Bearer <token>", domain.ErrUnauthenticated))
			return
		}

		claims, err := h.jwt.ValidateToken(parts[1], auth.TokenAccess)
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
		c.Set(ctxUser, user)
		c.Next()
	}
}

// requirePermission пропускает запрос, только если у роли есть право p.
func (h *handler) requirePermission(p domain.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			h.respondError(c, domain.ErrUnauthenticated)
			return
		}
		if !user.Can(p) {
			h.respondError(c, fmt.Errorf("%w: %s requires %s", domain.ErrPermissionDenied, user.Role, p))
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) (domain.User, bool) {
	v, ok := c.Get(ctxUser)
	if !ok {
		return domain.User{}, false
	}
	user, ok := v.(domain.User)
	return user, ok
}

// mustUser возвращает пользователя после authMiddleware.
func mustUser(c *gin.Context) domain.User {
	user, _ := currentUser(c)
	return user
}
