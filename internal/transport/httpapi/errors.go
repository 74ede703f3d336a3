package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

const internalErrorMessage = "internal server error"

var errRouteNotFound = fmt.Errorf("%w: route", domain.ErrNotFound)

// ErrorResponse: единый формат ошибок API.
type ErrorResponse struct {
	Code      string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Порядок важен: более конкретные ошибки проверяются раньше своих категорий.
var errorMappings = []errorMapping{
	{domain.ErrVersionConflict, http.StatusConflict, "version_conflict"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrInsufficientStock, http.StatusBadRequest, "insufficient_stock"},
	{domain.ErrNegativeStock, http.StatusBadRequest, "negative_stock"},
	{domain.ErrInvalidTransition, http.StatusBadRequest, "invalid_transition"},
	{domain.ErrValidation, http.StatusBadRequest, "validation_error"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{domain.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
}

// classify возвращает HTTP-статус и код ошибки.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// respondError пишет ошибку в ответ. Текст внутренних ошибок скрыт, если не включён debug.
func (h *handler) respondError(c *gin.Context, err error) {
	status, code := classify(err)
	message := err.Error()
	entry := h.logger.WithFields(log.Fields{
		"request_id": requestID(c),
		"method":     c.Request.Method,
		"path":       c.FullPath(),
		"status":     status,
	}).WithError(err)

	if status == http.StatusInternalServerError {
		entry.Error("request failed")
		if !h.debug {
			message = internalErrorMessage
		}
	} else {
		entry.Debug("request rejected")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: requestID(c),
	})
}

func badRequest(message string) error {
	return &requestError{message: message}
}

// requestError: ошибка разбора запроса, относится к валидации.
type requestError struct {
	message string
}

func (e *requestError) Error() string { return "invalid request: " + e.message }

func (e *requestError) Unwrap() error { return domain.ErrValidation }
