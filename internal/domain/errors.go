package domain

import (
	"errors"
	"fmt"
)

// Базовые виды ошибок. Транспортный слой сопоставляет HTTP-статусы только с ними.
var (
	// ErrValidation: некорректные входные данные (клиентская ошибка).
	ErrValidation = errors.New("validation error")
	// ErrNotFound: запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition: нарушен граф переходов статусов.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInsufficientStock: запрошено больше, чем доступно на складе.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrNegativeStock: корректировка увела бы остаток ниже нуля.
	ErrNegativeStock = errors.New("negative stock")
	// ErrPermissionDenied: у роли нет нужного права.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnauthenticated: запрос без валидных учётных данных.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrConflict: конфликт уникальности или конкурентной записи.
	ErrConflict = errors.New("conflict")
)

var (
	ErrInvalidQuantity       = fmt.Errorf("%w: quantity must be greater than zero", ErrValidation)
	ErrInvalidPrice          = fmt.Errorf("%w: price must be non-negative", ErrValidation)
	ErrInvalidDiscount       = fmt.Errorf("%w: discount percent must be within [0, 100]", ErrValidation)
	ErrInvalidTax            = fmt.Errorf("%w: tax percent must be non-negative", ErrValidation)
	ErrInvalidCurrency       = fmt.Errorf("%w: currency must be a 3-letter ISO code", ErrValidation)
	ErrCurrencyMismatch      = fmt.Errorf("%w: currency mismatch", ErrValidation)
	ErrDivisionByZero        = fmt.Errorf("%w: division by zero", ErrValidation)
	ErrInvalidEmail          = fmt.Errorf("%w: invalid email address", ErrValidation)
	ErrInvalidAddress        = fmt.Errorf("%w: invalid address", ErrValidation)
	ErrSKURequired           = fmt.Errorf("%w: sku is required", ErrValidation)
	ErrNameRequired          = fmt.Errorf("%w: name is required", ErrValidation)
	ErrOrganizationRequired  = fmt.Errorf("%w: organization_id is required", ErrValidation)
	ErrCustomerRequired      = fmt.Errorf("%w: customer_id is required", ErrValidation)
	ErrInvalidMovementType   = fmt.Errorf("%w: unknown stock movement type", ErrValidation)
	ErrInvalidRole           = fmt.Errorf("%w: unknown user role", ErrValidation)
	ErrWeakPassword          = fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	ErrNegativeAmount        = fmt.Errorf("%w: amount must be non-negative", ErrValidation)
	ErrEmptyOrder            = fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	ErrOrderNotFound         = fmt.Errorf("%w: order", ErrNotFound)
	ErrItemNotFound          = fmt.Errorf("%w: order item", ErrNotFound)
	ErrInventoryItemNotFound = fmt.Errorf("%w: inventory item", ErrNotFound)
	ErrUserNotFound          = fmt.Errorf("%w: user", ErrNotFound)
	ErrDuplicateSKU          = fmt.Errorf("%w: sku already exists", ErrConflict)
	ErrDuplicateEmail        = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrDuplicateOrderNumber  = fmt.Errorf("%w: order number already exists", ErrConflict)
	// ErrVersionConflict сигнализирует о конфликте версий или сериализации транзакции; операцию можно повторить.
	ErrVersionConflict = fmt.Errorf("%w: version", ErrConflict)
	// ErrInvalidCredentials не уточняет, что именно неверно: email или пароль.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrUnauthenticated)
	ErrAccountLocked      = fmt.Errorf("%w: account is temporarily locked", ErrUnauthenticated)
	ErrAccountInactive    = fmt.Errorf("%w: account is inactive", ErrUnauthenticated)
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsClientError сообщает, что ошибка вызвана запросом, а не сбоем системы.
func IsClientError(err error) bool {
	for _, kind := range []error{
		ErrValidation,
		ErrNotFound,
		ErrInvalidTransition,
		ErrInsufficientStock,
		ErrNegativeStock,
		ErrPermissionDenied,
		ErrUnauthenticated,
		ErrConflict,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
