package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vladislavdragonenkov/erp/internal/auth"
	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/service/inventory"
	"github.com/vladislavdragonenkov/erp/internal/service/orders"
	"github.com/vladislavdragonenkov/erp/internal/service/txn"
	"github.com/vladislavdragonenkov/erp/internal/service/users"
	"github.com/vladislavdragonenkov/erp/internal/storage/memory"
	"github.com/vladislavdragonenkov/erp/internal/transport/httpapi"
)

const testOrg = "org-1"

type apiFixture struct {
	t       *testing.T
	store   *memory.Store
	users   *users.Service
	handler http.Handler
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	entry := log.NewEntry(logger)

	store := memory.NewStore()
	runner := txn.NewRunner(store, txn.DefaultRetryConfig(), nil, entry)
	invSvc := inventory.NewService(runner, store.Inventory(), store.Movements(), inventory.WithLogger(entry))
	orderSvc := orders.NewService(runner, store.Orders(), memory.NewOrderNumberAllocator(),
		orders.WithLogger(entry),
		orders.WithStockInvalidator(invSvc),
	)
	userSvc := users.NewService(store.Users(), users.WithLogger(entry), users.WithBcryptCost(bcrypt.MinCost))

	router := httpapi.NewRouter(httpapi.Dependencies{
		Orders:                orderSvc,
		Inventory:             invSvc,
		Users:                 userSvc,
		JWT:                   auth.NewJWTManager("test-secret", time.Minute, time.Hour, entry),
		Logger:                entry,
		DefaultOrganizationID: testOrg,
	})
	return &apiFixture{t: t, store: store, users: userSvc, handler: httpapi.NewHandler(router)}
}

func (f *apiFixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// login создаёт пользователя с ролью и возвращает access-токен.
func (f *apiFixture) login(email string, role domain.UserRole) string {
	f.t.Helper()
	_, err := f.users.Register(context.Background(), users.RegisterInput{
		OrganizationID: testOrg,
		Email:          email,
		Password:       "correct-horse",
		Role:           role,
	})
	require.NoError(f.t, err)

	rec := f.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": email, "password": "correct-horse"})
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[map[string]any](f.t, rec)["access_token"].(string)
}

func TestOrderFlowEndToEnd(t *testing.T) {
	f := newAPI(t)
	token := f.login("ops@example.com", domain.RoleOperator)

	rec := f.do(http.MethodPost, "/api/v1/inventory", token, map[string]any{
		"sku": "SKU-1", "name": "Widget", "selling_price": "12.50", "cost_price": "5", "quantity": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decode[map[string]any](t, rec)
	itemID := item["id"].(string)
	assert.Equal(t, "12.50", item["selling_price"])

	rec = f.do(http.MethodPost, "/api/v1/orders", token, map[string]any{"customer_id": "cust-1", "shipping_cost": "5"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[map[string]any](t, rec)
	orderID := order["id"].(string)
	assert.Equal(t, "draft", order["status"])
	assert.Regexp(t, `^ORD-\d{8}-00001$`, order["number"])

	rec = f.do(http.MethodPost, "/api/v1/orders/"+orderID+"/items", token, map[string]any{"product_id": itemID, "quantity": 4})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/v1/inventory/"+itemID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	item = decode[map[string]any](t, rec)
	assert.EqualValues(t, 4, item["quantity_reserved"])
	assert.EqualValues(t, 6, item["quantity_available"])

	for _, step := range []string{"submit", "confirm", "process"} {
		rec = f.do(http.MethodPost, "/api/v1/orders/"+orderID+"/"+step, token, nil)
		require.Equal(t, http.StatusOK, rec.Code, step+": "+rec.Body.String())
	}
	rec = f.do(http.MethodPost, "/api/v1/orders/"+orderID+"/ship", token, map[string]string{"tracking_number": "TRK-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "shipped", decode[map[string]any](t, rec)["status"])

	rec = f.do(http.MethodGet, "/api/v1/orders/"+orderID+"/summary", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[map[string]any](t, rec)
	assert.Equal(t, "55.00", summary["grand_total"])
	assert.EqualValues(t, 4, summary["item_count"])

	rec = f.do(http.MethodGet, "/api/v1/inventory/"+itemID, token, nil)
	item = decode[map[string]any](t, rec)
	assert.EqualValues(t, 6, item["quantity_on_hand"])
	assert.EqualValues(t, 0, item["quantity_reserved"])

	rec = f.do(http.MethodGet, "/api/v1/inventory/"+itemID+"/movements", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	movements := decode[map[string][]map[string]any](t, rec)["items"]
	require.Len(t, movements, 1)
	assert.Equal(t, "sale", movements[0]["movement_type"])
}

func TestErrorMapping(t *testing.T) {
	f := newAPI(t)
	token := f.login("ops@example.com", domain.RoleOperator)

	rec := f.do(http.MethodPost, "/api/v1/inventory", token, map[string]any{"sku": "SKU-1", "name": "Widget", "quantity": 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	itemID := decode[map[string]any](t, rec)["id"].(string)

	rec = f.do(http.MethodPost, "/api/v1/orders", token, map[string]any{"customer_id": "cust-1"})
	orderID := decode[map[string]any](t, rec)["id"].(string)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"insufficient stock", http.MethodPost, "/api/v1/orders/" + orderID + "/items", map[string]any{"product_id": itemID, "quantity": 5}, http.StatusBadRequest, "insufficient_stock"},
		{"empty order submit", http.MethodPost, "/api/v1/orders/" + orderID + "/submit", nil, http.StatusBadRequest, "validation_error"},
		{"ship draft", http.MethodPost, "/api/v1/orders/" + orderID + "/ship", nil, http.StatusBadRequest, "invalid_transition"},
		{"unknown order", http.MethodGet, "/api/v1/orders/missing", nil, http.StatusNotFound, "not_found"},
		{"duplicate sku", http.MethodPost, "/api/v1/inventory", map[string]any{"sku": "SKU-1", "name": "Again"}, http.StatusConflict, "conflict"},
		{"malformed body", http.MethodPost, "/api/v1/orders", map[string]any{"customer_id": 42}, http.StatusBadRequest, "validation_error"},
		{"bad pagination", http.MethodGet, "/api/v1/orders?limit=-1", nil, http.StatusBadRequest, "validation_error"},
		{"unknown route", http.MethodGet, "/api/v1/nope", nil, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, token, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[httpapi.ErrorResponse](t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestAuthentication(t *testing.T) {
	f := newAPI(t)

	rec := f.do(http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/orders", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ghost@example.com", "password": "whatever-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "new@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	assert.Equal(t, "viewer", created["role"])
	assert.Equal(t, testOrg, created["organization_id"])

	rec = f.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "new@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)
	tokens := decode[map[string]any](t, rec)

	rec = f.do(http.MethodGet, "/api/v1/auth/me", tokens["access_token"].(string), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new@example.com", decode[map[string]any](t, rec)["email"])

	// refresh-токен не принимается вместо access.
	rec = f.do(http.MethodGet, "/api/v1/auth/me", tokens["refresh_token"].(string), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": tokens["refresh_token"].(string)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[map[string]any](t, rec)["access_token"])
}

func TestPermissions(t *testing.T) {
	f := newAPI(t)
	viewer := f.login("viewer@example.com", domain.RoleViewer)
	operator := f.login("ops@example.com", domain.RoleOperator)
	admin := f.login("admin@example.com", domain.RoleAdmin)

	rec := f.do(http.MethodGet, "/api/v1/orders", viewer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/orders", viewer, map[string]any{"customer_id": "cust-1"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "permission_denied", decode[httpapi.ErrorResponse](t, rec).Code)

	rec = f.do(http.MethodGet, "/api/v1/users", operator, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/users", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]map[string]any](t, rec)["items"]
	assert.Len(t, list, 3)

	var viewerID string
	for _, u := range list {
		if u["email"] == "viewer@example.com" {
			viewerID = u["id"].(string)
		}
	}
	require.NotEmpty(t, viewerID)

	rec = f.do(http.MethodPatch, "/api/v1/users/"+viewerID+"/role", admin, map[string]string{"role": "operator"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "operator", decode[map[string]any](t, rec)["role"])

	rec = f.do(http.MethodDelete, "/api/v1/users/"+viewerID, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Деактивация действует сразу, даже для уже выданного токена.
	rec = f.do(http.MethodGet, "/api/v1/orders", viewer, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	f := newAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set(httpapi.RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get(httpapi.RequestIDHeader))
	assert.Equal(t, "req-123", decode[httpapi.ErrorResponse](t, rec).RequestID)

	rec = f.do(http.MethodGet, "/api/v1/orders", "", nil)
	assert.NotEmpty(t, rec.Header().Get(httpapi.RequestIDHeader))
}
