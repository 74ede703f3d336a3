package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, handler http.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewCriticalChecker("postgres", ok))

	w := serve(t, handler.ServeHTTP, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	var response Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, StatusHealthy, response.Status)
	assert.Equal(t, "v1.0.0", response.Version)
	assert.Len(t, response.Checks, 1)
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewCriticalChecker("postgres", failing("connection refused")))

	w := serve(t, handler.ServeHTTP, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, StatusUnhealthy, response.Status)
	assert.Equal(t, "connection refused", response.Checks["postgres"].Message)
}

func TestHealthHandler_OptionalDependencyDegrades(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("postgres", NewCriticalChecker("postgres", ok))
	handler.RegisterChecker("redis", NewOptionalChecker("redis", failing("i/o timeout")))

	status, checks := handler.Run(context.Background())
	assert.Equal(t, StatusDegraded, status)
	assert.Equal(t, StatusDegraded, checks["redis"].Status)

	assert.Equal(t, http.StatusOK, serve(t, handler.ServeHTTP, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(t, handler.ReadinessHandler, "/readyz").Code)
}

func TestLivenessHandler(t *testing.T) {
	w := serve(t, LivenessHandler, "/livez")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewCriticalChecker("postgres", ok))

	w := serve(t, handler.ReadinessHandler, "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", w.Body.String())
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewCriticalChecker("postgres", failing("down")))

	w := serve(t, handler.ReadinessHandler, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not ready", w.Body.String())
}

func TestPingChecker_ReceivesDeadline(t *testing.T) {
	handler := NewHandler("v1.0.0")
	var hadDeadline bool
	handler.RegisterChecker("kafka", NewOptionalChecker("kafka", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}))

	status, _ := handler.Run(context.Background())
	assert.Equal(t, StatusHealthy, status)
	assert.True(t, hadDeadline)
	assert.Equal(t, []string{"kafka"}, handler.Names())
}
