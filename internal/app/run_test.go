package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = fmt.Sprintf("127.0.0.1:%d", findFreePort(t))
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = fmt.Sprintf("127.0.0.1:%d", findFreePort(t))
	cfg.OutboxPollInterval = 10 * time.Millisecond
	return cfg
}

func TestRun_MemoryServesAPIAndShutsDown(t *testing.T) {
	cfg := testRunConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	code, body := getBody(t, fmt.Sprintf("http://%s/api/v1/orders", cfg.HTTPAddr))
	assert.Equal(t, 401, code)
	assert.Contains(t, body, "unauthenticated")

	code, _ = getBody(t, fmt.Sprintf("http://%s/readyz", cfg.MetricsAddr))
	assert.Equal(t, 200, code)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "unexpected error: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := testRunConfig(t)
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	require.ErrorContains(t, err, "unsupported storage driver")
}

func TestRun_UnreachableKafkaFailsStartup(t *testing.T) {
	cfg := testRunConfig(t)
	cfg.KafkaBrokers = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := Run(ctx, cfg)
	require.ErrorContains(t, err, "init kafka producer")
}

func TestRun_ProductionRequiresJWTSecret(t *testing.T) {
	cfg := testRunConfig(t)
	cfg.Environment = "production"

	err := Run(context.Background(), cfg)
	require.ErrorContains(t, err, "ERP_JWT_SECRET")
}
