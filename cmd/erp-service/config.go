package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/erp/internal/app"
)

type envLookup func(key string) (string, bool)

const (
	envHTTPAddr               = "ERP_HTTP_ADDR"
	envGRPCAddr               = "ERP_GRPC_ADDR"
	envMetricsAddr            = "ERP_METRICS_ADDR"
	envStorageDriver          = "ERP_STORAGE_DRIVER"
	envPostgresDSN            = "ERP_POSTGRES_DSN"
	envPostgresAutoMigrate    = "ERP_POSTGRES_AUTO_MIGRATE"
	envRedisAddr              = "ERP_REDIS_ADDR"
	envRedisPassword          = "ERP_REDIS_PASSWORD"
	envRedisDB                = "ERP_REDIS_DB"
	envRedisCacheTTL          = "ERP_REDIS_CACHE_TTL"
	envKafkaBrokers           = "KAFKA_BROKERS"
	envJWTSecret              = "ERP_JWT_SECRET"
	envAccessTokenTTL         = "ERP_ACCESS_TOKEN_TTL"
	envRefreshTokenTTL        = "ERP_REFRESH_TOKEN_TTL"
	envDebug                  = "ERP_DEBUG"
	envEnvironment            = "ERP_ENVIRONMENT"
	envLogLevel               = "ERP_LOG_LEVEL"
	envAllowedOrigins         = "ERP_ALLOWED_ORIGINS"
	envOTLPEndpoint           = "ERP_OTLP_ENDPOINT"
	envOTLPInsecure           = "ERP_OTLP_INSECURE"
	envOutboxPollInterval     = "ERP_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize        = "ERP_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts      = "ERP_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay       = "ERP_OUTBOX_RETRY_DELAY"
	envOutboxRetention        = "ERP_OUTBOX_RETENTION"
	envOutboxCleanupInterval  = "ERP_OUTBOX_CLEANUP_INTERVAL"
	envBootstrapAdminEmail    = "ERP_BOOTSTRAP_ADMIN_EMAIL"
	envBootstrapAdminPassword = "ERP_BOOTSTRAP_ADMIN_PASSWORD"
	envDefaultOrganizationID  = "ERP_DEFAULT_ORGANIZATION_ID"
)

func positiveInt(v int) bool { return v > 0 }

func nonNegativeInt(v int) bool { return v >= 0 }

func positiveDuration(v time.Duration) bool { return v > 0 }

func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

// readConfigFromEnv накладывает переменные окружения на app.DefaultConfig.
// Некорректные значения не прерывают запуск: остаётся значение по умолчанию, а в warnings попадает причина.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	str(envRedisAddr, &cfg.RedisAddr)
	str(envRedisPassword, &cfg.RedisPassword)
	integer(envRedisDB, &cfg.RedisDB, nonNegativeInt, "must be >= 0")
	duration(envRedisCacheTTL, &cfg.RedisCacheTTL, positiveDuration, "must be > 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)

	str(envJWTSecret, &cfg.JWTSecret)
	duration(envAccessTokenTTL, &cfg.AccessTokenTTL, positiveDuration, "must be > 0")
	duration(envRefreshTokenTTL, &cfg.RefreshTokenTTL, positiveDuration, "must be > 0")

	boolean(envDebug, &cfg.Debug)
	str(envEnvironment, &cfg.Environment)
	str(envLogLevel, &cfg.LogLevel)
	str(envAllowedOrigins, &cfg.AllowedOrigins)
	str(envOTLPEndpoint, &cfg.OTLPEndpoint)
	boolean(envOTLPInsecure, &cfg.OTLPInsecure)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	duration(envOutboxRetention, &cfg.OutboxRetention, positiveDuration, "must be > 0")
	duration(envOutboxCleanupInterval, &cfg.OutboxCleanupInterval, positiveDuration, "must be > 0")

	str(envBootstrapAdminEmail, &cfg.BootstrapAdminEmail)
	str(envBootstrapAdminPassword, &cfg.BootstrapAdminPassword)
	str(envDefaultOrganizationID, &cfg.DefaultOrganizationID)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}
