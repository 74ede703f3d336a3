package app

import "time"

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// DefaultJWTSecret годится только для локальной разработки; в production Run его отвергает.
const DefaultJWTSecret = "erp-dev-secret-change-me"

// Config описывает настройки запуска сервиса. Структура сравнима через ==,
// поэтому списки (брокеры, origins) хранятся строкой через запятую.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisCacheTTL time.Duration

	KafkaBrokers string

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	Debug          bool
	Environment    string
	LogLevel       string
	AllowedOrigins string
	OTLPEndpoint   string
	OTLPInsecure   bool

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxRetention задаёт срок хранения отправленных сообщений.
	OutboxRetention       time.Duration
	OutboxCleanupInterval time.Duration

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
	DefaultOrganizationID  string
}

// DefaultConfig возвращает настройки локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:              ":8080",
		GRPCAddr:              ":50051",
		MetricsAddr:           ":9090",
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		RedisCacheTTL:         5 * time.Minute,
		JWTSecret:             DefaultJWTSecret,
		AccessTokenTTL:        30 * time.Minute,
		RefreshTokenTTL:       7 * 24 * time.Hour,
		Environment:           "development",
		LogLevel:              "info",
		AllowedOrigins:        "*",
		OTLPInsecure:          true,
		OutboxPollInterval:    time.Second,
		OutboxBatchSize:       100,
		OutboxMaxAttempts:     3,
		OutboxRetryDelay:      50 * time.Millisecond,
		OutboxRetention:       7 * 24 * time.Hour,
		OutboxCleanupInterval: 10 * time.Minute,
		DefaultOrganizationID: "default",
	}
}

// IsProduction сообщает, запущен ли сервис в production-окружении.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}
