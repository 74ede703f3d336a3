package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/erp/internal/health"
	"github.com/vladislavdragonenkov/erp/internal/service/inventory"
	"github.com/vladislavdragonenkov/erp/internal/storage/memory"
	"github.com/vladislavdragonenkov/erp/internal/storage/postgres"
	"github.com/vladislavdragonenkov/erp/internal/storage/redisstore"
)

// runtimeDependencies хранилище и инфраструктура, выбранные по Config.
type runtimeDependencies struct {
	tx        domain.Transactor
	orders    domain.OrderRepository
	inventory domain.InventoryRepository
	movements domain.StockMovementRepository
	users     domain.UserRepository
	outbox    domain.OutboxRepository
	purger    domain.OutboxPurger
	numbers   domain.OrderNumberAllocator
	// cache равен nil без Redis.
	cache    inventory.Cache
	checkers map[string]healthcheck.Checker
	closers  []func() error
}

// initRuntimeDependencies открывает хранилище и, если задан адрес, Redis.
// Недоступный Redis не мешает запуску: сервис работает без кэша и на счётчиках хранилища.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		deps.tx = store
		deps.orders = store.Orders()
		deps.inventory = store.Inventory()
		deps.movements = store.Movements()
		deps.users = store.Users()
		deps.outbox = store.Outbox()
		deps.purger = store.Outbox()
		deps.numbers = memory.NewOrderNumberAllocator()
		logger.Info("using in-memory storage")

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres storage driver requires ERP_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		store.WithLogger(logger.WithField("component", "postgres"))
		deps.closers = append(deps.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				deps.close(logger)
				return nil, fmt.Errorf("migrate postgres schema: %w", err)
			}
		}

		deps.tx = store
		deps.orders = store.Orders()
		deps.inventory = store.Inventory()
		deps.movements = store.Movements()
		deps.users = store.Users()
		deps.outbox = store.Outbox()
		deps.purger = store.OutboxPurger()
		deps.numbers = postgres.NewOrderNumberAllocator(store)
		deps.checkers["postgres"] = healthcheck.NewCriticalChecker("postgres", store.Ping)
		logger.Info("using postgres storage")

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		deps.attachRedis(ctx, cfg, logger)
	}

	return deps, nil
}

func (d *runtimeDependencies) attachRedis(ctx context.Context, cfg Config, logger *log.Entry) {
	client, err := redisstore.NewClient(ctx, redisstore.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis is unavailable, continuing without cache")
		return
	}

	d.numbers = redisstore.NewOrderNumberAllocator(client)
	d.cache = redisstore.NewInventoryCache(client, cfg.RedisCacheTTL, logger.WithField("component", "inventory-cache"))
	d.checkers["redis"] = healthcheck.NewOptionalChecker("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	d.closers = append(d.closers, client.Close)
	logger.WithField("addr", cfg.RedisAddr).Info("redis order numbers and inventory cache enabled")
}

// close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}
