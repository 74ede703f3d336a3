// Package redisstore хранит в Redis счётчики номеров заказов и кэш карточек товара.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

const (
	orderSeqKeyPrefix       = "erp:order_seq:"
	inventoryKeyPrefix      = "erp:inventory:"
	inventoryFenceKeyPrefix = "erp:inventory_fence:"

	// DefaultCacheTTL: время жизни карточки товара в кэше.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultFenceTTL: сколько после Invalidate запрещена запись карточки в кэш.
	DefaultFenceTTL = 2 * time.Second
)

// setUnlessFenced пишет карточку, только если по ней нет свежего Invalidate.
// KEYS[1] карточка, KEYS[2] fence; ARGV[1] JSON, ARGV[2] TTL в миллисекундах.
var setUnlessFenced = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// Options: параметры подключения.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient создаёт клиента и проверяет соединение.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// OrderNumberAllocator выдаёт номера заказов через INCR; номера уникальны между репликами.
type OrderNumberAllocator struct {
	client redis.Cmdable
}

// NewOrderNumberAllocator создаёт аллокатор поверх client.
func NewOrderNumberAllocator(client redis.Cmdable) *OrderNumberAllocator {
	return &OrderNumberAllocator{client: client}
}

// Next возвращает следующий номер организации.
func (a *OrderNumberAllocator) Next(ctx context.Context, organizationID string) (int64, error) {
	seq, err := a.client.Incr(ctx, orderSeqKeyPrefix+organizationID).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate order number: %w", err)
	}
	return seq, nil
}

// InventoryCache: read-through кэш карточек товара в JSON.
// Invalidate ставит fence на fenceTTL: запись, прочитанная из хранилища до коммита
// на другой реплике, не попадёт в кэш после сброса.
type InventoryCache struct {
	client   redis.Cmdable
	ttl      time.Duration
	fenceTTL time.Duration
	logger   *log.Entry
}

// NewInventoryCache создаёт кэш; ttl <= 0 заменяется на DefaultCacheTTL.
func NewInventoryCache(client redis.Cmdable, ttl time.Duration, logger *log.Entry) *InventoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = log.WithField("component", "inventory-cache")
	}
	return &InventoryCache{client: client, ttl: ttl, fenceTTL: DefaultFenceTTL, logger: logger}
}

// Get возвращает карточку, если она есть в кэше.
func (c *InventoryCache) Get(ctx context.Context, id string) (domain.InventoryItem, bool, error) {
	raw, err := c.client.Get(ctx, inventoryKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.InventoryItem{}, false, nil
	}
	if err != nil {
		return domain.InventoryItem{}, false, fmt.Errorf("cache get %s: %w", id, err)
	}
	var item domain.InventoryItem
	if err := json.Unmarshal(raw, &item); err != nil {
		// Битую запись удаляем, чтобы следующее чтение пошло в хранилище.
		c.logger.WithError(err).WithField("item_id", id).Warn("drop corrupted cache entry")
		_ = c.client.Del(ctx, inventoryKeyPrefix+id).Err()
		return domain.InventoryItem{}, false, nil
	}
	return item, true, nil
}

// Set кладёт карточку в кэш с TTL. Пока по карточке стоит fence, запись пропускается.
func (c *InventoryCache) Set(ctx context.Context, item domain.InventoryItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", item.ID, err)
	}
	keys := []string{inventoryKeyPrefix + item.ID, inventoryFenceKeyPrefix + item.ID}
	stored, err := setUnlessFenced.Run(ctx, c.client, keys, raw, c.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("cache set %s: %w", item.ID, err)
	}
	if stored == 0 {
		c.logger.WithField("item_id", item.ID).Debug("cache write skipped: item recently invalidated")
	}
	return nil
}

// Invalidate удаляет карточку и ставит fence.
func (c *InventoryCache) Invalidate(ctx context.Context, id string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, inventoryFenceKeyPrefix+id, 1, c.fenceTTL)
		pipe.Del(ctx, inventoryKeyPrefix+id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache invalidate %s: %w", id, err)
	}
	return nil
}
