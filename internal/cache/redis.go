package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backorders/internal/domain"
)

var errRedisDisabled = errors.New("redis cache is disabled")

const (
	defaultRedisPrefix = "backorders:status_counts:"
	scanBatch          = 100
	pingTimeout        = 3 * time.Second
)

// RedisStatusCountCache разделяет счётчики между репликами сервиса.
// При недоступном Redis (client == nil) работает как пустой кэш.
type RedisStatusCountCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *log.Entry
}

// RedisConfig: параметры подключения.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// DialRedis подключается к Redis. Если ping не проходит, возвращается кэш без клиента.
func DialRedis(ctx context.Context, cfg RedisConfig, logger *log.Entry) *RedisStatusCountCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		if logger != nil {
			logger.WithError(err).WithField("addr", cfg.Addr).Warn("redis unavailable, status counts are not shared")
		}
		_ = client.Close()
		return NewRedisStatusCountCache(nil, cfg.Prefix, cfg.TTL, logger)
	}
	return NewRedisStatusCountCache(client, cfg.Prefix, cfg.TTL, logger)
}

// NewRedisStatusCountCache оборачивает готовый клиент.
func NewRedisStatusCountCache(client *redis.Client, prefix string, ttl time.Duration, logger *log.Entry) *RedisStatusCountCache {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &RedisStatusCountCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.WithField("component", "status_count_cache"),
	}
}

// Available: есть ли подключение.
func (c *RedisStatusCountCache) Available() bool {
	return c.client != nil
}

func (c *RedisStatusCountCache) key(criteriaKey string) string {
	return c.prefix + criteriaKey
}

func (c *RedisStatusCountCache) Get(ctx context.Context, key string) (domain.StatusCounts, bool) {
	if c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).Debug("status counts cache get failed")
		return nil, false
	}

	var counts domain.StatusCounts
	if err := json.Unmarshal(data, &counts); err != nil {
		c.logger.WithError(err).Warn("status counts cache entry is corrupted")
		return nil, false
	}
	return counts, true
}

func (c *RedisStatusCountCache) Set(ctx context.Context, key string, counts domain.StatusCounts) {
	if c.client == nil {
		return
	}

	data, err := json.Marshal(counts)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("status counts cache set failed")
	}
}

// Invalidate удаляет все ключи с префиксом кэша.
func (c *RedisStatusCountCache) Invalidate(ctx context.Context) {
	if c.client == nil {
		return
	}

	iter := c.client.Scan(ctx, 0, c.prefix+"*", scanBatch).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.WithError(err).Warn("status counts cache scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).Warn("status counts cache invalidation failed")
	}
}

// Ping проверяет соединение; без клиента кэш считается отключённым.
func (c *RedisStatusCountCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return errRedisDisabled
	}
	return c.client.Ping(ctx).Err()
}

// Close закрывает соединение.
func (c *RedisStatusCountCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

var _ StatusCountCache = (*RedisStatusCountCache)(nil)
