package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"marketvault/internal/domain"
)

// Compile-time interface check.
var _ Cache = (*RedisCache)(nil)

// RedisCache stores bar series as JSON values with a server-side TTL, so
// multiple collector processes can share one fetch cache. Decimal prices
// marshal as strings, so values round-trip exactly.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// NewRedisCache connects to Redis at addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr string, db int, ttl time.Duration) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis at %s: %w", addr, err)
	}
	return &RedisCache{
		rdb: rdb,
		ttl: ttl,
		log: slog.Default().With("component", "redis-cache"),
	}, nil
}

// Get returns the cached bars for key. Redis errors degrade to a cache miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]domain.MarketBar, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("cache get failed", "key", key, "err", err)
		}
		return nil, false
	}

	var bars []domain.MarketBar
	if err := json.Unmarshal(data, &bars); err != nil {
		c.log.Warn("cache entry corrupt, dropping", "key", key, "err", err)
		c.rdb.Del(ctx, key)
		return nil, false
	}
	return bars, true
}

// Set stores bars under key with the cache TTL. Failures are logged and
// swallowed: the cache is an optimization, never a correctness dependency.
func (c *RedisCache) Set(ctx context.Context, key string, bars []domain.MarketBar) {
	data, err := json.Marshal(bars)
	if err != nil {
		c.log.Warn("cache marshal failed", "key", key, "err", err)
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn("cache set failed", "key", key, "err", err)
	}
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
