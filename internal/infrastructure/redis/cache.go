package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vesrates-service/internal/infrastructure/logx"
)

// keyPrefix namespaces every entry so a shared Redis instance can host other
// tenants next to this service.
const keyPrefix = "vesrates:"

// Cache is a best-effort projection over Redis. Backend failures are
// swallowed: reads degrade to misses, writes and invalidations to no-ops,
// with a warning so degraded mode shows up in logs.
type Cache struct {
	Client *redis.Client
}

func NewCache(client *redis.Client) *Cache { return &Cache{Client: client} }

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.Client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		logx.L().Warn("cache.get_failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return b, true
}

func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if err := c.Client.Set(ctx, keyPrefix+key, val, ttl).Err(); err != nil {
		logx.L().Warn("cache.set_failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidatePrefix deletes every entry under prefix. It walks with SCAN, not
// KEYS, so invalidation stays safe on a busy instance.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) {
	match := keyPrefix + prefix + "*"
	var cursor uint64
	for {
		keys, next, err := c.Client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			logx.L().Warn("cache.invalidate_failed", zap.String("prefix", prefix), zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := c.Client.Del(ctx, keys...).Err(); err != nil {
				logx.L().Warn("cache.invalidate_failed", zap.String("prefix", prefix), zap.Error(err))
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
