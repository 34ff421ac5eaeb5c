package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) FirstDelivery(ctx context.Context, providerMessageID string) (bool, error) {
	key := "wamid:" + providerMessageID
	return c.rdb.SetNX(ctx, key, 1, c.ttl).Result()
}
