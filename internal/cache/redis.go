package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache 基于 Redis 的缓存，多个实例共享
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, identifier string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, KeyPrefix+identifier).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// 无法解析的值直接丢弃
		_ = c.client.Del(ctx, KeyPrefix+identifier).Err()
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, identifier string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, KeyPrefix+identifier, raw, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, identifiers ...string) error {
	if len(identifiers) == 0 {
		return nil
	}
	keys := make([]string, len(identifiers))
	for i, id := range identifiers {
		keys[i] = KeyPrefix + id
	}
	return c.client.Del(ctx, keys...).Err()
}
