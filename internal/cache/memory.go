package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 进程内缓存，未配置 Redis 时使用
type MemoryCache struct {
	items *gocache.Cache
}

// NewMemoryCache cleanupInterval 为过期条目的清理周期
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{items: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (c *MemoryCache) Get(_ context.Context, identifier string) (Entry, bool, error) {
	v, ok := c.items.Get(KeyPrefix + identifier)
	if !ok {
		return Entry{}, false, nil
	}
	return v.(Entry), true, nil
}

func (c *MemoryCache) Set(_ context.Context, identifier string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.items.Set(KeyPrefix+identifier, entry, ttl)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, identifiers ...string) error {
	for _, id := range identifiers {
		c.items.Delete(KeyPrefix + id)
	}
	return nil
}
