// Package cache 缓存短链接解析结果，减少跳转路径上的数据库查询。
package cache

import (
	"context"
	"time"
)

// KeyPrefix 缓存键前缀
const KeyPrefix = "shortlink:"

// Entry 跳转所需的最少信息；只缓存可跳转的记录
type Entry struct {
	LinkID      uint       `json:"id"`
	OriginalURL string     `json:"url"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Cache 解析缓存。实现必须可并发使用，读取失败时调用方回退到存储层
type Cache interface {
	Get(ctx context.Context, identifier string) (Entry, bool, error)
	Set(ctx context.Context, identifier string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, identifiers ...string) error
}

// TTLFor 缓存时长不超过链接剩余寿命
func TTLFor(entry Entry, maxTTL time.Duration, now time.Time) time.Duration {
	ttl := maxTTL
	if entry.ExpiresAt != nil {
		if remaining := entry.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	return ttl
}

// Nop 不做任何缓存
type Nop struct{}

func (Nop) Get(context.Context, string) (Entry, bool, error)        { return Entry{}, false, nil }
func (Nop) Set(context.Context, string, Entry, time.Duration) error { return nil }
func (Nop) Delete(context.Context, ...string) error                 { return nil }
