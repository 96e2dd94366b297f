package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"shorturl-analytics/internal/config"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const rateLimitPrefix = "ratelimit:"

// Limiter 判断一个客户端是否还有配额，拒绝时返回需要等待的时长
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// RateLimit 按客户端 IP 限流。超出配额时返回 429，附带 Retry-After 头与 retryAfter 字段
func RateLimit(limiter Limiter, limitConfig *config.Limit) gin.HandlerFunc {
	if !limitConfig.Enabled || limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		// 跳过特定路径
		for _, path := range limitConfig.SkipPaths {
			if strings.HasPrefix(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}

		ok, wait := limiter.Allow(c.Request.Context(), c.ClientIP())
		if !ok {
			retryAfter := int(math.Ceil(wait.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "请求过于频繁，请稍后再试",
				"retryAfter": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// NewLimiter 有 Redis 时使用跨实例共享的固定窗口，否则使用进程内令牌桶
func NewLimiter(rdb *redis.Client, cfg config.Limit, logger *zap.Logger) Limiter {
	local := NewMemoryLimiter(cfg)
	if rdb == nil {
		return local
	}
	return &RedisLimiter{
		client:   rdb,
		max:      cfg.Requests,
		window:   time.Duration(cfg.WindowSeconds) * time.Second,
		fallback: local,
		logger:   logger,
	}
}

// MemoryLimiter 每个客户端一个令牌桶，空闲的桶由 go-cache 过期回收
type MemoryLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *gocache.Cache
}

func NewMemoryLimiter(cfg config.Limit) *MemoryLimiter {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	burst := int(cfg.Burst)
	if burst < 1 {
		burst = 1
	}
	return &MemoryLimiter{
		limit:    rate.Limit(float64(cfg.Requests) / window.Seconds()),
		burst:    burst,
		limiters: gocache.New(2*window, window),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	limiter := m.get(key)
	r := limiter.Reserve()
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

func (m *MemoryLimiter) get(key string) *rate.Limiter {
	if v, ok := m.limiters.Get(key); ok {
		m.limiters.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(m.limit, m.burst)
	// 并发首次访问时以先写入的为准
	if err := m.limiters.Add(key, limiter, gocache.DefaultExpiration); err != nil {
		if v, ok := m.limiters.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// RedisLimiter 固定窗口计数，Redis 不可用时退回本地限流
type RedisLimiter struct {
	client   *redis.Client
	max      int64
	window   time.Duration
	fallback Limiter
	logger   *zap.Logger
	now      func() time.Time
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	now := time.Now()
	if r.now != nil {
		now = r.now()
	}
	window := r.window
	if window <= 0 {
		window = time.Minute
	}
	slot := now.UnixNano() / int64(window)
	redisKey := fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, slot)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		if r.logger != nil {
			r.logger.Warn("Redis 限流失败，使用本地限流", zap.Error(err))
		}
		return r.fallback.Allow(ctx, key)
	}

	if incr.Val() > r.max {
		windowEnd := time.Unix(0, (slot+1)*int64(window))
		return false, windowEnd.Sub(now)
	}
	return true, 0
}
