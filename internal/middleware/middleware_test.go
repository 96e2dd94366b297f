package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"shorturl-analytics/internal/config"
	auth "shorturl-analytics/pkg/jwt"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(router *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimit_MemoryLimiter(t *testing.T) {
	cfg := config.Limit{Enabled: true, Requests: 2, WindowSeconds: 60, Burst: 2, SkipPaths: []string{"/health"}}
	router := gin.New()
	router.Use(RateLimit(NewLimiter(nil, cfg, zap.NewNop()), &cfg))
	router.GET("/api/urls", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/api/urls", nil).Code)
	assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/api/urls", nil).Code)

	w := perform(router, http.MethodGet, "/api/urls", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "retryAfter")

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/health", nil).Code)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	cfg := config.Limit{Enabled: false, Requests: 1, WindowSeconds: 60, Burst: 1}
	router := gin.New()
	router.Use(RateLimit(NewLimiter(nil, cfg, nil), &cfg))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/", nil).Code)
	}
}

func TestMemoryLimiter_PerClient(t *testing.T) {
	l := NewMemoryLimiter(config.Limit{Requests: 1, WindowSeconds: 60, Burst: 1})
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "10.0.0.1")
	assert.True(t, ok)
	ok, wait := l.Allow(ctx, "10.0.0.1")
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	ok, _ = l.Allow(ctx, "10.0.0.2")
	assert.True(t, ok, "不同客户端互不影响")
}

func TestAuthMiddleware(t *testing.T) {
	m := auth.NewManager("secret", "shorturl", 1)
	userToken, err := m.GenerateToken(7, "alice", "user")
	require.NoError(t, err)
	adminToken, err := m.GenerateToken(1, "admin", "admin")
	require.NoError(t, err)

	router := gin.New()
	api := router.Group("/api", AuthMiddleware(m))
	api.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, CurrentUsername(c)) })
	api.GET("/admin", AdminMiddleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/open", OptionalAuth(m), func(c *gin.Context) { c.String(http.StatusOK, CurrentUsername(c)) })

	bearer := func(tok string) http.Header { return http.Header{"Authorization": {"Bearer " + tok}} }

	assert.Equal(t, http.StatusUnauthorized, perform(router, http.MethodGet, "/api/me", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, perform(router, http.MethodGet, "/api/me", bearer("junk")).Code)
	assert.Equal(t, http.StatusUnauthorized, perform(router, http.MethodGet, "/api/me", http.Header{"Authorization": {userToken}}).Code)

	w := perform(router, http.MethodGet, "/api/me", bearer(userToken))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	assert.Equal(t, http.StatusForbidden, perform(router, http.MethodGet, "/api/admin", bearer(userToken)).Code)
	assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/api/admin", bearer(adminToken)).Code)

	w = perform(router, http.MethodGet, "/open", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	w = perform(router, http.MethodGet, "/open", bearer(userToken))
	assert.Equal(t, "alice", w.Body.String())
}

func TestRequestIDAndSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), GinZapLogger(zap.NewNop()), GinZapRecovery(zap.NewNop(), false), SecurityHeaders())
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := perform(router, http.MethodGet, "/ok", nil)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	w = perform(router, http.MethodGet, "/ok", http.Header{RequestIDHeader: {"req-123"}})
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))

	w = perform(router, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRedisLimiter_FallsBackWhenUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewLimiter(rdb, config.Limit{Requests: 1, WindowSeconds: 60, Burst: 1}, zap.NewNop())
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "10.0.0.1")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "10.0.0.1")
	assert.False(t, ok)
}
