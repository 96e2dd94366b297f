package service

import (
	"context"
	"errors"
	"fmt"
	"shorturl-analytics/internal/apperr"
	"shorturl-analytics/internal/cache"
	"shorturl-analytics/internal/model"
	"shorturl-analytics/internal/recorder"
	"shorturl-analytics/internal/shortcode"
	"shorturl-analytics/internal/store"
	"shorturl-analytics/internal/validate"
	"shorturl-analytics/pkg/database"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// syncRecorder 同步写入，便于断言
type syncRecorder struct {
	store store.LinkStore
}

func (r syncRecorder) Record(linkID uint, ev model.ClickEvent) bool {
	return r.store.AppendClick(context.Background(), linkID, &ev) == nil
}

// sequenceGenerator 依次返回预设的短码，用完后重复最后一个
type sequenceGenerator struct {
	mu    sync.Mutex
	codes []string
	calls int
}

func (g *sequenceGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := min(g.calls, len(g.codes)-1)
	g.calls++
	return g.codes[i], nil
}

type env struct {
	svc   *LinkService
	store *store.GormStore
	clock *fakeClock
}

func newEnv(t *testing.T, opts Options, extra ...Option) *env {
	t.Helper()
	db, err := database.OpenSQLiteMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	st := store.NewGormStore(db, store.WithClock(clock.Now))
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:8080"
	}
	options := append([]Option{WithClock(clock.Now)}, extra...)
	svc := NewLinkService(st, shortcode.NewGenerator(8), syncRecorder{store: st}, opts, nil, options...)
	return &env{svc: svc, store: st, clock: clock}
}

func shorten(t *testing.T, e *env, url string, alias string, ttl int) LinkView {
	t.Helper()
	req := validate.ShortenRequest{URL: url}
	if alias != "" {
		req.CustomAlias = &alias
	}
	if ttl > 0 {
		req.TTLDays = &ttl
	}
	view, _, err := e.svc.Shorten(context.Background(), req, "")
	require.NoError(t, err)
	return view
}

func TestShorten_ResolveRoundTripAndExpiry(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	created := e.clock.Now()

	view := shorten(t, e, "example.com/very/long/path", "", 1)

	assert.Len(t, view.ShortCode, 8)
	assert.True(t, shortcode.IsValid(view.ShortCode, 8))
	assert.Equal(t, "https://example.com/very/long/path", view.OriginalURL)
	require.NotNil(t, view.ExpiresAt)
	assert.True(t, view.ExpiresAt.Equal(created.Add(24*time.Hour)))
	assert.Equal(t, "http://localhost:8080/"+view.ShortCode, view.ShortURL)
	assert.Equal(t, model.AnonymousCreator, view.Creator)
	assert.True(t, view.IsActive)

	e.clock.Advance(23 * time.Hour)
	target, err := e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/very/long/path", target)

	e.clock.Advance(2 * time.Hour)
	_, err = e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	assert.Equal(t, apperr.Expired, apperr.KindOf(err))

	stored, err := e.store.FindByCode(ctx, view.ShortCode)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, int64(1), stored.ClickCount, "过期的访问不计数")

	list, err := e.svc.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, list.URLs)

	// 已停用的过期记录仍然报告 Expired
	_, err = e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	assert.Equal(t, apperr.Expired, apperr.KindOf(err))
}

func TestResolve_UnknownCode(t *testing.T) {
	e := newEnv(t, Options{})
	_, err := e.svc.Resolve(context.Background(), "nope1234", ClickMeta{})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestResolve_RecordsClickMetadata(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	view := shorten(t, e, "https://example.com", "", 0)

	_, err := e.svc.Resolve(ctx, view.ShortCode, ClickMeta{UserAgent: "Mozilla/5.0", IP: "203.0.113.9"})
	require.NoError(t, err)
	_, err = e.svc.Resolve(ctx, view.ShortCode, ClickMeta{Referrer: "https://news.example.org"})
	require.NoError(t, err)

	history, err := e.store.ClickHistory(ctx, view.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Mozilla/5.0", *history[0].UserAgent)
	assert.Equal(t, "203.0.113.9", *history[0].IPAddress)
	assert.Equal(t, model.DirectReferrer, history[0].Referrer)
	assert.Equal(t, "https://news.example.org", history[1].Referrer)
	assert.Nil(t, history[1].UserAgent)
}

func TestResolve_ConcurrentClicksAreNotLost(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	rec := recorder.New(e.store, recorder.Options{Workers: 4, QueueSize: 1000}, nil)
	rec.Start()
	e.svc.clicks = rec

	view := shorten(t, e, "https://example.com/hot", "", 0)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target, err := e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
			assert.NoError(t, err)
			assert.Equal(t, "https://example.com/hot", target)
		}()
	}
	wg.Wait()
	rec.Stop()

	stored, err := e.store.FindByCode(ctx, view.ShortCode)
	require.NoError(t, err)
	history, err := e.store.ClickHistory(ctx, view.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(n), stored.ClickCount)
	assert.Len(t, history, n)
}

func TestShorten_CustomAlias(t *testing.T) {
	e := newEnv(t, Options{BaseURL: "https://sho.rt/"})
	ctx := context.Background()

	view := shorten(t, e, "https://example.com/promo", "spring-sale", 0)
	assert.Equal(t, "https://sho.rt/spring-sale", view.ShortURL)
	require.NotNil(t, view.CustomAlias)

	byAlias, err := e.svc.Resolve(ctx, "spring-sale", ClickMeta{})
	require.NoError(t, err)
	byCode, err := e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	require.NoError(t, err)
	assert.Equal(t, byAlias, byCode)
}

func TestShorten_AliasConflicts(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	first := shorten(t, e, "https://example.com/a", "taken", 0)

	tests := []struct {
		name  string
		alias string
	}{
		{"alias equals existing alias", "taken"},
		{"alias equals existing short code", first.ShortCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alias := tt.alias
			_, _, err := e.svc.Shorten(ctx, validate.ShortenRequest{URL: "https://example.com/b", CustomAlias: &alias}, "")
			assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
		})
	}
}

func TestShorten_RetriesOnCodeCollision(t *testing.T) {
	e := newEnv(t, Options{ReuseExisting: false})
	ctx := context.Background()
	gen := &sequenceGenerator{codes: []string{"dupe0001", "dupe0001", "dupe0001", "fresh001"}}
	e.svc.codes = gen

	first, _, err := e.svc.Shorten(ctx, validate.ShortenRequest{URL: "https://a.example.com"}, "")
	require.NoError(t, err)
	assert.Equal(t, "dupe0001", first.ShortCode)

	second, created, err := e.svc.Shorten(ctx, validate.ShortenRequest{URL: "https://b.example.com"}, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "fresh001", second.ShortCode)
	assert.Equal(t, 4, gen.calls)
}

func TestShorten_RetriesExhausted(t *testing.T) {
	e := newEnv(t, Options{ReuseExisting: false, MaxRetries: 3})
	ctx := context.Background()
	gen := &sequenceGenerator{codes: []string{"same0001"}}
	e.svc.codes = gen

	_, _, err := e.svc.Shorten(ctx, validate.ShortenRequest{URL: "https://a.example.com"}, "")
	require.NoError(t, err)

	_, _, err = e.svc.Shorten(ctx, validate.ShortenRequest{URL: "https://b.example.com"}, "")
	assert.Equal(t, apperr.Unavailable, apperr.KindOf(err))
	assert.Equal(t, 4, gen.calls)
}

func TestShorten_ReuseExistingPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("reuse enabled", func(t *testing.T) {
		e := newEnv(t, Options{ReuseExisting: true})
		first, created, err := e.svc.Shorten(ctx, validate.ShortenRequest{URL: "example.com/page"}, "")
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err := e.svc.Shorten(ctx, validate.ShortenRequest{URL: "https://example.com/page/"}, "")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)

		// 指定别名时总是新建
		alias := "page-alias"
		third, created, err := e.svc.Shorten(ctx, validate.ShortenRequest{URL: "example.com/page", CustomAlias: &alias}, "")
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, third.ID)
	})

	t.Run("reuse skips expired", func(t *testing.T) {
		e := newEnv(t, Options{ReuseExisting: true})
		ttl := 1
		first, _, err := e.svc.Shorten(ctx, validate.ShortenRequest{URL: "example.com/page", TTLDays: &ttl}, "")
		require.NoError(t, err)

		e.clock.Advance(48 * time.Hour)
		second, created, err := e.svc.Shorten(ctx, validate.ShortenRequest{URL: "example.com/page"}, "")
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("reuse disabled", func(t *testing.T) {
		e := newEnv(t, Options{ReuseExisting: false})
		first, _, err := e.svc.Shorten(ctx, validate.ShortenRequest{URL: "example.com/page"}, "")
		require.NoError(t, err)
		second, created, err := e.svc.Shorten(ctx, validate.ShortenRequest{URL: "example.com/page"}, "")
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ShortCode, second.ShortCode)
	})
}

func TestShorten_ValidationError(t *testing.T) {
	e := newEnv(t, Options{})
	alias := "x"
	_, _, err := e.svc.Shorten(context.Background(), validate.ShortenRequest{URL: "", CustomAlias: &alias}, "")

	assert.Equal(t, apperr.Invalid, apperr.KindOf(err))
	var fieldErrs validate.FieldErrors
	require.True(t, errors.As(err, &fieldErrs))
	assert.Len(t, fieldErrs, 2)
}

func TestShorten_CreatorRecorded(t *testing.T) {
	e := newEnv(t, Options{})
	view, _, err := e.svc.Shorten(context.Background(), validate.ShortenRequest{URL: "example.com"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", view.Creator)
}

func TestDeactivate(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	view := shorten(t, e, "https://example.com", "bye-bye", 0)

	require.NoError(t, e.svc.Deactivate(ctx, "bye-bye"))

	_, err := e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	_, err = e.svc.Resolve(ctx, "bye-bye", ClickMeta{})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	assert.Equal(t, apperr.NotFound, apperr.KindOf(e.svc.Deactivate(ctx, "unknown")))
}

func TestList_PaginationAndCap(t *testing.T) {
	e := newEnv(t, Options{ReuseExisting: false})
	ctx := context.Background()
	for i := 0; i < 55; i++ {
		shorten(t, e, fmt.Sprintf("https://example.com/%d", i), "", 0)
		e.clock.Advance(time.Second)
	}

	res, err := e.svc.List(ctx, 1, 500)
	require.NoError(t, err)
	assert.Len(t, res.URLs, MaxPageSize)
	assert.Equal(t, Pagination{Page: 1, Limit: 50, Total: 55, Pages: 2}, res.Pagination)
	assert.Equal(t, "https://example.com/54", res.URLs[0].OriginalURL)

	res, err = e.svc.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, Pagination{Page: 1, Limit: DefaultPageSize, Total: 55, Pages: 6}, res.Pagination)

	res, err = e.svc.List(ctx, 2, 50)
	require.NoError(t, err)
	assert.Len(t, res.URLs, 5)
	assert.NotEmpty(t, res.URLs[0].ShortURL)
}

func TestAnalytics_DailyClicks(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	view := shorten(t, e, "https://example.com/stats", "", 0)

	for i := 0; i < 3; i++ {
		e.clock.Advance(time.Hour)
		_, err := e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
		require.NoError(t, err)
	}
	e.clock.Advance(24 * time.Hour)
	_, err := e.svc.Resolve(ctx, view.ShortCode, ClickMeta{Referrer: "https://t.co"})
	require.NoError(t, err)

	summary, err := e.svc.Analytics(ctx, view.ShortCode)
	require.NoError(t, err)

	assert.Equal(t, int64(4), summary.Clicks)
	assert.Equal(t, map[string]int64{"2026-06-01": 3, "2026-06-02": 1}, summary.DailyClicks)
	assert.Len(t, summary.ClickHistory, 4)
	assert.Equal(t, map[string]int64{"direct": 3, "https://t.co": 1}, summary.Referrers)
	assert.Equal(t, 2, summary.ActiveDays)
	assert.Equal(t, 2.0, summary.AverageDailyClicks)
	assert.Equal(t, view.ShortURL, summary.ShortURL)
}

func TestAnalytics_ZeroClicksAndUnknown(t *testing.T) {
	e := newEnv(t, Options{HistoryLimit: 10})
	ctx := context.Background()
	view := shorten(t, e, "https://example.com/quiet", "quiet", 0)

	summary, err := e.svc.Analytics(ctx, "quiet")
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Clicks)
	assert.Empty(t, summary.DailyClicks)
	assert.Empty(t, summary.ClickHistory)
	assert.Equal(t, view.ShortCode, summary.ShortCode)

	_, err = e.svc.Analytics(ctx, "missing")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestResolve_UsesCacheAndEvictsOnDeactivate(t *testing.T) {
	mem := cache.NewMemoryCache(time.Minute)
	e := newEnv(t, Options{}, WithCache(mem))
	ctx := context.Background()
	view := shorten(t, e, "https://example.com/cached", "", 0)

	_, err := e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	require.NoError(t, err)
	entry, ok, err := mem.Get(ctx, view.ShortCode)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, view.ID, entry.LinkID)

	// 缓存命中同样计数
	_, err = e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	require.NoError(t, err)
	stored, err := e.store.FindByCode(ctx, view.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.ClickCount)

	require.NoError(t, e.svc.Deactivate(ctx, view.ShortCode))
	_, ok, _ = mem.Get(ctx, view.ShortCode)
	assert.False(t, ok)
	_, err = e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestResolve_StaleCacheEntryExpires(t *testing.T) {
	mem := cache.NewMemoryCache(time.Minute)
	e := newEnv(t, Options{CacheTTL: 30 * 24 * time.Hour}, WithCache(mem))
	ctx := context.Background()
	view := shorten(t, e, "https://example.com/short-lived", "", 1)

	_, err := e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	require.NoError(t, err)

	// 缓存条目的真实 TTL 仍未到，但记录已按业务时间过期
	e.clock.Advance(25 * time.Hour)
	_, err = e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	assert.Equal(t, apperr.Expired, apperr.KindOf(err))

	stored, err := e.store.FindByCode(ctx, view.ShortCode)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

type brokenStore struct {
	store.LinkStore
}

func (brokenStore) FindByCodeOrAlias(context.Context, string) (*model.Link, error) {
	return nil, apperr.E("store.FindByCodeOrAlias", apperr.Internal, errors.New("connection refused"))
}

func TestResolve_StoreFailureIsInternal(t *testing.T) {
	e := newEnv(t, Options{})
	e.svc.store = brokenStore{LinkStore: e.store}

	_, err := e.svc.Resolve(context.Background(), "abcd1234", ClickMeta{})
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
}

// deactivatingStore 在首次查询返回后立即停用该记录，模拟读取与写缓存之间发生的并发停用
type deactivatingStore struct {
	store.LinkStore
	svc   *LinkService
	fired atomic.Bool
}

func (s *deactivatingStore) FindByCodeOrAlias(ctx context.Context, identifier string) (*model.Link, error) {
	link, err := s.LinkStore.FindByCodeOrAlias(ctx, identifier)
	if err == nil && s.fired.CompareAndSwap(false, true) {
		_ = s.svc.Deactivate(ctx, identifier)
	}
	return link, err
}

func TestResolve_DeactivateRacingCacheFillWins(t *testing.T) {
	mem := cache.NewMemoryCache(time.Minute)
	e := newEnv(t, Options{CacheTTL: time.Hour}, WithCache(mem))
	ctx := context.Background()
	view := shorten(t, e, "https://example.com/raced", "", 0)

	e.svc.store = &deactivatingStore{LinkStore: e.store, svc: e.svc}

	_, err := e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	_, ok, err := mem.Get(ctx, view.ShortCode)
	require.NoError(t, err)
	assert.False(t, ok, "停用后不应残留缓存")

	e.clock.Advance(10 * time.Minute)
	_, err = e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	stored, err := e.store.FindByCode(ctx, view.ShortCode)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Zero(t, stored.ClickCount)
}

type failingDeactivateStore struct {
	store.LinkStore
}

func (failingDeactivateStore) Deactivate(context.Context, uint) error {
	return apperr.E("store.Deactivate", apperr.Internal, errors.New("deadlock detected"))
}

func TestResolve_ExpiryDeactivateFailureIsInternal(t *testing.T) {
	mem := cache.NewMemoryCache(time.Minute)
	e := newEnv(t, Options{}, WithCache(mem))
	ctx := context.Background()
	view := shorten(t, e, "https://example.com/expiring", "", 1)

	e.svc.store = failingDeactivateStore{LinkStore: e.store}
	e.clock.Advance(25 * time.Hour)

	_, err := e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))

	// 停用未成功，记录仍保持启用，后续访问或清理任务会再次处理
	stored, err := e.store.FindByCode(ctx, view.ShortCode)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)

	e.svc.store = e.store
	_, err = e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	assert.Equal(t, apperr.Expired, apperr.KindOf(err))
}

func TestShorten_SkipsReservedGeneratedCode(t *testing.T) {
	e := newEnv(t, Options{MaxRetries: 3})
	gen := &sequenceGenerator{codes: []string{"health", "fresh001"}}
	e.svc.codes = gen

	view := shorten(t, e, "https://example.com/reserved", "", 0)
	assert.Equal(t, "fresh001", view.ShortCode)
	assert.Equal(t, 2, gen.calls)
}

func TestSweepExpired(t *testing.T) {
	e := newEnv(t, Options{ReuseExisting: false, PurgeAfter: 7 * 24 * time.Hour}, WithCache(cache.NewMemoryCache(time.Minute)))
	ctx := context.Background()

	short := shorten(t, e, "https://example.com/1", "", 1)
	long := shorten(t, e, "https://example.com/2", "", 30)

	e.clock.Advance(2 * 24 * time.Hour)
	res, err := e.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Expired: 1}, res)

	stored, err := e.store.FindByCode(ctx, short.ShortCode)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	stored, err = e.store.FindByCode(ctx, long.ShortCode)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)

	// 再次执行没有新的过期记录
	res, err = e.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Expired)

	e.clock.Advance(10 * 24 * time.Hour)
	res, err = e.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Purged)
	_, err = e.store.FindByCode(ctx, short.ShortCode)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestStatsAndHealth(t *testing.T) {
	e := newEnv(t, Options{ReuseExisting: false})
	ctx := context.Background()
	view := shorten(t, e, "https://example.com", "", 0)
	_, err := e.svc.Resolve(ctx, view.ShortCode, ClickMeta{})
	require.NoError(t, err)

	stats, err := e.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalLinks)
	assert.Equal(t, int64(1), stats.TotalClicks)
	assert.NoError(t, e.svc.Health(ctx))
}
