package service

import (
	"context"
	"math"
	"shorturl-analytics/internal/analytics"
	"shorturl-analytics/internal/apperr"
	"shorturl-analytics/internal/cache"
	"shorturl-analytics/internal/model"
	"shorturl-analytics/internal/store"
	"shorturl-analytics/internal/validate"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxRetries = 5
	DefaultPageSize   = 10
	MaxPageSize       = 50
	DefaultCacheTTL   = time.Hour
	sweepBatchSize    = 500
)

// CodeGenerator 生成候选短码
type CodeGenerator interface {
	Generate() (string, error)
}

// ClickRecorder 异步记录访问，不能阻塞调用方
type ClickRecorder interface {
	Record(linkID uint, event model.ClickEvent) bool
}

// Options 业务策略
type Options struct {
	BaseURL        string
	MaxRetries     int
	DefaultTTLDays int
	// ReuseExisting 为 true 时，未指定别名且 URL 已有有效短链接的请求直接返回已有记录
	ReuseExisting     bool
	BlockPrivateHosts bool
	CacheTTL          time.Duration
	HistoryLimit      int
	// PurgeAfter 大于 0 时，清理任务会物理删除过期超过该时长的停用记录
	PurgeAfter time.Duration
}

// ClickMeta 访问者信息
type ClickMeta struct {
	UserAgent string
	IP        string
	Referrer  string
}

// LinkView 对外返回的短链接，附带完整短地址
type LinkView struct {
	model.Link
	ShortURL string `json:"shortUrl"`
}

// Pagination 分页信息
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// ListResult 分页查询结果
type ListResult struct {
	URLs       []LinkView `json:"urls"`
	Pagination Pagination `json:"pagination"`
}

// SweepResult 一次过期清理的结果
type SweepResult struct {
	Expired int   `json:"expired"`
	Purged  int64 `json:"purged"`
}

// LinkService 短链接的创建、解析、停用与统计
type LinkService struct {
	store  store.LinkStore
	codes  CodeGenerator
	clicks ClickRecorder
	cache  cache.Cache
	opts   Options
	now    func() time.Time
	logger *zap.SugaredLogger
}

// Option 定制 LinkService
type Option func(*LinkService)

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(s *LinkService) { s.now = now }
}

// WithCache 设置解析缓存，默认不缓存
func WithCache(c cache.Cache) Option {
	return func(s *LinkService) {
		if c != nil {
			s.cache = c
		}
	}
}

// NewLinkService 创建服务实例
func NewLinkService(st store.LinkStore, codes CodeGenerator, clicks ClickRecorder, opts Options, logger *zap.SugaredLogger, options ...Option) *LinkService {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.DefaultTTLDays <= 0 {
		opts.DefaultTTLDays = 30
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &LinkService{
		store:  st,
		codes:  codes,
		clicks: clicks,
		cache:  cache.Nop{},
		opts:   opts,
		now:    time.Now,
		logger: logger.Named("link_service"),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// ShortURL 拼接完整短地址，优先使用别名
func (s *LinkService) ShortURL(link *model.Link) string {
	return s.opts.BaseURL + "/" + link.Identifier()
}

func (s *LinkService) view(link *model.Link) LinkView {
	return LinkView{Link: *link, ShortURL: s.ShortURL(link)}
}

// Shorten 创建短链接。第二个返回值表示是否新建；按 ReuseExisting 策略返回已有记录时为 false
func (s *LinkService) Shorten(ctx context.Context, req validate.ShortenRequest, creator string) (LinkView, bool, error) {
	const op = "service.Shorten"

	in, fieldErrs := validate.Shorten(req, validate.Options{
		DefaultTTLDays:    s.opts.DefaultTTLDays,
		BlockPrivateHosts: s.opts.BlockPrivateHosts,
	})
	if len(fieldErrs) > 0 {
		return LinkView{}, false, apperr.E(op, apperr.Invalid, fieldErrs)
	}
	if creator == "" {
		creator = model.AnonymousCreator
	}

	if s.opts.ReuseExisting && in.CustomAlias == "" {
		existing, err := s.store.FindActiveByURL(ctx, in.URL)
		switch {
		case err == nil:
			return s.view(existing), false, nil
		case !apperr.Is(err, apperr.NotFound):
			return LinkView{}, false, apperr.E(op, apperr.Internal, err)
		}
	}

	if in.CustomAlias != "" {
		if taken, err := s.identifierTaken(ctx, in.CustomAlias); err != nil {
			return LinkView{}, false, apperr.E(op, apperr.Internal, err)
		} else if taken {
			return LinkView{}, false, apperr.New(op, apperr.Conflict, "自定义别名已存在")
		}
	}

	now := s.now().UTC()
	expiresAt := now.AddDate(0, 0, in.TTLDays)

	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return LinkView{}, false, apperr.E(op, apperr.Internal, err)
		}
		// 与系统路由同名的短码无法被访问，按冲突处理
		if validate.IsReserved(code) {
			s.logger.Debugw("短码与保留路径冲突，重新生成", "code", code, "attempt", attempt)
			continue
		}

		link := &model.Link{
			ShortCode:   code,
			OriginalURL: in.URL,
			URLHash:     model.HashURL(in.URL),
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   &expiresAt,
			IsActive:    true,
			Creator:     creator,
		}
		if in.CustomAlias != "" {
			alias := in.CustomAlias
			link.CustomAlias = &alias
		}

		err = s.store.Create(ctx, link)
		if err == nil {
			s.logger.Infow("短链接已创建", "code", code, "alias", in.CustomAlias, "creator", creator)
			return s.view(link), true, nil
		}
		if !apperr.Is(err, apperr.Conflict) {
			return LinkView{}, false, apperr.E(op, apperr.Internal, err)
		}

		// 冲突可能来自别名被并发占用，此时重试没有意义
		if in.CustomAlias != "" {
			if taken, terr := s.identifierTaken(ctx, in.CustomAlias); terr == nil && taken {
				return LinkView{}, false, apperr.New(op, apperr.Conflict, "自定义别名已存在")
			}
		}
		s.logger.Debugw("短码冲突，重新生成", "code", code, "attempt", attempt)
	}

	s.logger.Warnw("多次生成短码均冲突", "retries", s.opts.MaxRetries)
	return LinkView{}, false, apperr.New(op, apperr.Unavailable, "无法生成唯一短码，请稍后重试")
}

func (s *LinkService) identifierTaken(ctx context.Context, identifier string) (bool, error) {
	_, err := s.store.FindByCodeOrAlias(ctx, identifier)
	switch {
	case err == nil:
		return true, nil
	case apperr.Is(err, apperr.NotFound):
		return false, nil
	default:
		return false, err
	}
}

// Resolve 把短码或别名解析成原始地址。
// 仅当记录处于启用状态且未过期时成功，成功后异步记录一次访问。
// 已过期的记录在此处被停用，并返回 Expired 以区别于 NotFound。
func (s *LinkService) Resolve(ctx context.Context, identifier string, meta ClickMeta) (string, error) {
	const op = "service.Resolve"
	now := s.now().UTC()

	if entry, ok, err := s.cache.Get(ctx, identifier); err != nil {
		s.logger.Warnw("读取缓存失败", "identifier", identifier, "error", err)
	} else if ok {
		if entry.ExpiresAt == nil || entry.ExpiresAt.After(now) {
			s.recordClick(entry.LinkID, now, meta)
			return entry.OriginalURL, nil
		}
		// 缓存中的记录已到期，交给存储层处理过期转换
		s.evict(ctx, identifier)
	}

	link, err := s.store.FindByCodeOrAlias(ctx, identifier)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return "", apperr.E(op, apperr.NotFound, err)
		}
		return "", apperr.E(op, apperr.Internal, err)
	}

	if err := s.expireIfDue(ctx, link, now); err != nil {
		return "", apperr.E(op, apperr.KindOf(err), err)
	}
	if !link.IsResolvable(now) {
		return "", apperr.New(op, apperr.NotFound, "短链接不存在或已停用")
	}

	if err := s.fillCache(ctx, identifier, link, now); err != nil {
		return "", apperr.E(op, apperr.KindOf(err), err)
	}

	s.recordClick(link.ID, now, meta)
	return link.OriginalURL, nil
}

// expireIfDue 对已过期的记录执行停用并返回 Expired 错误，未过期时返回 nil
func (s *LinkService) expireIfDue(ctx context.Context, link *model.Link, now time.Time) error {
	if !link.IsExpired(now) {
		return nil
	}
	const op = "service.expire"
	updated, changed := model.CheckAndExpire(*link, now)
	if changed {
		if err := s.store.Deactivate(ctx, link.ID); err != nil {
			// 停用未落库时不能当作已过期处理，交由调用方按内部错误返回
			s.logger.Errorw("停用过期短链接失败", "link_id", link.ID, "error", err)
			return apperr.E(op, apperr.Internal, err)
		}
		s.logger.Infow("短链接已过期并停用", "code", link.ShortCode)
	}
	*link = updated
	s.evict(ctx, link.Keys()...)
	return apperr.New(op, apperr.Expired, "短链接已过期")
}

// fillCache 写入缓存后再回读一次记录；若期间被停用或删除则撤销缓存，
// 保证停用先于或晚于写缓存时都不会留下可跳转的缓存项
func (s *LinkService) fillCache(ctx context.Context, identifier string, link *model.Link, now time.Time) error {
	if _, ok := s.cache.(cache.Nop); ok {
		return nil
	}
	entry := cache.Entry{LinkID: link.ID, OriginalURL: link.OriginalURL, ExpiresAt: link.ExpiresAt}
	if err := s.cache.Set(ctx, identifier, entry, cache.TTLFor(entry, s.opts.CacheTTL, now)); err != nil {
		s.logger.Warnw("写入缓存失败", "identifier", identifier, "error", err)
		return nil
	}

	current, err := s.store.FindByCodeOrAlias(ctx, identifier)
	switch {
	case err == nil && current.ID == link.ID && current.IsResolvable(now):
		return nil
	case err == nil || apperr.Is(err, apperr.NotFound):
		s.evict(ctx, append(link.Keys(), identifier)...)
		return apperr.New("service.fillCache", apperr.NotFound, "短链接不存在或已停用")
	default:
		s.evict(ctx, append(link.Keys(), identifier)...)
		return apperr.E("service.fillCache", apperr.Internal, err)
	}
}

func (s *LinkService) recordClick(linkID uint, at time.Time, meta ClickMeta) {
	s.clicks.Record(linkID, model.NewClickEvent(at, meta.UserAgent, meta.IP, meta.Referrer))
}

func (s *LinkService) evict(ctx context.Context, identifiers ...string) {
	if err := s.cache.Delete(ctx, identifiers...); err != nil {
		s.logger.Warnw("删除缓存失败", "identifiers", identifiers, "error", err)
	}
}

// Get 按短码或别名查询
func (s *LinkService) Get(ctx context.Context, identifier string) (LinkView, error) {
	link, err := s.store.FindByCodeOrAlias(ctx, identifier)
	if err != nil {
		return LinkView{}, apperr.E("service.Get", apperr.KindOf(err), err)
	}
	return s.view(link), nil
}

// Deactivate 软删除，按短码或别名定位
func (s *LinkService) Deactivate(ctx context.Context, identifier string) error {
	const op = "service.Deactivate"

	link, err := s.store.FindByCodeOrAlias(ctx, identifier)
	if err != nil {
		return apperr.E(op, apperr.KindOf(err), err)
	}
	if err := s.store.Deactivate(ctx, link.ID); err != nil {
		return apperr.E(op, apperr.KindOf(err), err)
	}
	s.evict(ctx, link.Keys()...)
	s.logger.Infow("短链接已停用", "code", link.ShortCode)
	return nil
}

// List 分页查询有效短链接，limit 上限为 50
func (s *LinkService) List(ctx context.Context, page, limit int) (ListResult, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	links, total, err := s.store.List(ctx, page, limit)
	if err != nil {
		return ListResult{}, apperr.E("service.List", apperr.Internal, err)
	}

	views := make([]LinkView, len(links))
	for i := range links {
		views[i] = s.view(&links[i])
	}
	return ListResult{
		URLs: views,
		Pagination: Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}, nil
}

// Analytics 汇总单个短链接的访问数据，停用的记录同样可以查询
func (s *LinkService) Analytics(ctx context.Context, identifier string) (analytics.Summary, error) {
	const op = "service.Analytics"

	link, err := s.store.FindByCodeOrAlias(ctx, identifier)
	if err != nil {
		return analytics.Summary{}, apperr.E(op, apperr.KindOf(err), err)
	}
	history, err := s.store.ClickHistory(ctx, link.ID, s.opts.HistoryLimit)
	if err != nil {
		return analytics.Summary{}, apperr.E(op, apperr.Internal, err)
	}
	times, err := s.store.ClickTimes(ctx, link.ID)
	if err != nil {
		return analytics.Summary{}, apperr.E(op, apperr.Internal, err)
	}
	referrers, err := s.store.ReferrerCounts(ctx, link.ID)
	if err != nil {
		return analytics.Summary{}, apperr.E(op, apperr.Internal, err)
	}

	return analytics.Summarize(analytics.Input{
		Link:       *link,
		ShortURL:   s.ShortURL(link),
		History:    history,
		ClickTimes: times,
		Referrers:  referrers,
	}, s.now().UTC()), nil
}

// SweepExpired 批量停用已到期但仍标记为有效的记录，并按配置清除早已过期的停用记录。
// 与解析路径使用同一个 CheckAndExpire 规则。
func (s *LinkService) SweepExpired(ctx context.Context) (SweepResult, error) {
	const op = "service.SweepExpired"
	var result SweepResult
	now := s.now().UTC()

	for {
		due, err := s.store.FindExpiring(ctx, sweepBatchSize)
		if err != nil {
			return result, apperr.E(op, apperr.Internal, err)
		}
		changedInBatch := 0
		for i := range due {
			if _, changed := model.CheckAndExpire(due[i], now); !changed {
				continue
			}
			if err := s.store.Deactivate(ctx, due[i].ID); err != nil {
				return result, apperr.E(op, apperr.Internal, err)
			}
			s.evict(ctx, due[i].Keys()...)
			changedInBatch++
		}
		result.Expired += changedInBatch
		if len(due) < sweepBatchSize || changedInBatch == 0 {
			break
		}
	}

	if s.opts.PurgeAfter > 0 {
		purged, err := s.store.PurgeInactive(ctx, now.Add(-s.opts.PurgeAfter), 0)
		if err != nil {
			return result, apperr.E(op, apperr.Internal, err)
		}
		result.Purged = purged
	}
	return result, nil
}

// Stats 全局统计
func (s *LinkService) Stats(ctx context.Context) (store.Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return stats, apperr.E("service.Stats", apperr.Internal, err)
	}
	return stats, nil
}

// Health 检查存储是否可用
func (s *LinkService) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}
