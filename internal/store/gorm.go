package store

import (
	"context"
	"errors"
	"fmt"
	"shorturl-analytics/internal/apperr"
	"shorturl-analytics/internal/model"
	"time"

	"gorm.io/gorm"
)

// GormStore 基于 gorm 的 LinkStore 实现，支持 MySQL、Postgres 和 SQLite
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Option 定制 GormStore
type Option func(*GormStore)

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(s *GormStore) { s.now = now }
}

// NewGormStore 创建存储实例
func NewGormStore(db *gorm.DB, opts ...Option) *GormStore {
	s := &GormStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ LinkStore = (*GormStore)(nil)

// Create 在一个事务中写入短链接以及它占用的全部标识
func (s *GormStore) Create(ctx context.Context, link *model.Link) error {
	const op = "store.Create"

	if link.URLHash == "" {
		link.URLHash = model.HashURL(link.OriginalURL)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(link).Error; err != nil {
			if isDuplicateKey(err) {
				return apperr.New(op, apperr.Conflict, "短码或别名已存在")
			}
			return apperr.E(op, apperr.Internal, err)
		}
		for _, key := range link.Keys() {
			if err := tx.Create(&model.LinkKey{Key: key, LinkID: link.ID}).Error; err != nil {
				if isDuplicateKey(err) {
					return apperr.New(op, apperr.Conflict, fmt.Sprintf("标识 %q 已被占用", key))
				}
				return apperr.E(op, apperr.Internal, err)
			}
		}
		return nil
	})
	if err != nil {
		// 事务回滚后主键不再有效
		link.ID = 0
		return err
	}
	return nil
}

func (s *GormStore) FindByCode(ctx context.Context, code string) (*model.Link, error) {
	var link model.Link
	err := s.db.WithContext(ctx).Where("short_code = ?", code).First(&link).Error
	return s.found(&link, err, "store.FindByCode")
}

// FindByCodeOrAlias 短码和别名视为同一个命名空间
func (s *GormStore) FindByCodeOrAlias(ctx context.Context, identifier string) (*model.Link, error) {
	var link model.Link
	err := s.db.WithContext(ctx).
		Where("short_code = ? OR custom_alias = ?", identifier, identifier).
		First(&link).Error
	return s.found(&link, err, "store.FindByCodeOrAlias")
}

// FindActiveByURL 查找同一 URL 上仍然有效的最新短链接
func (s *GormStore) FindActiveByURL(ctx context.Context, normalizedURL string) (*model.Link, error) {
	var link model.Link
	err := s.db.WithContext(ctx).
		Where("url_hash = ? AND original_url = ? AND is_active = ?", model.HashURL(normalizedURL), normalizedURL, true).
		Where("expires_at IS NULL OR expires_at > ?", s.now().UTC()).
		Order("created_at DESC").
		First(&link).Error
	return s.found(&link, err, "store.FindActiveByURL")
}

func (s *GormStore) found(link *model.Link, err error, op string) (*model.Link, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(op, apperr.NotFound, "短链接不存在")
		}
		return nil, apperr.E(op, apperr.Internal, err)
	}
	return link, nil
}

// Deactivate 软删除；只会把 is_active 从 true 改为 false，对已停用的记录无副作用
func (s *GormStore) Deactivate(ctx context.Context, id uint) error {
	const op = "store.Deactivate"

	res := s.db.WithContext(ctx).Model(&model.Link{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{"is_active": false, "updated_at": s.now().UTC()})
	if res.Error != nil {
		return apperr.E(op, apperr.Internal, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Link{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return apperr.E(op, apperr.Internal, err)
	}
	if count == 0 {
		return apperr.New(op, apperr.NotFound, "短链接不存在")
	}
	return nil
}

// AppendClick 先以表达式递增计数锁定行，再追加访问记录，两步在同一事务内完成。
// 同一链接的并发追加由数据库行锁串行化，不会丢失更新。
func (s *GormStore) AppendClick(ctx context.Context, id uint, event *model.ClickEvent) error {
	const op = "store.AppendClick"

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Link{}).Where("id = ?", id).
			UpdateColumn("click_count", gorm.Expr("click_count + ?", 1))
		if res.Error != nil {
			return apperr.E(op, apperr.Internal, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.New(op, apperr.NotFound, "短链接不存在")
		}

		event.ID = 0
		event.LinkID = id
		if event.ClickedAt.IsZero() {
			event.ClickedAt = s.now().UTC()
		}
		if event.Referrer == "" {
			event.Referrer = model.DirectReferrer
		}
		if err := tx.Create(event).Error; err != nil {
			return apperr.E(op, apperr.Internal, err)
		}
		return nil
	})
}

// List 分页返回有效且未过期的短链接，按创建时间倒序
func (s *GormStore) List(ctx context.Context, page, pageSize int) ([]model.Link, int64, error) {
	const op = "store.List"

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	query := s.db.WithContext(ctx).Model(&model.Link{}).
		Where("is_active = ?", true).
		Where("expires_at IS NULL OR expires_at > ?", s.now().UTC()).
		Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperr.E(op, apperr.Internal, err)
	}

	links := make([]model.Link, 0, pageSize)
	err := query.Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&links).Error
	if err != nil {
		return nil, 0, apperr.E(op, apperr.Internal, err)
	}
	return links, total, nil
}

// ClickHistory 返回最近 limit 条访问记录，按时间正序；limit <= 0 表示全部
func (s *GormStore) ClickHistory(ctx context.Context, id uint, limit int) ([]model.ClickEvent, error) {
	var events []model.ClickEvent
	query := s.db.WithContext(ctx).Where("link_id = ?", id).Order("clicked_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, apperr.E("store.ClickHistory", apperr.Internal, err)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// ClickTimes 返回全部访问时间，用于按天聚合
func (s *GormStore) ClickTimes(ctx context.Context, id uint) ([]time.Time, error) {
	var times []time.Time
	err := s.db.WithContext(ctx).Model(&model.ClickEvent{}).
		Where("link_id = ?", id).
		Order("clicked_at ASC").
		Pluck("clicked_at", &times).Error
	if err != nil {
		return nil, apperr.E("store.ClickTimes", apperr.Internal, err)
	}
	return times, nil
}

func (s *GormStore) ReferrerCounts(ctx context.Context, id uint) (map[string]int64, error) {
	var rows []struct {
		Referrer string
		Total    int64
	}
	err := s.db.WithContext(ctx).Model(&model.ClickEvent{}).
		Select("referrer, COUNT(*) AS total").
		Where("link_id = ?", id).
		Group("referrer").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.E("store.ReferrerCounts", apperr.Internal, err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Referrer] = r.Total
	}
	return counts, nil
}

// FindExpiring 返回仍标记为有效但已到期的短链接，供清理任务处理
func (s *GormStore) FindExpiring(ctx context.Context, limit int) ([]model.Link, error) {
	var links []model.Link
	query := s.db.WithContext(ctx).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, s.now().UTC()).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&links).Error; err != nil {
		return nil, apperr.E("store.FindExpiring", apperr.Internal, err)
	}
	return links, nil
}

// PurgeInactive 物理删除早已过期且停用的短链接及其访问记录和标识
func (s *GormStore) PurgeInactive(ctx context.Context, expiredBefore time.Time, limit int) (int64, error) {
	const op = "store.PurgeInactive"

	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		query := tx.Model(&model.Link{}).
			Where("is_active = ? AND expires_at IS NOT NULL AND expires_at < ?", false, expiredBefore.UTC())
		if limit > 0 {
			query = query.Limit(limit)
		}
		if err := query.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("link_id IN ?", ids).Delete(&model.ClickEvent{}).Error; err != nil {
			return err
		}
		if err := tx.Where("link_id IN ?", ids).Delete(&model.LinkKey{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&model.Link{})
		if res.Error != nil {
			return res.Error
		}
		purged = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, apperr.E(op, apperr.Internal, err)
	}
	return purged, nil
}

func (s *GormStore) Stats(ctx context.Context) (Stats, error) {
	const op = "store.Stats"

	var stats Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&model.Link{}).Count(&stats.TotalLinks).Error; err != nil {
		return stats, apperr.E(op, apperr.Internal, err)
	}
	if err := db.Model(&model.Link{}).Where("is_active = ?", true).Count(&stats.ActiveLinks).Error; err != nil {
		return stats, apperr.E(op, apperr.Internal, err)
	}
	if err := db.Model(&model.Link{}).Select("COALESCE(SUM(click_count), 0)").Scan(&stats.TotalClicks).Error; err != nil {
		return stats, apperr.E(op, apperr.Internal, err)
	}
	if err := db.Model(&model.ClickEvent{}).Count(&stats.TotalEvents).Error; err != nil {
		return stats, apperr.E(op, apperr.Internal, err)
	}
	return stats, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperr.E("store.Ping", apperr.Unavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperr.E("store.Ping", apperr.Unavailable, err)
	}
	return nil
}
