// Package store 持久化短链接及其访问记录。
package store

import (
	"context"
	"shorturl-analytics/internal/model"
	"time"
)

// Stats 全局统计
type Stats struct {
	TotalLinks  int64 `json:"totalLinks"`
	ActiveLinks int64 `json:"activeLinks"`
	TotalClicks int64 `json:"totalClicks"`
	TotalEvents int64 `json:"totalEvents"`
}

// LinkStore 短链接存储。
// 短码与别名共用一个命名空间：Create 会拒绝与任何已有短码或别名重复的标识。
// AppendClick 在同一事务中追加访问记录并递增计数，保证 ClickCount 与记录条数一致。
type LinkStore interface {
	Create(ctx context.Context, link *model.Link) error
	FindByCode(ctx context.Context, code string) (*model.Link, error)
	FindByCodeOrAlias(ctx context.Context, identifier string) (*model.Link, error)
	FindActiveByURL(ctx context.Context, normalizedURL string) (*model.Link, error)
	Deactivate(ctx context.Context, id uint) error
	AppendClick(ctx context.Context, id uint, event *model.ClickEvent) error
	List(ctx context.Context, page, pageSize int) ([]model.Link, int64, error)

	ClickHistory(ctx context.Context, id uint, limit int) ([]model.ClickEvent, error)
	ClickTimes(ctx context.Context, id uint) ([]time.Time, error)
	ReferrerCounts(ctx context.Context, id uint) (map[string]int64, error)

	FindExpiring(ctx context.Context, limit int) ([]model.Link, error)
	PurgeInactive(ctx context.Context, expiredBefore time.Time, limit int) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}
