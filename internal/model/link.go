package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// AnonymousCreator 未登录用户创建的短链接的创建者标识
const AnonymousCreator = "anonymous"

// Link 短链接模型
type Link struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	ShortCode   string     `gorm:"size:16;uniqueIndex;not null" json:"shortCode"`
	CustomAlias *string    `gorm:"size:50;uniqueIndex" json:"customAlias,omitempty"`
	OriginalURL string     `gorm:"size:2048;not null" json:"originalUrl"`
	URLHash     string     `gorm:"size:64;index;not null" json:"-"`
	ClickCount  int64      `gorm:"not null;default:0" json:"clicks"`
	CreatedAt   time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ExpiresAt   *time.Time `gorm:"index" json:"expiresAt,omitempty"`
	IsActive    bool       `gorm:"not null;default:true;index" json:"isActive"`
	Creator     string     `gorm:"size:100;not null;default:anonymous" json:"creator"`
}

// TableName 指定表名
func (Link) TableName() string {
	return "links"
}

// Identifier 对外展示的标识：有别名时优先使用别名
func (l *Link) Identifier() string {
	if l.CustomAlias != nil && *l.CustomAlias != "" {
		return *l.CustomAlias
	}
	return l.ShortCode
}

// Keys 返回该链接在统一命名空间中占用的所有标识
func (l *Link) Keys() []string {
	keys := []string{l.ShortCode}
	if l.CustomAlias != nil && *l.CustomAlias != "" {
		keys = append(keys, *l.CustomAlias)
	}
	return keys
}

// IsExpired 判断在 now 时刻是否已过期；ExpiresAt 为空表示永不过期
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// IsResolvable 仅当处于启用状态且未过期时才可跳转
func (l *Link) IsResolvable(now time.Time) bool {
	return l.IsActive && !l.IsExpired(now)
}

// CheckAndExpire 是过期规则的唯一实现。
// 返回更新后的副本，以及本次调用是否发生了 active -> inactive 的转换。
// 停用是单向的，已停用的记录不会被重新启用。
func CheckAndExpire(l Link, now time.Time) (Link, bool) {
	if l.IsActive && l.IsExpired(now) {
		l.IsActive = false
		return l, true
	}
	return l, false
}

// HashURL 计算规范化 URL 的摘要，用于幂等查询
func HashURL(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
