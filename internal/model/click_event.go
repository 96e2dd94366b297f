package model

import (
	"time"
)

// DirectReferrer 请求未携带 Referer 时记录的来源
const DirectReferrer = "direct"

// ClickEvent 一次访问记录，只追加不修改
type ClickEvent struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	LinkID    uint      `gorm:"not null;index:idx_click_link_time,priority:1" json:"-"`
	ClickedAt time.Time `gorm:"not null;index:idx_click_link_time,priority:2" json:"timestamp"`
	UserAgent *string   `gorm:"type:text" json:"userAgent,omitempty"`
	IPAddress *string   `gorm:"size:45" json:"ipAddress,omitempty"`
	Referrer  string    `gorm:"size:2048;not null;default:direct" json:"referrer"`
}

func (ClickEvent) TableName() string {
	return "click_events"
}

// NewClickEvent 根据请求元数据构造访问记录，空值按缺省处理
func NewClickEvent(at time.Time, userAgent, ip, referrer string) ClickEvent {
	ev := ClickEvent{ClickedAt: at.UTC(), Referrer: referrer}
	if userAgent != "" {
		ev.UserAgent = &userAgent
	}
	if ip != "" {
		ev.IPAddress = &ip
	}
	if ev.Referrer == "" {
		ev.Referrer = DirectReferrer
	}
	return ev
}
