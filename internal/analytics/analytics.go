// Package analytics 把访问记录汇总成展示用的统计数据。
// 所有派生值都在读取时计算，不落库。
package analytics

import (
	"math"
	"shorturl-analytics/internal/model"
	"time"
)

const (
	// DateLayout 按 UTC 日期分组的键格式
	DateLayout = "2006-01-02"
	// TimelineDays 时间线覆盖的天数
	TimelineDays = 30
)

// DailyCount 时间线上的一天
type DailyCount struct {
	Date   string `json:"date"`
	Clicks int64  `json:"clicks"`
}

// Summary 单个短链接的统计结果
type Summary struct {
	OriginalURL        string             `json:"originalUrl"`
	ShortURL           string             `json:"shortUrl"`
	ShortCode          string             `json:"shortCode"`
	CustomAlias        *string            `json:"customAlias,omitempty"`
	Clicks             int64              `json:"clicks"`
	CreatedAt          time.Time          `json:"createdAt"`
	ExpiresAt          *time.Time         `json:"expiresAt,omitempty"`
	IsActive           bool               `json:"isActive"`
	Creator            string             `json:"creator"`
	ClickHistory       []model.ClickEvent `json:"clickHistory"`
	DailyClicks        map[string]int64   `json:"dailyClicks"`
	Timeline           []DailyCount       `json:"timeline"`
	Referrers          map[string]int64   `json:"referrers"`
	ActiveDays         int                `json:"activeDays"`
	AverageDailyClicks float64            `json:"averageDailyClicks"`
}

// Input 汇总所需的原始数据
type Input struct {
	Link       model.Link
	ShortURL   string
	History    []model.ClickEvent
	ClickTimes []time.Time
	Referrers  map[string]int64
}

// Summarize 计算统计结果，没有访问记录时返回空映射和零值
func Summarize(in Input, now time.Time) Summary {
	history := in.History
	if history == nil {
		history = []model.ClickEvent{}
	}
	referrers := in.Referrers
	if referrers == nil {
		referrers = map[string]int64{}
	}
	link := in.Link
	link, _ = model.CheckAndExpire(link, now)

	daily := DailyClicks(in.ClickTimes)
	activeDays := ActiveDays(link.CreatedAt, now)

	return Summary{
		OriginalURL:        link.OriginalURL,
		ShortURL:           in.ShortURL,
		ShortCode:          link.ShortCode,
		CustomAlias:        link.CustomAlias,
		Clicks:             link.ClickCount,
		CreatedAt:          link.CreatedAt,
		ExpiresAt:          link.ExpiresAt,
		IsActive:           link.IsActive,
		Creator:            link.Creator,
		ClickHistory:       history,
		DailyClicks:        daily,
		Timeline:           Timeline(daily, now, TimelineDays),
		Referrers:          referrers,
		ActiveDays:         activeDays,
		AverageDailyClicks: AverageDaily(link.ClickCount, activeDays),
	}
}

// DailyClicks 按 UTC 日期对访问时间分组计数
func DailyClicks(times []time.Time) map[string]int64 {
	daily := make(map[string]int64)
	for _, ts := range times {
		daily[ts.UTC().Format(DateLayout)]++
	}
	return daily
}

// ActiveDays 自创建以来的天数，向上取整且至少为 1
func ActiveDays(createdAt, now time.Time) int {
	if createdAt.IsZero() || !now.After(createdAt) {
		return 1
	}
	days := int(math.Ceil(now.Sub(createdAt).Hours() / 24))
	return max(1, days)
}

// AverageDaily 日均点击，保留一位小数
func AverageDaily(total int64, activeDays int) float64 {
	if activeDays < 1 {
		activeDays = 1
	}
	return math.Round(float64(total)/float64(activeDays)*10) / 10
}

// Timeline 以 now 所在 UTC 日期为终点，返回最近 days 天的逐日点击数，缺失的日期补零
func Timeline(daily map[string]int64, now time.Time, days int) []DailyCount {
	if days <= 0 {
		return []DailyCount{}
	}
	end := now.UTC()
	today := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]DailyCount, 0, days)
	for i := days - 1; i >= 0; i-- {
		key := today.AddDate(0, 0, -i).Format(DateLayout)
		out = append(out, DailyCount{Date: key, Clicks: daily[key]})
	}
	return out
}
