// internal/domain/view/entity.go
package view

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinQualifyingPercentage = 50
	MinQualifyingSeconds    = 300
	CompletedPercentage     = 90
)

// Record is one playback session.
type Record struct {
	ID                   int64             `json:"id" db:"id"`
	ViewerID             *int64            `json:"viewer_id,omitempty" db:"viewer_id"`
	VideoID              int64             `json:"video_id" db:"video_id"`
	OwnerID              int64             `json:"owner_id" db:"owner_id"`
	WatchDurationSeconds int               `json:"watch_duration_seconds" db:"watch_duration_seconds"`
	TotalDurationSeconds int               `json:"total_duration_seconds" db:"total_duration_seconds"`
	WatchPercentage      float64           `json:"watch_percentage" db:"watch_percentage"`
	Qualified            bool              `json:"qualified" db:"qualified"`
	RatePerView          decimal.Decimal   `json:"rate_per_view" db:"rate_per_view"`
	RevenueEarned        decimal.Decimal   `json:"revenue_earned" db:"revenue_earned"`
	Quality              string            `json:"quality,omitempty" db:"quality"`
	DeviceInfo           map[string]string `json:"device_info,omitempty" db:"device_info"`
	StartedAt            time.Time         `json:"started_at" db:"started_at"`
	EndedAt              *time.Time        `json:"ended_at,omitempty" db:"ended_at"`
	SettledAt            *time.Time        `json:"settled_at,omitempty" db:"settled_at"`
	UpdatedAt            time.Time         `json:"updated_at" db:"updated_at"`
}

// Settled records are frozen: progress updates no longer change them.
func (r *Record) Settled() bool {
	return r.SettledAt != nil
}

// Apply recomputes percentage, qualification and revenue from the given
// durations. It never accumulates.
func (r *Record) Apply(watchSeconds, totalSeconds int, rate decimal.Decimal) {
	c := Classify(watchSeconds, totalSeconds, rate)
	r.WatchDurationSeconds = watchSeconds
	r.TotalDurationSeconds = totalSeconds
	r.WatchPercentage = c.WatchPercentage
	r.Qualified = c.Qualified
	r.RatePerView = rate
	r.RevenueEarned = c.RevenueEarned
}

type Classification struct {
	WatchPercentage float64
	Qualified       bool
	RevenueEarned   decimal.Decimal
}

// Classify applies the royalty threshold: at least half the video, or five minutes.
func Classify(watchSeconds, totalSeconds int, rate decimal.Decimal) Classification {
	pct := Percentage(watchSeconds, totalSeconds)

	// integer form of pct >= 50 so rounding never moves the threshold
	qualified := watchSeconds >= MinQualifyingSeconds ||
		(totalSeconds > 0 && int64(watchSeconds)*100 >= int64(totalSeconds)*MinQualifyingPercentage)

	revenue := decimal.Zero
	if qualified {
		revenue = rate
	}
	return Classification{WatchPercentage: pct, Qualified: qualified, RevenueEarned: revenue}
}

// Percentage is watch/total*100 clamped to [0, 100], two decimals. Zero total yields 0.
func Percentage(watchSeconds, totalSeconds int) float64 {
	if totalSeconds <= 0 || watchSeconds <= 0 {
		return 0
	}
	pct := float64(watchSeconds) / float64(totalSeconds) * 100
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*100) / 100
}

// WatchHistory is the per (user, video) resume point.
type WatchHistory struct {
	ID              int64     `json:"id" db:"id"`
	UserID          int64     `json:"user_id" db:"user_id"`
	VideoID         int64     `json:"video_id" db:"video_id"`
	ProgressSeconds int       `json:"progress_seconds" db:"progress_seconds"`
	DurationSeconds int       `json:"duration_seconds" db:"duration_seconds"`
	WatchPercentage float64   `json:"watch_percentage" db:"watch_percentage"`
	Completed       bool      `json:"completed" db:"completed"`
	LastWatchedAt   time.Time `json:"last_watched_at" db:"last_watched_at"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Stats is the per-video rollup for a window.
type Stats struct {
	VideoID            int64           `json:"video_id"`
	Period             string          `json:"period"`
	TotalViews         int64           `json:"total_views"`
	QualifiedViews     int64           `json:"qualified_views"`
	UniqueViewers      int64           `json:"unique_viewers"`
	QualificationRate  float64         `json:"qualification_rate"`
	AvgWatchTime       float64         `json:"avg_watch_time"`
	AvgWatchPercentage float64         `json:"avg_watch_percentage"`
	EstimatedRevenue   decimal.Decimal `json:"estimated_revenue"`
}

// PopularVideo is one row of the most-watched listing.
type PopularVideo struct {
	VideoID        int64  `json:"video_id"`
	Title          string `json:"title"`
	CreatorID      int64  `json:"creator_id"`
	Views          int64  `json:"views"`
	QualifiedViews int64  `json:"qualified_views"`
}

// Settlement summarises one settle pass.
type Settlement struct {
	Cutoff         time.Time       `json:"cutoff"`
	SettledViews   int64           `json:"settled_views"`
	QualifiedViews int64           `json:"qualified_views"`
	Revenue        decimal.Decimal `json:"revenue"`
}
