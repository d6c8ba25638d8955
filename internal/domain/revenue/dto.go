// internal/domain/revenue/dto.go
package revenue

import (
	"math"
	"time"

	"royalty-service/internal/domain/period"

	"github.com/shopspring/decimal"
)

// Overview holds the raw counters for one creator and window.
type Overview struct {
	TotalVideos          int64   `json:"total_videos"`
	TotalViews           int64   `json:"total_views"`
	QualifiedViews       int64   `json:"qualified_views"`
	TotalLikes           int64   `json:"total_likes"`
	TotalDownloads       int64   `json:"total_downloads"`
	AverageViewsPerVideo float64 `json:"average_views_per_video"`
	EngagementRate       float64 `json:"engagement_rate"`
}

type CreatorRevenue struct {
	QualifiedViews    int64           `json:"qualified_views"`
	RatePerView       decimal.Decimal `json:"rate_per_view"`
	RoyaltyPercentage decimal.Decimal `json:"royalty_percentage"`
	GrossRevenue      decimal.Decimal `json:"gross_revenue"`
	EstimatedRevenue  decimal.Decimal `json:"estimated_revenue"`
}

type CreatorGrowth struct {
	ViewsGrowth          float64 `json:"views_growth"`
	QualifiedViewsGrowth float64 `json:"qualified_views_growth"`
	LikesGrowth          float64 `json:"likes_growth"`
	PreviousViews        int64   `json:"previous_views"`
}

type CreatorAnalytics struct {
	CreatorID int64          `json:"creator_id"`
	Window    period.Window  `json:"window"`
	Overview  Overview       `json:"overview"`
	Revenue   CreatorRevenue `json:"revenue"`
	TopVideos []VideoStat    `json:"top_videos"`
	Growth    CreatorGrowth  `json:"growth"`
}

type PlatformOverview struct {
	TotalUsers          int64 `json:"total_users"`
	TotalCreators       int64 `json:"total_creators"`
	TotalVideos         int64 `json:"total_videos"`
	ActiveSubscriptions int64 `json:"active_subscriptions"`
	NewUsers            int64 `json:"new_users"`
}

type Engagement struct {
	TotalViews     int64   `json:"total_views"`
	QualifiedViews int64   `json:"qualified_views"`
	TotalLikes     int64   `json:"total_likes"`
	TotalDownloads int64   `json:"total_downloads"`
	AvgWatchTime   float64 `json:"avg_watch_time"`
}

type PlatformRevenue struct {
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	RoyaltyLiability decimal.Decimal `json:"royalty_liability"`
	RevenueGrowth    float64         `json:"revenue_growth"`
}

// DataQualityIssue records a sub-aggregation that was degraded to zero.
type DataQualityIssue struct {
	Section   string `json:"section"`
	CreatorID int64  `json:"creator_id,omitempty"`
	Reason    string `json:"reason"`
}

type AdminAnalytics struct {
	Window      period.Window      `json:"window"`
	Platform    PlatformOverview   `json:"platform_overview"`
	Engagement  Engagement         `json:"engagement"`
	Revenue     PlatformRevenue    `json:"revenue"`
	TopCreators []CreatorStat      `json:"top_creators"`
	DataQuality []DataQualityIssue `json:"data_quality,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// ReportFilter narrows a revenue report. Nil bounds are open.
type ReportFilter struct {
	CreatorID *int64
	Start     *time.Time
	End       *time.Time
}

// Range converts the filter bounds to a period.Range.
func (f ReportFilter) Range() period.Range {
	var r period.Range
	if f.Start != nil {
		r.Start = *f.Start
	}
	if f.End != nil {
		r.End = *f.End
	}
	return r
}

// ReportRow is the stored revenue of one video in the filtered range.
type ReportRow struct {
	CreatorID         int64
	CreatorName       string
	RoyaltyPercentage decimal.Decimal
	VideoID           int64
	VideoTitle        string
	QualifiedViews    int64
	Revenue           decimal.Decimal
}

type ReportVideo struct {
	VideoID        int64           `json:"video_id"`
	Title          string          `json:"title"`
	QualifiedViews int64           `json:"qualified_views"`
	Revenue        decimal.Decimal `json:"revenue"`
}

type ReportCreator struct {
	Summary
	DisplayName string        `json:"display_name"`
	Videos      []ReportVideo `json:"videos"`
}

type ReportSummary struct {
	TotalQualifiedViews int64           `json:"total_qualified_views"`
	TotalGrossRevenue   decimal.Decimal `json:"total_gross_revenue"`
	TotalCreatorShare   decimal.Decimal `json:"total_creator_share"`
	AveragePerView      decimal.Decimal `json:"average_per_view"`
}

type Report struct {
	Start    *time.Time      `json:"start_date,omitempty"`
	End      *time.Time      `json:"end_date,omitempty"`
	Creators []ReportCreator `json:"creators"`
	Summary  ReportSummary   `json:"summary"`
}

func ratio2(v float64) float64 {
	return math.Round(v*100) / 100
}
