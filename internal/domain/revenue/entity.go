// internal/domain/revenue/entity.go
package revenue

import (
	"sort"
	"time"

	"royalty-service/internal/domain/period"

	"github.com/shopspring/decimal"
)

// TopLimit bounds the ranked lists in analytics.
const TopLimit = 10

// Summary is the derived per-creator revenue for a range. It is never stored.
type Summary struct {
	CreatorID          int64           `json:"creator_id"`
	PeriodStart        *time.Time      `json:"period_start,omitempty"`
	PeriodEnd          *time.Time      `json:"period_end,omitempty"`
	QualifiedViewCount int64           `json:"qualified_view_count"`
	GrossRevenue       decimal.Decimal `json:"gross_revenue"`
	RoyaltyPercentage  decimal.Decimal `json:"royalty_percentage"`
	CreatorShare       decimal.Decimal `json:"creator_share"`
}

// NewSummary computes the creator share. Royalty outside [0, 1] is clamped,
// so the share never exceeds gross.
func NewSummary(creatorID int64, r period.Range, qualified int64, gross, royalty decimal.Decimal) Summary {
	royalty, _ = ClampRoyalty(royalty)
	s := Summary{
		CreatorID:          creatorID,
		QualifiedViewCount: qualified,
		GrossRevenue:       gross,
		RoyaltyPercentage:  royalty,
		CreatorShare:       gross.Mul(royalty),
	}
	if !r.Start.IsZero() {
		start := r.Start
		s.PeriodStart = &start
	}
	if !r.End.IsZero() {
		end := r.End
		s.PeriodEnd = &end
	}
	return s
}

// ClampRoyalty forces d into [0, 1]; the bool reports whether it was changed.
func ClampRoyalty(d decimal.Decimal) (decimal.Decimal, bool) {
	one := decimal.NewFromInt(1)
	switch {
	case d.IsNegative():
		return decimal.Zero, true
	case d.GreaterThan(one):
		return one, true
	}
	return d, false
}

// EngagementRate is likes per hundred views, zero without views.
func EngagementRate(likes, views int64) float64 {
	if views <= 0 {
		return 0
	}
	return ratio2(float64(likes) / float64(views) * 100)
}

func AveragePer(total, count int64) float64 {
	if count <= 0 {
		return 0
	}
	return ratio2(float64(total) / float64(count))
}

// VideoStat ranks a video within a window.
type VideoStat struct {
	VideoID        int64  `json:"video_id"`
	Title          string `json:"title"`
	Views          int64  `json:"views"`
	QualifiedViews int64  `json:"qualified_views"`
	Likes          int64  `json:"likes"`
}

// CreatorStat ranks a creator within a window.
type CreatorStat struct {
	CreatorID      int64           `json:"creator_id"`
	DisplayName    string          `json:"display_name"`
	Views          int64           `json:"views"`
	QualifiedViews int64           `json:"qualified_views"`
	GrossRevenue   decimal.Decimal `json:"gross_revenue"`
	CreatorShare   decimal.Decimal `json:"creator_share"`
}

// RankVideos orders by views descending, then id ascending, and keeps limit entries.
func RankVideos(stats []VideoStat, limit int) []VideoStat {
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].Views != stats[j].Views {
			return stats[i].Views > stats[j].Views
		}
		return stats[i].VideoID < stats[j].VideoID
	})
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats
}

// RankCreators orders by views descending, then id ascending, and keeps limit entries.
func RankCreators(stats []CreatorStat, limit int) []CreatorStat {
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].Views != stats[j].Views {
			return stats[i].Views > stats[j].Views
		}
		return stats[i].CreatorID < stats[j].CreatorID
	})
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats
}
