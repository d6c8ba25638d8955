package memory

import (
	"context"
	"sort"
	"time"

	"royalty-service/internal/domain/payment"
	"royalty-service/internal/domain/period"
	"royalty-service/internal/domain/revenue"
	"royalty-service/internal/domain/subscription"

	"github.com/shopspring/decimal"
)

type AnalyticsRepository struct{ s *Store }

func (s *Store) Analytics() *AnalyticsRepository { return &AnalyticsRepository{s: s} }

// creatorOf must be called with mu held.
func (s *Store) creatorOf(videoID int64) int64 {
	if v, ok := s.videos[videoID]; ok {
		return v.CreatorID
	}
	return 0
}

func (r *AnalyticsRepository) CreatorOverview(ctx context.Context, creatorID int64, rg period.Range) (*revenue.Overview, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var o revenue.Overview
	for _, v := range r.s.videos {
		if v.CreatorID == creatorID {
			o.TotalVideos++
		}
	}
	for _, rec := range r.s.views {
		if rec.OwnerID != creatorID || !rg.Contains(rec.StartedAt) {
			continue
		}
		o.TotalViews++
		if rec.Qualified {
			o.QualifiedViews++
		}
	}
	for _, l := range r.s.likes {
		if r.s.creatorOf(l.VideoID) == creatorID && rg.Contains(l.CreatedAt) {
			o.TotalLikes++
		}
	}
	for _, d := range r.s.downloads {
		if r.s.creatorOf(d.VideoID) == creatorID && rg.Contains(d.CreatedAt) {
			o.TotalDownloads++
		}
	}
	return &o, nil
}

func (r *AnalyticsRepository) CreatorTopVideos(ctx context.Context, creatorID int64, rg period.Range, limit int) ([]revenue.VideoStat, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	byVideo := map[int64]*revenue.VideoStat{}
	for _, v := range r.s.videos {
		if v.CreatorID == creatorID {
			byVideo[v.ID] = &revenue.VideoStat{VideoID: v.ID, Title: v.Title}
		}
	}
	for _, rec := range r.s.views {
		st, ok := byVideo[rec.VideoID]
		if !ok || !rg.Contains(rec.StartedAt) {
			continue
		}
		st.Views++
		if rec.Qualified {
			st.QualifiedViews++
		}
	}
	for _, l := range r.s.likes {
		if st, ok := byVideo[l.VideoID]; ok && rg.Contains(l.CreatedAt) {
			st.Likes++
		}
	}

	stats := make([]revenue.VideoStat, 0, len(byVideo))
	for _, st := range byVideo {
		stats = append(stats, *st)
	}
	return revenue.RankVideos(stats, limit), nil
}

func (r *AnalyticsRepository) CreatorStoredRevenue(ctx context.Context, creatorID int64, rg period.Range) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	gross := decimal.Zero
	for _, rec := range r.s.views {
		if rec.OwnerID == creatorID && rec.Qualified && rg.Contains(rec.StartedAt) {
			gross = gross.Add(rec.RevenueEarned)
		}
	}
	return gross, nil
}

func (r *AnalyticsRepository) PlatformOverview(ctx context.Context, rg period.Range, now time.Time) (*revenue.PlatformOverview, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o := revenue.PlatformOverview{
		TotalUsers:    int64(len(r.s.users)),
		TotalCreators: int64(len(r.s.creators)),
		TotalVideos:   int64(len(r.s.videos)),
	}
	for _, u := range r.s.users {
		if rg.Contains(u.CreatedAt) {
			o.NewUsers++
		}
	}
	for _, sub := range r.s.subs {
		if sub.Status == subscription.SubscriptionStatusActive && sub.EndDate.After(now) {
			o.ActiveSubscriptions++
		}
	}
	return &o, nil
}

func (r *AnalyticsRepository) Engagement(ctx context.Context, rg period.Range) (*revenue.Engagement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var e revenue.Engagement
	var watchSum int64
	for _, rec := range r.s.views {
		if !rg.Contains(rec.StartedAt) {
			continue
		}
		e.TotalViews++
		watchSum += int64(rec.WatchDurationSeconds)
		if rec.Qualified {
			e.QualifiedViews++
		}
	}
	for _, l := range r.s.likes {
		if rg.Contains(l.CreatedAt) {
			e.TotalLikes++
		}
	}
	for _, d := range r.s.downloads {
		if rg.Contains(d.CreatedAt) {
			e.TotalDownloads++
		}
	}
	if e.TotalViews > 0 {
		e.AvgWatchTime = float64(watchSum) / float64(e.TotalViews)
	}
	return &e, nil
}

func (r *AnalyticsRepository) TopCreators(ctx context.Context, rg period.Range, limit int) ([]revenue.CreatorStat, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	byCreator := map[int64]*revenue.CreatorStat{}
	for _, c := range r.s.creators {
		byCreator[c.ID] = &revenue.CreatorStat{CreatorID: c.ID, DisplayName: c.DisplayName}
	}
	for _, rec := range r.s.views {
		st, ok := byCreator[rec.OwnerID]
		if !ok || !rg.Contains(rec.StartedAt) {
			continue
		}
		st.Views++
		if rec.Qualified {
			st.QualifiedViews++
		}
	}

	stats := make([]revenue.CreatorStat, 0, len(byCreator))
	for _, st := range byCreator {
		stats = append(stats, *st)
	}
	return revenue.RankCreators(stats, limit), nil
}

func (r *AnalyticsRepository) PaymentsRevenue(ctx context.Context, rg period.Range) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	total := decimal.Zero
	for _, p := range r.s.payments {
		if p.Status == payment.PaymentStatusSuccessful && p.PaidAt != nil && rg.Contains(*p.PaidAt) {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

func (r *AnalyticsRepository) RoyaltyLiability(ctx context.Context, rg period.Range) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	total := decimal.Zero
	for _, rec := range r.s.views {
		if !rec.Qualified || !rg.Contains(rec.StartedAt) {
			continue
		}
		c, ok := r.s.creators[rec.OwnerID]
		if !ok {
			continue
		}
		royalty, _ := revenue.ClampRoyalty(c.RoyaltyPercentage)
		total = total.Add(rec.RevenueEarned.Mul(royalty))
	}
	return total, nil
}

func (r *AnalyticsRepository) RevenueRows(ctx context.Context, f revenue.ReportFilter) ([]revenue.ReportRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rg := f.Range()
	type key struct{ creator, video int64 }
	rows := map[key]*revenue.ReportRow{}

	for _, rec := range r.s.views {
		if !rec.Qualified || !rg.Contains(rec.StartedAt) {
			continue
		}
		if f.CreatorID != nil && rec.OwnerID != *f.CreatorID {
			continue
		}
		c, ok := r.s.creators[rec.OwnerID]
		if !ok {
			continue
		}

		k := key{creator: rec.OwnerID, video: rec.VideoID}
		row, ok := rows[k]
		if !ok {
			row = &revenue.ReportRow{
				CreatorID:         c.ID,
				CreatorName:       c.DisplayName,
				RoyaltyPercentage: c.RoyaltyPercentage,
				VideoID:           rec.VideoID,
				Revenue:           decimal.Zero,
			}
			if v, ok := r.s.videos[rec.VideoID]; ok {
				row.VideoTitle = v.Title
			}
			rows[k] = row
		}
		row.QualifiedViews++
		row.Revenue = row.Revenue.Add(rec.RevenueEarned)
	}

	out := make([]revenue.ReportRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	// map order is random; the service sorts, but keep output stable anyway
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatorID != out[j].CreatorID {
			return out[i].CreatorID < out[j].CreatorID
		}
		return out[i].VideoID < out[j].VideoID
	})
	return out, nil
}
