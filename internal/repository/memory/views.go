package memory

import (
	"context"
	"sort"
	"time"

	"royalty-service/internal/domain/catalog"
	"royalty-service/internal/domain/period"
	"royalty-service/internal/domain/view"

	"github.com/shopspring/decimal"
)

type CatalogRepository struct{ s *Store }

func (s *Store) Catalog() *CatalogRepository { return &CatalogRepository{s: s} }

func (r *CatalogRepository) FindVideo(ctx context.Context, id int64) (*catalog.Video, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.videos[id]
	if !ok {
		return nil, notFound("video", id)
	}
	cp := *v
	return &cp, nil
}

func (r *CatalogRepository) FindCreator(ctx context.Context, id int64) (*catalog.Creator, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.creators[id]
	if !ok {
		return nil, notFound("creator", id)
	}
	cp := *c
	return &cp, nil
}

func (r *CatalogRepository) IncrementViewCount(ctx context.Context, videoID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.videos[videoID]
	if !ok {
		return notFound("video", videoID)
	}
	v.ViewCount++
	return nil
}

type ViewRepository struct{ s *Store }

func (s *Store) Views() *ViewRepository { return &ViewRepository{s: s} }

func copyRecord(rec *view.Record) *view.Record {
	cp := *rec
	if rec.DeviceInfo != nil {
		cp.DeviceInfo = make(map[string]string, len(rec.DeviceInfo))
		for k, v := range rec.DeviceInfo {
			cp.DeviceInfo[k] = v
		}
	}
	return &cp
}

func (r *ViewRepository) Create(ctx context.Context, rec *view.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.videos[rec.VideoID]; !ok {
		return notFound("video", rec.VideoID)
	}

	now := r.s.Now()
	rec.ID = r.s.nextID()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.UpdatedAt = now
	r.s.views[rec.ID] = copyRecord(rec)
	return nil
}

func (r *ViewRepository) FindByID(ctx context.Context, id int64) (*view.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.views[id]
	if !ok {
		return nil, notFound("view", id)
	}
	return copyRecord(rec), nil
}

func (r *ViewRepository) UpdateProgress(ctx context.Context, rec *view.Record) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.views[rec.ID]
	if !ok {
		return false, notFound("view", rec.ID)
	}
	if stored.SettledAt != nil {
		return false, nil
	}

	stored.WatchDurationSeconds = rec.WatchDurationSeconds
	stored.TotalDurationSeconds = rec.TotalDurationSeconds
	stored.WatchPercentage = rec.WatchPercentage
	stored.Qualified = rec.Qualified
	stored.RatePerView = rec.RatePerView
	stored.RevenueEarned = rec.RevenueEarned
	stored.EndedAt = rec.EndedAt
	stored.UpdatedAt = r.s.Now()
	rec.UpdatedAt = stored.UpdatedAt
	return true, nil
}

func (r *ViewRepository) Stats(ctx context.Context, videoID int64, rg period.Range) (*view.Stats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	s := view.Stats{VideoID: videoID, EstimatedRevenue: decimal.Zero}
	viewers := map[int64]struct{}{}
	var watchSum int64
	var pctSum float64

	for _, rec := range r.s.views {
		if rec.VideoID != videoID || !rg.Contains(rec.StartedAt) {
			continue
		}
		s.TotalViews++
		watchSum += int64(rec.WatchDurationSeconds)
		pctSum += rec.WatchPercentage
		if rec.Qualified {
			s.QualifiedViews++
			s.EstimatedRevenue = s.EstimatedRevenue.Add(rec.RevenueEarned)
		}
		if rec.ViewerID != nil {
			viewers[*rec.ViewerID] = struct{}{}
		}
	}

	s.UniqueViewers = int64(len(viewers))
	if s.TotalViews > 0 {
		s.AvgWatchTime = float64(watchSum) / float64(s.TotalViews)
		s.AvgWatchPercentage = pctSum / float64(s.TotalViews)
	}
	return &s, nil
}

func (r *ViewRepository) UpsertWatchHistory(ctx context.Context, h *view.WatchHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := historyKey{userID: h.UserID, videoID: h.VideoID}
	if existing, ok := r.s.history[key]; ok {
		h.ID = existing.ID
		h.CreatedAt = existing.CreatedAt
	} else {
		h.ID = r.s.nextID()
		h.CreatedAt = r.s.Now()
	}
	cp := *h
	r.s.history[key] = &cp
	return nil
}

func (r *ViewRepository) ListWatchHistory(ctx context.Context, userID int64, page, pageSize int) ([]*view.WatchHistory, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	all := []*view.WatchHistory{}
	for _, h := range r.s.history {
		if h.UserID == userID {
			cp := *h
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastWatchedAt.Equal(all[j].LastWatchedAt) {
			return all[i].LastWatchedAt.After(all[j].LastWatchedAt)
		}
		return all[i].ID > all[j].ID
	})

	return paginate(all, page, pageSize), int64(len(all)), nil
}

func (r *ViewRepository) PopularVideos(ctx context.Context, rg period.Range, limit int) ([]view.PopularVideo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	byVideo := map[int64]*view.PopularVideo{}
	for _, rec := range r.s.views {
		if !rg.Contains(rec.StartedAt) {
			continue
		}
		p, ok := byVideo[rec.VideoID]
		if !ok {
			v := r.s.videos[rec.VideoID]
			p = &view.PopularVideo{VideoID: rec.VideoID}
			if v != nil {
				p.Title = v.Title
				p.CreatorID = v.CreatorID
			}
			byVideo[rec.VideoID] = p
		}
		p.Views++
		if rec.Qualified {
			p.QualifiedViews++
		}
	}

	out := make([]view.PopularVideo, 0, len(byVideo))
	for _, p := range byVideo {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].VideoID < out[j].VideoID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ViewRepository) SettleBefore(ctx context.Context, cutoff, idleBefore, at time.Time) (*view.Settlement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	s := view.Settlement{Cutoff: cutoff, Revenue: decimal.Zero}
	for _, rec := range r.s.views {
		if rec.SettledAt != nil || !rec.StartedAt.Before(cutoff) || !rec.UpdatedAt.Before(idleBefore) {
			continue
		}
		settledAt := at
		rec.SettledAt = &settledAt
		rec.UpdatedAt = at
		s.SettledViews++
		if rec.Qualified {
			s.QualifiedViews++
			s.Revenue = s.Revenue.Add(rec.RevenueEarned)
		}
	}
	return &s, nil
}

func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
