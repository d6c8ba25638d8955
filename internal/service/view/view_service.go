// internal/service/view/view_service.go
package view

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"royalty-service/internal/domain/catalog"
	"royalty-service/internal/domain/period"
	"royalty-service/internal/domain/view"
	"royalty-service/internal/metrics"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPageSize     = 20
	maxPageSize         = 100
	defaultPopularLimit = 10
	maxPopularLimit     = 50

	// DefaultSettleGrace covers the longest playback session we expect.
	DefaultSettleGrace = 6 * time.Hour
)

// VideoCatalog is the read-only catalog lookup plus the denormalised counter.
type VideoCatalog interface {
	FindVideo(ctx context.Context, id int64) (*catalog.Video, error)
	IncrementViewCount(ctx context.Context, videoID int64) error
}

type Repository interface {
	Create(ctx context.Context, rec *view.Record) error
	FindByID(ctx context.Context, id int64) (*view.Record, error)
	UpdateProgress(ctx context.Context, rec *view.Record) (bool, error)
	Stats(ctx context.Context, videoID int64, rg period.Range) (*view.Stats, error)
	UpsertWatchHistory(ctx context.Context, h *view.WatchHistory) error
	ListWatchHistory(ctx context.Context, userID int64, page, pageSize int) ([]*view.WatchHistory, int64, error)
	PopularVideos(ctx context.Context, rg period.Range, limit int) ([]view.PopularVideo, error)
	// SettleBefore freezes unsettled records that started before cutoff and
	// were last written before idleBefore.
	SettleBefore(ctx context.Context, cutoff, idleBefore, at time.Time) (*view.Settlement, error)
}

// Notifier receives settlement summaries after they commit.
type Notifier interface {
	NotifyViewsSettled(s *view.Settlement)
}

type ViewService struct {
	catalog     VideoCatalog
	repo        Repository
	rate        decimal.Decimal
	settleGrace time.Duration
	notifier    Notifier
	logger      *zap.Logger
	now         func() time.Time
}

// NewViewService stamps every new or updated record with rate.
func NewViewService(catalog VideoCatalog, repo Repository, rate decimal.Decimal, logger *zap.Logger) *ViewService {
	return &ViewService{
		catalog:     catalog,
		repo:        repo,
		rate:        rate,
		settleGrace: DefaultSettleGrace,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *ViewService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetSettleGrace sets how long a session must go without progress before
// settlement may freeze it. Non-positive values keep the default.
func (s *ViewService) SetSettleGrace(d time.Duration) {
	if d > 0 {
		s.settleGrace = d
	}
}

// RecordOrUpdateView starts a new session when viewID is nil and otherwise
// recomputes the existing one from the latest durations.
func (s *ViewService) RecordOrUpdateView(ctx context.Context, viewID, viewerID *int64, req *view.TrackViewRequest) (*view.Record, error) {
	if viewID == nil {
		return s.TrackView(ctx, viewerID, req)
	}
	return s.UpdateProgress(ctx, *viewID, viewerID, &view.UpdateProgressRequest{
		WatchDuration: req.WatchDuration,
		TotalDuration: req.TotalDuration,
	})
}

// TrackView records a new playback session.
func (s *ViewService) TrackView(ctx context.Context, viewerID *int64, req *view.TrackViewRequest) (*view.Record, error) {
	if err := checkDurations(req.WatchDuration, req.TotalDuration); err != nil {
		return nil, err
	}

	video, err := s.catalog.FindVideo(ctx, req.VideoID)
	if err != nil {
		return nil, fmt.Errorf("find video %d: %w", req.VideoID, err)
	}

	total := req.TotalDuration
	if total == 0 {
		total = video.DurationSeconds
	}

	now := s.now()
	rec := &view.Record{
		ViewerID:   viewerID,
		VideoID:    video.ID,
		OwnerID:    video.CreatorID,
		Quality:    req.Quality,
		DeviceInfo: req.DeviceInfo,
		StartedAt:  now,
	}
	rec.Apply(req.WatchDuration, total, s.rate)

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create view record: %w", err)
	}

	// best effort: the record is already written
	if err := s.catalog.IncrementViewCount(ctx, video.ID); err != nil {
		metrics.ViewCounterFailures.Inc()
		s.logger.Warn("failed to increment video view count",
			zap.Int64("video_id", video.ID),
			zap.Error(err),
		)
	}

	metrics.ViewsRecorded.WithLabelValues("track", strconv.FormatBool(rec.Qualified)).Inc()
	s.logger.Info("view recorded",
		zap.Int64("view_id", rec.ID),
		zap.Int64("video_id", rec.VideoID),
		zap.Int("watch_seconds", rec.WatchDurationSeconds),
		zap.Bool("qualified", rec.Qualified),
	)
	return rec, nil
}

// UpdateProgress recomputes a session from its latest durations. Settled
// sessions are frozen and the update fails with ErrConflict.
func (s *ViewService) UpdateProgress(ctx context.Context, viewID int64, viewerID *int64, req *view.UpdateProgressRequest) (*view.Record, error) {
	if err := checkDurations(req.WatchDuration, req.TotalDuration); err != nil {
		return nil, err
	}

	rec, err := s.repo.FindByID(ctx, viewID)
	if err != nil {
		return nil, fmt.Errorf("find view %d: %w", viewID, err)
	}
	if rec.ViewerID != nil && (viewerID == nil || *viewerID != *rec.ViewerID) {
		return nil, fmt.Errorf("%w: view %d belongs to another viewer", xerrors.ErrForbidden, viewID)
	}
	if rec.Settled() {
		return nil, settledErr(viewID)
	}

	total := req.TotalDuration
	if total == 0 {
		total = rec.TotalDurationSeconds
	}
	if total == 0 {
		if video, err := s.catalog.FindVideo(ctx, rec.VideoID); err == nil {
			total = video.DurationSeconds
		}
	}

	now := s.now()
	rec.Apply(req.WatchDuration, total, s.rate)
	rec.EndedAt = &now

	updated, err := s.repo.UpdateProgress(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("update view %d: %w", viewID, err)
	}
	if !updated {
		// settled between the read and the write
		return nil, settledErr(viewID)
	}

	metrics.ViewsRecorded.WithLabelValues("update", strconv.FormatBool(rec.Qualified)).Inc()
	s.logger.Info("view updated",
		zap.Int64("view_id", rec.ID),
		zap.Int("watch_seconds", rec.WatchDurationSeconds),
		zap.Float64("watch_percentage", rec.WatchPercentage),
		zap.Bool("qualified", rec.Qualified),
	)
	return rec, nil
}

// GetViewStats is a pure read over the period's current window.
func (s *ViewService) GetViewStats(ctx context.Context, videoID int64, p period.Period) (*view.Stats, error) {
	if _, err := s.catalog.FindVideo(ctx, videoID); err != nil {
		return nil, fmt.Errorf("find video %d: %w", videoID, err)
	}

	w := p.Window(s.now())
	stats, err := s.repo.Stats(ctx, videoID, w.Current)
	if err != nil {
		return nil, fmt.Errorf("view stats: %w", err)
	}

	stats.Period = string(w.Period)
	stats.AvgWatchTime = round2(stats.AvgWatchTime)
	stats.AvgWatchPercentage = round2(stats.AvgWatchPercentage)
	if stats.TotalViews > 0 {
		stats.QualificationRate = round2(float64(stats.QualifiedViews) / float64(stats.TotalViews) * 100)
	}
	return stats, nil
}

// RecordWatchProgress upserts the (user, video) resume point.
func (s *ViewService) RecordWatchProgress(ctx context.Context, userID *int64, req *view.WatchProgressRequest) (*view.WatchHistory, error) {
	if userID == nil {
		return nil, xerrors.Invalid("watch history requires a signed-in viewer")
	}
	if err := checkDurations(req.ProgressSeconds, req.DurationSeconds); err != nil {
		return nil, err
	}

	video, err := s.catalog.FindVideo(ctx, req.VideoID)
	if err != nil {
		return nil, fmt.Errorf("find video %d: %w", req.VideoID, err)
	}

	duration := req.DurationSeconds
	if duration == 0 {
		duration = video.DurationSeconds
	}
	pct := view.Percentage(req.ProgressSeconds, duration)

	h := &view.WatchHistory{
		UserID:          *userID,
		VideoID:         video.ID,
		ProgressSeconds: req.ProgressSeconds,
		DurationSeconds: duration,
		WatchPercentage: pct,
		Completed:       pct >= view.CompletedPercentage,
		LastWatchedAt:   s.now(),
	}
	if err := s.repo.UpsertWatchHistory(ctx, h); err != nil {
		return nil, fmt.Errorf("save watch history: %w", err)
	}
	return h, nil
}

func (s *ViewService) GetUserWatchHistory(ctx context.Context, userID int64, page, pageSize int) (*view.WatchHistoryListResponse, error) {
	page, pageSize = normalizePage(page, pageSize)

	items, total, err := s.repo.ListWatchHistory(ctx, userID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list watch history: %w", err)
	}

	return &view.WatchHistoryListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

func (s *ViewService) GetPopularVideos(ctx context.Context, p period.Period, limit int) ([]view.PopularVideo, error) {
	if limit <= 0 {
		limit = defaultPopularLimit
	}
	if limit > maxPopularLimit {
		limit = maxPopularLimit
	}

	w := p.Window(s.now())
	videos, err := s.repo.PopularVideos(ctx, w.Current, limit)
	if err != nil {
		return nil, fmt.Errorf("popular videos: %w", err)
	}
	return videos, nil
}

// SettleViews freezes every unsettled session that started before cutoff and
// has been idle for the settle grace. A zero cutoff means now minus the grace.
// Sessions still receiving progress are never frozen, whatever the cutoff.
func (s *ViewService) SettleViews(ctx context.Context, cutoff time.Time) (*view.Settlement, error) {
	now := s.now()
	idleBefore := now.Add(-s.settleGrace)
	if cutoff.IsZero() {
		cutoff = idleBefore
	}
	if cutoff.After(now) {
		return nil, xerrors.Invalid("settlement cutoff %s is in the future", cutoff.Format(time.RFC3339))
	}

	settlement, err := s.repo.SettleBefore(ctx, cutoff, idleBefore, now)
	if err != nil {
		return nil, fmt.Errorf("settle views: %w", err)
	}

	metrics.ViewsSettled.Add(float64(settlement.SettledViews))
	s.logger.Info("views settled",
		zap.Time("cutoff", cutoff),
		zap.Time("idle_before", idleBefore),
		zap.Int64("settled_views", settlement.SettledViews),
		zap.Int64("qualified_views", settlement.QualifiedViews),
		zap.String("revenue", settlement.Revenue.String()),
	)

	if s.notifier != nil && settlement.SettledViews > 0 {
		s.notifier.NotifyViewsSettled(settlement)
	}
	return settlement, nil
}

func settledErr(viewID int64) error {
	return fmt.Errorf("view %d is settled and no longer accepts progress: %w", viewID, xerrors.ErrConflict)
}

func checkDurations(watch, total int) error {
	if watch < 0 {
		return xerrors.Invalid("watch duration must not be negative")
	}
	if total < 0 {
		return xerrors.Invalid("total duration must not be negative")
	}
	if watch > view.MaxDurationSeconds || total > view.MaxDurationSeconds {
		return xerrors.Invalid("durations must not exceed %d seconds", view.MaxDurationSeconds)
	}
	return nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
