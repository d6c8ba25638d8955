// internal/repository/postgres/view_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"royalty-service/internal/domain/period"
	"royalty-service/internal/domain/view"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ViewRepository struct {
	db *pgxpool.Pool
}

func NewViewRepository(db *pgxpool.Pool) *ViewRepository {
	return &ViewRepository{db: db}
}

const viewColumns = `
	id, viewer_id, video_id, owner_id, watch_duration_seconds, total_duration_seconds,
	watch_percentage, qualified, rate_per_view, revenue_earned, quality, device_info,
	started_at, ended_at, settled_at, updated_at
`

func scanView(row pgx.Row) (*view.Record, error) {
	var rec view.Record
	var quality *string
	var deviceJSON []byte

	err := row.Scan(
		&rec.ID, &rec.ViewerID, &rec.VideoID, &rec.OwnerID, &rec.WatchDurationSeconds, &rec.TotalDurationSeconds,
		&rec.WatchPercentage, &rec.Qualified, &rec.RatePerView, &rec.RevenueEarned, &quality, &deviceJSON,
		&rec.StartedAt, &rec.EndedAt, &rec.SettledAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if quality != nil {
		rec.Quality = *quality
	}
	if len(deviceJSON) > 0 {
		if err := json.Unmarshal(deviceJSON, &rec.DeviceInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device info: %w", err)
		}
	}

	return &rec, nil
}

// Create inserts a view record and fills in its id and timestamps.
func (r *ViewRepository) Create(ctx context.Context, rec *view.Record) error {
	query := `
		INSERT INTO video_views (
			viewer_id, video_id, owner_id, watch_duration_seconds, total_duration_seconds,
			watch_percentage, qualified, rate_per_view, revenue_earned, quality, device_info,
			started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, started_at, updated_at
	`

	var deviceJSON []byte
	var err error
	if len(rec.DeviceInfo) > 0 {
		deviceJSON, err = json.Marshal(rec.DeviceInfo)
		if err != nil {
			return fmt.Errorf("failed to marshal device info: %w", err)
		}
	}

	var quality *string
	if rec.Quality != "" {
		quality = &rec.Quality
	}

	err = r.db.QueryRow(
		ctx, query,
		rec.ViewerID, rec.VideoID, rec.OwnerID, rec.WatchDurationSeconds, rec.TotalDurationSeconds,
		rec.WatchPercentage, rec.Qualified, rec.RatePerView, rec.RevenueEarned, quality, deviceJSON,
		rec.StartedAt, rec.EndedAt,
	).Scan(&rec.ID, &rec.StartedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create view record: %w", err)
	}

	return nil
}

func (r *ViewRepository) FindByID(ctx context.Context, id int64) (*view.Record, error) {
	query := `SELECT ` + viewColumns + ` FROM video_views WHERE id = $1`

	rec, err := scanView(r.db.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, fmt.Errorf("view %d: %w", id, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find view record: %w", err)
	}
	return rec, nil
}

// UpdateProgress rewrites the derived fields of an unsettled record. It returns
// false when the record was settled before the write landed.
func (r *ViewRepository) UpdateProgress(ctx context.Context, rec *view.Record) (bool, error) {
	query := `
		UPDATE video_views
		SET watch_duration_seconds = $2,
		    total_duration_seconds = $3,
		    watch_percentage = $4,
		    qualified = $5,
		    rate_per_view = $6,
		    revenue_earned = $7,
		    ended_at = $8,
		    updated_at = NOW()
		WHERE id = $1 AND settled_at IS NULL
		RETURNING updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		rec.ID, rec.WatchDurationSeconds, rec.TotalDurationSeconds,
		rec.WatchPercentage, rec.Qualified, rec.RatePerView, rec.RevenueEarned, rec.EndedAt,
	).Scan(&rec.UpdatedAt)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update view progress: %w", err)
	}
	return true, nil
}

// Stats aggregates one video's views whose start falls inside rg.
func (r *ViewRepository) Stats(ctx context.Context, videoID int64, rg period.Range) (*view.Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE qualified),
			COUNT(DISTINCT viewer_id),
			COALESCE(AVG(watch_duration_seconds), 0)::float8,
			COALESCE(AVG(watch_percentage), 0)::float8,
			COALESCE(SUM(revenue_earned) FILTER (WHERE qualified), 0)
		FROM video_views
		WHERE video_id = $1
		  AND ($2::timestamptz IS NULL OR started_at >= $2)
		  AND ($3::timestamptz IS NULL OR started_at < $3)
	`

	s := view.Stats{VideoID: videoID}
	err := r.db.QueryRow(ctx, query, videoID, nullTime(rg.Start), nullTime(rg.End)).Scan(
		&s.TotalViews, &s.QualifiedViews, &s.UniqueViewers,
		&s.AvgWatchTime, &s.AvgWatchPercentage, &s.EstimatedRevenue,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate view stats: %w", err)
	}
	return &s, nil
}

// UpsertWatchHistory keeps one resume row per (user, video); the latest write wins.
func (r *ViewRepository) UpsertWatchHistory(ctx context.Context, h *view.WatchHistory) error {
	query := `
		INSERT INTO watch_history (
			user_id, video_id, progress_seconds, duration_seconds, watch_percentage, completed, last_watched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, video_id) DO UPDATE SET
			progress_seconds = EXCLUDED.progress_seconds,
			duration_seconds = EXCLUDED.duration_seconds,
			watch_percentage = EXCLUDED.watch_percentage,
			completed = EXCLUDED.completed,
			last_watched_at = EXCLUDED.last_watched_at
		RETURNING id, created_at
	`

	err := r.db.QueryRow(
		ctx, query,
		h.UserID, h.VideoID, h.ProgressSeconds, h.DurationSeconds, h.WatchPercentage, h.Completed, h.LastWatchedAt,
	).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert watch history: %w", err)
	}
	return nil
}

func (r *ViewRepository) ListWatchHistory(ctx context.Context, userID int64, page, pageSize int) ([]*view.WatchHistory, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM watch_history WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count watch history: %w", err)
	}

	query := `
		SELECT id, user_id, video_id, progress_seconds, duration_seconds, watch_percentage,
		       completed, last_watched_at, created_at
		FROM watch_history
		WHERE user_id = $1
		ORDER BY last_watched_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, pageSize, pageOffset(page, pageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list watch history: %w", err)
	}
	defer rows.Close()

	items := []*view.WatchHistory{}
	for rows.Next() {
		var h view.WatchHistory
		if err := rows.Scan(
			&h.ID, &h.UserID, &h.VideoID, &h.ProgressSeconds, &h.DurationSeconds, &h.WatchPercentage,
			&h.Completed, &h.LastWatchedAt, &h.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan watch history: %w", err)
		}
		items = append(items, &h)
	}

	return items, total, rows.Err()
}

// PopularVideos ranks videos by views inside rg, ties broken by id.
func (r *ViewRepository) PopularVideos(ctx context.Context, rg period.Range, limit int) ([]view.PopularVideo, error) {
	query := `
		SELECT v.id, v.title, v.creator_id,
		       COUNT(vv.id),
		       COUNT(vv.id) FILTER (WHERE vv.qualified)
		FROM video_views vv
		JOIN videos v ON v.id = vv.video_id
		WHERE ($1::timestamptz IS NULL OR vv.started_at >= $1)
		  AND ($2::timestamptz IS NULL OR vv.started_at < $2)
		GROUP BY v.id, v.title, v.creator_id
		ORDER BY COUNT(vv.id) DESC, v.id ASC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, nullTime(rg.Start), nullTime(rg.End), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query popular videos: %w", err)
	}
	defer rows.Close()

	out := []view.PopularVideo{}
	for rows.Next() {
		var p view.PopularVideo
		if err := rows.Scan(&p.VideoID, &p.Title, &p.CreatorID, &p.Views, &p.QualifiedViews); err != nil {
			return nil, fmt.Errorf("failed to scan popular video: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SettleBefore freezes every unsettled record that started before cutoff and
// saw no progress since idleBefore.
func (r *ViewRepository) SettleBefore(ctx context.Context, cutoff, idleBefore, at time.Time) (*view.Settlement, error) {
	query := `
		WITH settled AS (
			UPDATE video_views
			SET settled_at = $2, updated_at = $2
			WHERE settled_at IS NULL AND started_at < $1 AND updated_at < $3
			RETURNING qualified, revenue_earned
		)
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE qualified),
		       COALESCE(SUM(revenue_earned) FILTER (WHERE qualified), 0)
		FROM settled
	`

	s := view.Settlement{Cutoff: cutoff}
	if err := r.db.QueryRow(ctx, query, cutoff, at, idleBefore).Scan(&s.SettledViews, &s.QualifiedViews, &s.Revenue); err != nil {
		return nil, fmt.Errorf("failed to settle views: %w", err)
	}
	return &s, nil
}
