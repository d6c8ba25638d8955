// internal/repository/postgres/analytics_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"royalty-service/internal/domain/period"
	"royalty-service/internal/domain/revenue"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AnalyticsRepository holds the read-only rollup queries behind creator and
// platform analytics. Every window filter is [start, end) on the row's own
// timestamp, with NULL meaning unbounded.
type AnalyticsRepository struct {
	db *pgxpool.Pool
}

func NewAnalyticsRepository(db *pgxpool.Pool) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

func (r *AnalyticsRepository) CreatorOverview(ctx context.Context, creatorID int64, rg period.Range) (*revenue.Overview, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM videos WHERE creator_id = $1),
			(SELECT COUNT(*) FROM video_views vv
			  WHERE vv.owner_id = $1
			    AND ($2::timestamptz IS NULL OR vv.started_at >= $2)
			    AND ($3::timestamptz IS NULL OR vv.started_at < $3)),
			(SELECT COUNT(*) FROM video_views vv
			  WHERE vv.owner_id = $1 AND vv.qualified
			    AND ($2::timestamptz IS NULL OR vv.started_at >= $2)
			    AND ($3::timestamptz IS NULL OR vv.started_at < $3)),
			(SELECT COUNT(*) FROM video_likes l JOIN videos v ON v.id = l.video_id
			  WHERE v.creator_id = $1
			    AND ($2::timestamptz IS NULL OR l.created_at >= $2)
			    AND ($3::timestamptz IS NULL OR l.created_at < $3)),
			(SELECT COUNT(*) FROM downloads d JOIN videos v ON v.id = d.video_id
			  WHERE v.creator_id = $1
			    AND ($2::timestamptz IS NULL OR d.created_at >= $2)
			    AND ($3::timestamptz IS NULL OR d.created_at < $3))
	`

	var o revenue.Overview
	err := r.db.QueryRow(ctx, query, creatorID, nullTime(rg.Start), nullTime(rg.End)).Scan(
		&o.TotalVideos, &o.TotalViews, &o.QualifiedViews, &o.TotalLikes, &o.TotalDownloads,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load creator overview: %w", err)
	}
	return &o, nil
}

// CreatorTopVideos returns every video of the creator with its window counters,
// already ordered by views desc, id asc.
func (r *AnalyticsRepository) CreatorTopVideos(ctx context.Context, creatorID int64, rg period.Range, limit int) ([]revenue.VideoStat, error) {
	query := `
		SELECT v.id, v.title,
		       COUNT(vv.id),
		       COUNT(vv.id) FILTER (WHERE vv.qualified),
		       (SELECT COUNT(*) FROM video_likes l
		         WHERE l.video_id = v.id
		           AND ($2::timestamptz IS NULL OR l.created_at >= $2)
		           AND ($3::timestamptz IS NULL OR l.created_at < $3))
		FROM videos v
		LEFT JOIN video_views vv ON vv.video_id = v.id
		      AND ($2::timestamptz IS NULL OR vv.started_at >= $2)
		      AND ($3::timestamptz IS NULL OR vv.started_at < $3)
		WHERE v.creator_id = $1
		GROUP BY v.id, v.title
		ORDER BY COUNT(vv.id) DESC, v.id ASC
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, query, creatorID, nullTime(rg.Start), nullTime(rg.End), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top videos: %w", err)
	}
	defer rows.Close()

	stats := []revenue.VideoStat{}
	for rows.Next() {
		var s revenue.VideoStat
		if err := rows.Scan(&s.VideoID, &s.Title, &s.Views, &s.QualifiedViews, &s.Likes); err != nil {
			return nil, fmt.Errorf("failed to scan top video: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// CreatorStoredRevenue sums the revenue each qualified view recorded at write time.
func (r *AnalyticsRepository) CreatorStoredRevenue(ctx context.Context, creatorID int64, rg period.Range) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(revenue_earned), 0)
		FROM video_views
		WHERE owner_id = $1 AND qualified
		  AND ($2::timestamptz IS NULL OR started_at >= $2)
		  AND ($3::timestamptz IS NULL OR started_at < $3)
	`

	var gross decimal.Decimal
	if err := r.db.QueryRow(ctx, query, creatorID, nullTime(rg.Start), nullTime(rg.End)).Scan(&gross); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum creator revenue: %w", err)
	}
	return gross, nil
}

func (r *AnalyticsRepository) PlatformOverview(ctx context.Context, rg period.Range, now time.Time) (*revenue.PlatformOverview, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM content_creators),
			(SELECT COUNT(*) FROM videos),
			(SELECT COUNT(*) FROM subscriptions WHERE status = 'active' AND end_date > $3),
			(SELECT COUNT(*) FROM users
			  WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			    AND ($2::timestamptz IS NULL OR created_at < $2))
	`

	var o revenue.PlatformOverview
	err := r.db.QueryRow(ctx, query, nullTime(rg.Start), nullTime(rg.End), now).Scan(
		&o.TotalUsers, &o.TotalCreators, &o.TotalVideos, &o.ActiveSubscriptions, &o.NewUsers,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load platform overview: %w", err)
	}
	return &o, nil
}

func (r *AnalyticsRepository) Engagement(ctx context.Context, rg period.Range) (*revenue.Engagement, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE qualified),
			(SELECT COUNT(*) FROM video_likes
			  WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			    AND ($2::timestamptz IS NULL OR created_at < $2)),
			(SELECT COUNT(*) FROM downloads
			  WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			    AND ($2::timestamptz IS NULL OR created_at < $2)),
			COALESCE(AVG(watch_duration_seconds), 0)::float8
		FROM video_views
		WHERE ($1::timestamptz IS NULL OR started_at >= $1)
		  AND ($2::timestamptz IS NULL OR started_at < $2)
	`

	var e revenue.Engagement
	err := r.db.QueryRow(ctx, query, nullTime(rg.Start), nullTime(rg.End)).Scan(
		&e.TotalViews, &e.QualifiedViews, &e.TotalLikes, &e.TotalDownloads, &e.AvgWatchTime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load engagement: %w", err)
	}
	return &e, nil
}

// TopCreators ranks creators by views in the window. Revenue is left to the
// caller so one failing creator can be degraded on its own.
func (r *AnalyticsRepository) TopCreators(ctx context.Context, rg period.Range, limit int) ([]revenue.CreatorStat, error) {
	query := `
		SELECT c.id, c.display_name,
		       COUNT(vv.id),
		       COUNT(vv.id) FILTER (WHERE vv.qualified)
		FROM content_creators c
		LEFT JOIN video_views vv ON vv.owner_id = c.id
		      AND ($1::timestamptz IS NULL OR vv.started_at >= $1)
		      AND ($2::timestamptz IS NULL OR vv.started_at < $2)
		GROUP BY c.id, c.display_name
		ORDER BY COUNT(vv.id) DESC, c.id ASC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, nullTime(rg.Start), nullTime(rg.End), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top creators: %w", err)
	}
	defer rows.Close()

	stats := []revenue.CreatorStat{}
	for rows.Next() {
		var s revenue.CreatorStat
		if err := rows.Scan(&s.CreatorID, &s.DisplayName, &s.Views, &s.QualifiedViews); err != nil {
			return nil, fmt.Errorf("failed to scan top creator: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// PaymentsRevenue sums successful payments settled inside the window.
func (r *AnalyticsRepository) PaymentsRevenue(ctx context.Context, rg period.Range) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM payments
		WHERE status = 'successful'
		  AND ($1::timestamptz IS NULL OR paid_at >= $1)
		  AND ($2::timestamptz IS NULL OR paid_at < $2)
	`

	var total decimal.Decimal
	if err := r.db.QueryRow(ctx, query, nullTime(rg.Start), nullTime(rg.End)).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum payments: %w", err)
	}
	return total, nil
}

// RoyaltyLiability is the creators' share of stored view revenue in the window.
func (r *AnalyticsRepository) RoyaltyLiability(ctx context.Context, rg period.Range) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(vv.revenue_earned * LEAST(GREATEST(c.royalty_percentage, 0), 1)), 0)
		FROM video_views vv
		JOIN content_creators c ON c.id = vv.owner_id
		WHERE vv.qualified
		  AND ($1::timestamptz IS NULL OR vv.started_at >= $1)
		  AND ($2::timestamptz IS NULL OR vv.started_at < $2)
	`

	var total decimal.Decimal
	if err := r.db.QueryRow(ctx, query, nullTime(rg.Start), nullTime(rg.End)).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum royalty liability: %w", err)
	}
	return total, nil
}

// RevenueRows groups stored revenue per (creator, video) for a report.
func (r *AnalyticsRepository) RevenueRows(ctx context.Context, f revenue.ReportFilter) ([]revenue.ReportRow, error) {
	query := `
		SELECT c.id, c.display_name, c.royalty_percentage,
		       v.id, v.title,
		       COUNT(vv.id),
		       COALESCE(SUM(vv.revenue_earned), 0)
		FROM video_views vv
		JOIN videos v ON v.id = vv.video_id
		JOIN content_creators c ON c.id = vv.owner_id
		WHERE vv.qualified
		  AND ($1::bigint IS NULL OR c.id = $1)
		  AND ($2::timestamptz IS NULL OR vv.started_at >= $2)
		  AND ($3::timestamptz IS NULL OR vv.started_at < $3)
		GROUP BY c.id, c.display_name, c.royalty_percentage, v.id, v.title
	`

	rows, err := r.db.Query(ctx, query, f.CreatorID, f.Start, f.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query revenue rows: %w", err)
	}
	defer rows.Close()

	out := []revenue.ReportRow{}
	for rows.Next() {
		var row revenue.ReportRow
		if err := rows.Scan(
			&row.CreatorID, &row.CreatorName, &row.RoyaltyPercentage,
			&row.VideoID, &row.VideoTitle, &row.QualifiedViews, &row.Revenue,
		); err != nil {
			return nil, fmt.Errorf("failed to scan revenue row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
