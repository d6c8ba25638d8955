// internal/repository/postgres/catalog_repo.go
package postgres

import (
	"context"
	"fmt"

	"royalty-service/internal/domain/catalog"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogRepository reads the video and creator rows owned by the catalog.
// The ledger writes nothing here except the denormalised view counter.
type CatalogRepository struct {
	db *pgxpool.Pool
}

func NewCatalogRepository(db *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) FindVideo(ctx context.Context, id int64) (*catalog.Video, error) {
	query := `
		SELECT id, creator_id, title, duration_seconds, view_count, created_at
		FROM videos
		WHERE id = $1
	`

	var v catalog.Video
	err := r.db.QueryRow(ctx, query, id).Scan(
		&v.ID, &v.CreatorID, &v.Title, &v.DurationSeconds, &v.ViewCount, &v.CreatedAt,
	)
	if isNoRows(err) {
		return nil, fmt.Errorf("video %d: %w", id, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find video: %w", err)
	}

	return &v, nil
}

func (r *CatalogRepository) FindCreator(ctx context.Context, id int64) (*catalog.Creator, error) {
	query := `
		SELECT id, user_id, display_name, royalty_percentage, created_at
		FROM content_creators
		WHERE id = $1
	`

	var c catalog.Creator
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.UserID, &c.DisplayName, &c.RoyaltyPercentage, &c.CreatedAt,
	)
	if isNoRows(err) {
		return nil, fmt.Errorf("creator %d: %w", id, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find creator: %w", err)
	}

	return &c, nil
}

// IncrementViewCount bumps the display counter. It is not a ledger value.
func (r *CatalogRepository) IncrementViewCount(ctx context.Context, videoID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE videos SET view_count = view_count + 1 WHERE id = $1`, videoID)
	if err != nil {
		return fmt.Errorf("failed to increment view count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("video %d: %w", videoID, xerrors.ErrNotFound)
	}
	return nil
}
