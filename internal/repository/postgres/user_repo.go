// internal/repository/postgres/user_repo.go
package postgres

import (
	"context"
	"fmt"

	"royalty-service/internal/domain/user"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// UserRepository owns a single column of the user row: the entitlement tier.
type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetTier(ctx context.Context, userID int64) (user.Tier, error) {
	var tier user.Tier
	err := r.db.QueryRow(ctx, `SELECT user_type FROM users WHERE id = $1`, userID).Scan(&tier)
	if isNoRows(err) {
		return "", fmt.Errorf("user %d: %w", userID, xerrors.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read tier: %w", err)
	}
	return tier, nil
}

// SetTierWithTx writes tier for every listed user except admins, whose tier is
// never changed by subscription transitions.
func (r *UserRepository) SetTierWithTx(ctx context.Context, tx pgx.Tx, userIDs []int64, tier user.Tier) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE users
		SET user_type = $2, updated_at = NOW()
		WHERE id = ANY($1::bigint[])
		  AND user_type <> 'admin'
		  AND user_type <> $2
	`

	tag, err := tx.Exec(ctx, query, pq.Array(userIDs), string(tier))
	if err != nil {
		return 0, fmt.Errorf("failed to set tier: %w", err)
	}
	return tag.RowsAffected(), nil
}
