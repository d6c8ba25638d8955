// internal/repository/postgres/subscription_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"royalty-service/internal/domain/subscription"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type SubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `
	id, reference, user_id, plan_type, billing_cycle, amount, currency,
	start_date, end_date, status, cancelled_at, created_at, updated_at
`

func scanSubscription(row pgx.Row, extra ...any) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	dest := []any{
		&sub.ID, &sub.Reference, &sub.UserID, &sub.PlanType, &sub.BillingCycle, &sub.Amount, &sub.Currency,
		&sub.StartDate, &sub.EndDate, &sub.Status, &sub.CancelledAt, &sub.CreatedAt, &sub.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateWithTx inserts a live subscription. The partial unique index on live
// rows turns a second concurrent create for the same user into ErrConflict.
func (r *SubscriptionRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, sub *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			reference, user_id, plan_type, billing_cycle, amount, currency,
			start_date, end_date, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(
		ctx, query,
		sub.Reference, sub.UserID, sub.PlanType, sub.BillingCycle, sub.Amount, sub.Currency,
		sub.StartDate, sub.EndDate, sub.Status,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %d already has a live subscription: %w", sub.UserID, xerrors.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, id int64) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, fmt.Errorf("subscription %d: %w", id, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return sub, nil
}

// FindForUpdateWithTx locks the row for the rest of tx.
func (r *SubscriptionRepository) FindForUpdateWithTx(ctx context.Context, tx pgx.Tx, id int64) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 FOR UPDATE`

	sub, err := scanSubscription(tx.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, fmt.Errorf("subscription %d: %w", id, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock subscription: %w", err)
	}
	return sub, nil
}

// FindLiveByUser returns the user's active or past_due subscription.
func (r *SubscriptionRepository) FindLiveByUser(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND status IN ('active', 'past_due')
		ORDER BY end_date DESC
		LIMIT 1
	`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, userID))
	if isNoRows(err) {
		return nil, fmt.Errorf("no live subscription for user %d: %w", userID, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find live subscription: %w", err)
	}
	return sub, nil
}

// TransitionWithTx moves the row from -> to only if it is still in from.
// endDate, when set, replaces the stored end date.
func (r *SubscriptionRepository) TransitionWithTx(
	ctx context.Context, tx pgx.Tx, id int64,
	from, to subscription.SubscriptionStatus, endDate *time.Time, at time.Time,
) (*subscription.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status = $3,
		    end_date = COALESCE($4, end_date),
		    cancelled_at = CASE WHEN $3 = 'cancelled' THEN $5::timestamptz ELSE cancelled_at END,
		    updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(tx.QueryRow(ctx, query, id, string(from), string(to), endDate, at))
	if isNoRows(err) {
		return nil, fmt.Errorf("subscription %d is no longer %s: %w", id, from, xerrors.ErrStaleTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition subscription: %w", err)
	}
	return sub, nil
}

// ChangePlanWithTx rewrites plan, cycle, amount and period of an active row.
func (r *SubscriptionRepository) ChangePlanWithTx(
	ctx context.Context, tx pgx.Tx, id int64,
	plan subscription.PlanType, cycle subscription.BillingCycle, amount decimal.Decimal,
	start, end time.Time,
) (*subscription.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET plan_type = $2, billing_cycle = $3, amount = $4,
		    start_date = $5, end_date = $6, updated_at = $5
		WHERE id = $1 AND status = 'active'
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(tx.QueryRow(ctx, query, id, plan, cycle, amount, start, end))
	if isNoRows(err) {
		return nil, fmt.Errorf("subscription %d is no longer active: %w", id, xerrors.ErrStaleTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to change plan: %w", err)
	}
	return sub, nil
}

// ExpireDueWithTx expires up to limit live rows whose end date is before now.
// Rows locked by a concurrent sweep are skipped, not waited on.
func (r *SubscriptionRepository) ExpireDueWithTx(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]subscription.Expiry, error) {
	query := `
		WITH due AS (
			SELECT id, status AS previous_status
			FROM subscriptions
			WHERE status IN ('active', 'past_due') AND end_date < $1
			ORDER BY end_date, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE subscriptions s
		SET status = 'expired', updated_at = $1
		FROM due
		WHERE s.id = due.id AND s.status IN ('active', 'past_due')
		RETURNING s.id, s.reference, s.user_id, s.plan_type, s.billing_cycle, s.amount, s.currency,
		          s.start_date, s.end_date, s.status, s.cancelled_at, s.created_at, s.updated_at,
		          due.previous_status
	`

	rows, err := tx.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to expire subscriptions: %w", err)
	}
	defer rows.Close()

	var out []subscription.Expiry
	for rows.Next() {
		var prev subscription.SubscriptionStatus
		sub, err := scanSubscription(rows, &prev)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired subscription: %w", err)
		}
		out = append(out, subscription.Expiry{Subscription: sub, PreviousStatus: prev})
	}
	return out, rows.Err()
}

func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*subscription.Subscription, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM subscriptions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, pageSize, pageOffset(page, pageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []*subscription.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, total, rows.Err()
}
