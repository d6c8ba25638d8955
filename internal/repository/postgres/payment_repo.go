// internal/repository/postgres/payment_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"royalty-service/internal/domain/payment"
	"royalty-service/internal/domain/period"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	id, user_id, amount, currency, provider, provider_ref, subscription_id, plan_type, billing_cycle,
	status, failure_reason, paid_at, reconciled_at, refund_ref, refunded_at, created_at, updated_at
`

func scanPayment(row pgx.Row) (*payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(
		&p.ID, &p.UserID, &p.Amount, &p.Currency, &p.Provider, &p.ProviderRef, &p.SubscriptionID, &p.PlanType, &p.BillingCycle,
		&p.Status, &p.FailureReason, &p.PaidAt, &p.ReconciledAt, &p.RefundRef, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateWithTx inserts a payment. provider_ref is UNIQUE, so the loser of a
// concurrent race on the same reference gets ErrConflict.
func (r *PaymentRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, p *payment.Payment) error {
	query := `
		INSERT INTO payments (
			user_id, amount, currency, provider, provider_ref, subscription_id, plan_type, billing_cycle,
			status, failure_reason, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(
		ctx, query,
		p.UserID, p.Amount, p.Currency, p.Provider, p.ProviderRef, p.SubscriptionID, p.PlanType, p.BillingCycle,
		p.Status, p.FailureReason, p.PaidAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("provider reference %q already recorded: %w", p.ProviderRef, xerrors.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id int64) (*payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(r.db.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, fmt.Errorf("payment %d: %w", id, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return p, nil
}

func (r *PaymentRepository) FindByProviderRef(ctx context.Context, ref string) (*payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_ref = $1`

	p, err := scanPayment(r.db.QueryRow(ctx, query, ref))
	if isNoRows(err) {
		return nil, fmt.Errorf("payment %q: %w", ref, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return p, nil
}

// FindForUpdateWithTx locks the payment row for the rest of tx.
func (r *PaymentRepository) FindForUpdateWithTx(ctx context.Context, tx pgx.Tx, id int64) (*payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`

	p, err := scanPayment(tx.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, fmt.Errorf("payment %d: %w", id, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock payment: %w", err)
	}
	return p, nil
}

// TransitionWithTx writes p's status and settlement fields, but only if the
// stored status is still from.
func (r *PaymentRepository) TransitionWithTx(ctx context.Context, tx pgx.Tx, p *payment.Payment, from payment.PaymentStatus) error {
	query := `
		UPDATE payments
		SET status = $3,
		    amount = $4,
		    currency = $5,
		    paid_at = $6,
		    failure_reason = $7,
		    refund_ref = $8,
		    refunded_at = $9,
		    subscription_id = $10,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING updated_at
	`

	err := tx.QueryRow(
		ctx, query,
		p.ID, string(from), string(p.Status), p.Amount, p.Currency, p.PaidAt,
		p.FailureReason, p.RefundRef, p.RefundedAt, p.SubscriptionID,
	).Scan(&p.UpdatedAt)
	if isNoRows(err) {
		return fmt.Errorf("payment %d is no longer %s: %w", p.ID, from, xerrors.ErrStaleTransition)
	}
	if err != nil {
		return fmt.Errorf("failed to transition payment: %w", err)
	}
	return nil
}

// MarkReconciledWithTx records that the subscription follow-on committed.
func (r *PaymentRepository) MarkReconciledWithTx(ctx context.Context, tx pgx.Tx, id int64, subscriptionID *int64, at time.Time) error {
	query := `
		UPDATE payments
		SET reconciled_at = $3,
		    subscription_id = COALESCE($2, subscription_id),
		    updated_at = $3
		WHERE id = $1 AND status = 'successful' AND reconciled_at IS NULL
	`

	tag, err := tx.Exec(ctx, query, id, subscriptionID, at)
	if err != nil {
		return fmt.Errorf("failed to mark payment reconciled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %d already reconciled: %w", id, xerrors.ErrStaleTransition)
	}
	return nil
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*payment.Payment, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, pageSize, pageOffset(page, pageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := []*payment.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, total, rows.Err()
}

// ListStalePending returns pending payments created before olderThan, oldest first.
func (r *PaymentRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*payment.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	defer rows.Close()

	payments := []*payment.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// Statistics groups payments created inside rg by status and provider.
func (r *PaymentRepository) Statistics(ctx context.Context, rg period.Range) (*payment.Statistics, error) {
	query := `
		SELECT status, provider, COUNT(*), COALESCE(SUM(amount), 0)
		FROM payments
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		GROUP BY status, provider
	`

	rows, err := r.db.Query(ctx, query, nullTime(rg.Start), nullTime(rg.End))
	if err != nil {
		return nil, fmt.Errorf("failed to query payment statistics: %w", err)
	}
	defer rows.Close()

	var groups []payment.StatGroup
	for rows.Next() {
		var g payment.StatGroup
		if err := rows.Scan(&g.Status, &g.Provider, &g.Count, &g.Total); err != nil {
			return nil, fmt.Errorf("failed to scan payment statistics: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payment.NewStatistics(groups), nil
}
