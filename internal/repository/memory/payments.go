package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"royalty-service/internal/domain/payment"
	"royalty-service/internal/domain/period"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
)

type PaymentRepository struct{ s *Store }

func (s *Store) Payments() *PaymentRepository { return &PaymentRepository{s: s} }

// restorePayment must be called with mu held.
func (s *Store) restorePayment(id int64) func() {
	prev, existed := s.payments[id]
	var saved payment.Payment
	if existed {
		saved = *prev
	}
	return func() {
		if !existed {
			delete(s.payments, id)
			return
		}
		cp := saved
		s.payments[id] = &cp
	}
}

func (r *PaymentRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, p *payment.Payment) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.payments {
		if existing.ProviderRef == p.ProviderRef {
			return fmt.Errorf("provider reference %q already recorded: %w", p.ProviderRef, xerrors.ErrConflict)
		}
	}

	now := r.s.Now()
	p.ID = r.s.nextID()
	p.CreatedAt = now
	p.UpdatedAt = now

	mt.record(r.s.restorePayment(p.ID))
	cp := *p
	r.s.payments[p.ID] = &cp
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id int64) (*payment.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, notFound("payment", id)
	}
	cp := *p
	return &cp, nil
}

func (r *PaymentRepository) FindByProviderRef(ctx context.Context, ref string) (*payment.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.ProviderRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, notFound("payment", fmt.Sprintf("%q", ref))
}

func (r *PaymentRepository) FindForUpdateWithTx(ctx context.Context, tx pgx.Tx, id int64) (*payment.Payment, error) {
	if _, err := asTx(tx); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

func (r *PaymentRepository) TransitionWithTx(ctx context.Context, tx pgx.Tx, p *payment.Payment, from payment.PaymentStatus) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.payments[p.ID]
	if !ok || stored.Status != from {
		return fmt.Errorf("payment %d is no longer %s: %w", p.ID, from, xerrors.ErrStaleTransition)
	}

	mt.record(r.s.restorePayment(p.ID))
	stored.Status = p.Status
	stored.Amount = p.Amount
	stored.Currency = p.Currency
	stored.PaidAt = p.PaidAt
	stored.FailureReason = p.FailureReason
	stored.RefundRef = p.RefundRef
	stored.RefundedAt = p.RefundedAt
	stored.SubscriptionID = p.SubscriptionID
	stored.UpdatedAt = r.s.Now()
	p.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *PaymentRepository) MarkReconciledWithTx(ctx context.Context, tx pgx.Tx, id int64, subscriptionID *int64, at time.Time) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.payments[id]
	if !ok || stored.Status != payment.PaymentStatusSuccessful || stored.ReconciledAt != nil {
		return fmt.Errorf("payment %d already reconciled: %w", id, xerrors.ErrStaleTransition)
	}

	mt.record(r.s.restorePayment(id))
	reconciledAt := at
	stored.ReconciledAt = &reconciledAt
	if subscriptionID != nil {
		sid := *subscriptionID
		stored.SubscriptionID = &sid
	}
	stored.UpdatedAt = at
	return nil
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*payment.Payment, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	all := []*payment.Payment{}
	for _, p := range r.s.payments {
		if p.UserID == userID {
			cp := *p
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return paginate(all, page, pageSize), int64(len(all)), nil
}

func (r *PaymentRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*payment.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*payment.Payment{}
	for _, p := range r.s.payments {
		if p.Status == payment.PaymentStatusPending && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PaymentRepository) Statistics(ctx context.Context, rg period.Range) (*payment.Statistics, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	type key struct {
		status   payment.PaymentStatus
		provider payment.Provider
	}
	buckets := map[key]*payment.StatGroup{}
	for _, p := range r.s.payments {
		if !rg.Contains(p.CreatedAt) {
			continue
		}
		k := key{status: p.Status, provider: p.Provider}
		g, ok := buckets[k]
		if !ok {
			g = &payment.StatGroup{Status: p.Status, Provider: p.Provider}
			buckets[k] = g
		}
		g.Count++
		g.Total = g.Total.Add(p.Amount)
	}

	groups := make([]payment.StatGroup, 0, len(buckets))
	for _, g := range buckets {
		groups = append(groups, *g)
	}
	return payment.NewStatistics(groups), nil
}
