package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"royalty-service/internal/domain/subscription"
	"royalty-service/internal/domain/user"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type SubscriptionRepository struct{ s *Store }

func (s *Store) Subscriptions() *SubscriptionRepository { return &SubscriptionRepository{s: s} }

// restoreSub must be called with mu held; it returns the undo for a write to id.
func (s *Store) restoreSub(id int64) func() {
	prev, existed := s.subs[id]
	var saved subscription.Subscription
	if existed {
		saved = *prev
	}
	return func() {
		if !existed {
			delete(s.subs, id)
			return
		}
		cp := saved
		s.subs[id] = &cp
	}
}

func (r *SubscriptionRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, sub *subscription.Subscription) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.subs {
		if existing.UserID == sub.UserID && existing.Status.Live() && sub.Status.Live() {
			return fmt.Errorf("user %d already has a live subscription: %w", sub.UserID, xerrors.ErrConflict)
		}
		if existing.Reference == sub.Reference {
			return fmt.Errorf("reference %q: %w", sub.Reference, xerrors.ErrConflict)
		}
	}

	now := r.s.Now()
	sub.ID = r.s.nextID()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	mt.record(r.s.restoreSub(sub.ID))
	cp := *sub
	r.s.subs[sub.ID] = &cp
	return nil
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, id int64) (*subscription.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subs[id]
	if !ok {
		return nil, notFound("subscription", id)
	}
	cp := *sub
	return &cp, nil
}

// FindForUpdateWithTx needs no row lock: transactions are already serialised.
func (r *SubscriptionRepository) FindForUpdateWithTx(ctx context.Context, tx pgx.Tx, id int64) (*subscription.Subscription, error) {
	if _, err := asTx(tx); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

func (r *SubscriptionRepository) FindLiveByUser(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var found *subscription.Subscription
	for _, sub := range r.s.subs {
		if sub.UserID != userID || !sub.Status.Live() {
			continue
		}
		if found == nil || sub.EndDate.After(found.EndDate) {
			found = sub
		}
	}
	if found == nil {
		return nil, fmt.Errorf("no live subscription for user %d: %w", userID, xerrors.ErrNotFound)
	}
	cp := *found
	return &cp, nil
}

func (r *SubscriptionRepository) TransitionWithTx(
	ctx context.Context, tx pgx.Tx, id int64,
	from, to subscription.SubscriptionStatus, endDate *time.Time, at time.Time,
) (*subscription.Subscription, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sub, ok := r.s.subs[id]
	if !ok || sub.Status != from {
		return nil, fmt.Errorf("subscription %d is no longer %s: %w", id, from, xerrors.ErrStaleTransition)
	}

	mt.record(r.s.restoreSub(id))
	sub.Status = to
	if endDate != nil {
		sub.EndDate = *endDate
	}
	if to == subscription.SubscriptionStatusCancelled {
		cancelledAt := at
		sub.CancelledAt = &cancelledAt
	}
	sub.UpdatedAt = at

	cp := *sub
	return &cp, nil
}

func (r *SubscriptionRepository) ChangePlanWithTx(
	ctx context.Context, tx pgx.Tx, id int64,
	plan subscription.PlanType, cycle subscription.BillingCycle, amount decimal.Decimal,
	start, end time.Time,
) (*subscription.Subscription, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sub, ok := r.s.subs[id]
	if !ok || sub.Status != subscription.SubscriptionStatusActive {
		return nil, fmt.Errorf("subscription %d is no longer active: %w", id, xerrors.ErrStaleTransition)
	}

	mt.record(r.s.restoreSub(id))
	sub.PlanType = plan
	sub.BillingCycle = cycle
	sub.Amount = amount
	sub.StartDate = start
	sub.EndDate = end
	sub.UpdatedAt = start

	cp := *sub
	return &cp, nil
}

func (r *SubscriptionRepository) ExpireDueWithTx(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]subscription.Expiry, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []*subscription.Subscription
	for _, sub := range r.s.subs {
		if sub.Status.Live() && sub.EndDate.Before(now) {
			due = append(due, sub)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].EndDate.Equal(due[j].EndDate) {
			return due[i].EndDate.Before(due[j].EndDate)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]subscription.Expiry, 0, len(due))
	for _, sub := range due {
		mt.record(r.s.restoreSub(sub.ID))
		prev := sub.Status
		sub.Status = subscription.SubscriptionStatusExpired
		sub.UpdatedAt = now
		cp := *sub
		out = append(out, subscription.Expiry{Subscription: &cp, PreviousStatus: prev})
	}
	return out, nil
}

func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*subscription.Subscription, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	all := []*subscription.Subscription{}
	for _, sub := range r.s.subs {
		if sub.UserID == userID {
			cp := *sub
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return paginate(all, page, pageSize), int64(len(all)), nil
}

type UserRepository struct{ s *Store }

func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }

func (r *UserRepository) GetTier(ctx context.Context, userID int64) (user.Tier, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return "", notFound("user", userID)
	}
	return u.Tier, nil
}

func (r *UserRepository) SetTierWithTx(ctx context.Context, tx pgx.Tx, userIDs []int64, tier user.Tier) (int64, error) {
	mt, err := asTx(tx)
	if err != nil {
		return 0, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, id := range userIDs {
		u, ok := r.s.users[id]
		if !ok || u.Tier == user.TierAdmin || u.Tier == tier {
			continue
		}
		prev := u.Tier
		mt.record(func() { u.Tier = prev })
		u.Tier = tier
		n++
	}
	return n, nil
}
