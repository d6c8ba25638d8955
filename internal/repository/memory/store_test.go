package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"royalty-service/internal/domain/payment"
	"royalty-service/internal/domain/subscription"
	"royalty-service/internal/domain/user"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSub(userID int64, ref string, end time.Time) *subscription.Subscription {
	return &subscription.Subscription{
		Reference:    ref,
		UserID:       userID,
		PlanType:     subscription.PlanPremium,
		BillingCycle: subscription.BillingCycleMonthly,
		Amount:       decimal.RequireFromString("9.99"),
		Currency:     subscription.PlanCurrency,
		StartDate:    t0,
		EndDate:      end,
		Status:       subscription.SubscriptionStatusActive,
	}
}

func TestRollbackUndoesWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	uid := s.AddUser(user.TierClient)

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Subscriptions().CreateWithTx(ctx, tx, newSub(uid, "SUB-1", t0.AddDate(0, 1, 0))); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Users().SetTierWithTx(ctx, tx, []int64{uid}, user.TierPremium); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Subscriptions().FindLiveByUser(ctx, uid); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("subscription survived rollback: %v", err)
	}
	if tier, _ := s.Users().GetTier(ctx, uid); tier != user.TierClient {
		t.Fatalf("tier = %s after rollback", tier)
	}
	// rollback after close reports closed, like pgx
	if err := tx.Rollback(ctx); err == nil {
		t.Fatalf("second rollback should fail")
	}
}

func TestSingleLiveSubscription(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	uid := s.AddUser(user.TierClient)

	create := func(ref string) error {
		tx, _ := s.BeginTx(ctx)
		defer tx.Rollback(ctx)
		if err := s.Subscriptions().CreateWithTx(ctx, tx, newSub(uid, ref, t0.AddDate(0, 1, 0))); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	if err := create("SUB-A"); err != nil {
		t.Fatal(err)
	}
	if err := create("SUB-B"); !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestExpireDueSkipsTransitioned(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	u1 := s.AddUser(user.TierPremium)
	u2 := s.AddUser(user.TierPremium)

	tx, _ := s.BeginTx(ctx)
	_ = s.Subscriptions().CreateWithTx(ctx, tx, newSub(u1, "SUB-1", t0.Add(time.Hour)))
	_ = s.Subscriptions().CreateWithTx(ctx, tx, newSub(u2, "SUB-2", t0.AddDate(0, 1, 0)))
	_ = tx.Commit(ctx)

	now := t0.Add(2 * time.Hour)
	for pass, want := range []int{1, 0} {
		tx, _ := s.BeginTx(ctx)
		got, err := s.Subscriptions().ExpireDueWithTx(ctx, tx, now, 10)
		if err != nil {
			t.Fatal(err)
		}
		_ = tx.Commit(ctx)
		if len(got) != want {
			t.Fatalf("pass %d expired %d, want %d", pass, len(got), want)
		}
		if want == 1 && got[0].PreviousStatus != subscription.SubscriptionStatusActive {
			t.Fatalf("previous status = %s", got[0].PreviousStatus)
		}
	}
}

func TestDuplicateProviderRef(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	uid := s.AddUser(user.TierClient)

	insert := func() error {
		tx, _ := s.BeginTx(ctx)
		defer tx.Rollback(ctx)
		p := &payment.Payment{
			UserID: uid, Amount: decimal.NewFromInt(10), Currency: "NGN",
			Provider: payment.ProviderPaystack, ProviderRef: "ref-1", Status: payment.PaymentStatusPending,
		}
		if err := s.Payments().CreateWithTx(ctx, tx, p); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	if err := insert(); err != nil {
		t.Fatal(err)
	}
	if err := insert(); !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSetTierKeepsAdmin(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	admin := s.AddUser(user.TierAdmin)
	client := s.AddUser(user.TierClient)

	tx, _ := s.BeginTx(ctx)
	n, err := s.Users().SetTierWithTx(ctx, tx, []int64{admin, client}, user.TierPremium)
	_ = tx.Commit(ctx)
	if err != nil || n != 1 {
		t.Fatalf("SetTier = %d, %v", n, err)
	}
	if tier, _ := s.Users().GetTier(ctx, admin); tier != user.TierAdmin {
		t.Fatalf("admin tier changed to %s", tier)
	}
}
