package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"royalty-service/internal/domain/subscription"
	"royalty-service/internal/domain/user"
	xerrors "royalty-service/internal/pkg/errors"
	"royalty-service/internal/repository/memory"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var start = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []string
	sweeps  int
}

func (n *recordingNotifier) NotifyEntitlementChanged(userID int64, tier user.Tier, sub *subscription.Subscription, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, reason+":"+string(tier))
}

func (n *recordingNotifier) NotifySweepCompleted(result *subscription.SweepResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sweeps++
}

type fixture struct {
	store    *memory.Store
	svc      *SubscriptionService
	notifier *recordingNotifier
	clock    time.Time
}

func newFixture(t *testing.T, batchSize int) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(), notifier: &recordingNotifier{}, clock: start}
	f.store.Now = func() time.Time { return f.clock }
	f.svc = NewSubscriptionService(f.store, f.store.Subscriptions(), f.store.Users(), batchSize, zap.NewNop())
	f.svc.now = func() time.Time { return f.clock }
	f.svc.SetNotifier(f.notifier)
	return f
}

func (f *fixture) tier(t *testing.T, userID int64) user.Tier {
	t.Helper()
	tier, err := f.store.Users().GetTier(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	return tier
}

func premiumMonthly() *subscription.CreateSubscriptionRequest {
	return &subscription.CreateSubscriptionRequest{PlanType: "premium", BillingCycle: "monthly"}
}

func TestCreateSubscription(t *testing.T) {
	f := newFixture(t, 0)
	uid := f.store.AddUser(user.TierClient)

	sub, err := f.svc.CreateSubscription(context.Background(), uid, premiumMonthly())
	if err != nil {
		t.Fatal(err)
	}

	if !sub.Amount.Equal(decimal.RequireFromString("9.99")) || sub.Currency != subscription.PlanCurrency {
		t.Fatalf("amount = %s %s", sub.Amount, sub.Currency)
	}
	if !sub.EndDate.Equal(start.AddDate(0, 1, 0)) || sub.Status != subscription.SubscriptionStatusActive {
		t.Fatalf("subscription = %+v", sub)
	}
	if got := f.tier(t, uid); got != user.TierPremium {
		t.Fatalf("tier = %s, want premium", got)
	}
	if len(f.notifier.changes) != 1 || f.notifier.changes[0] != "created:premium" {
		t.Fatalf("notifications = %v", f.notifier.changes)
	}

	if _, err := f.svc.CreateSubscription(context.Background(), uid, premiumMonthly()); !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("second create: expected conflict, got %v", err)
	}
}

func TestCreateSubscriptionRejectsUnknownPlan(t *testing.T) {
	f := newFixture(t, 0)
	uid := f.store.AddUser(user.TierClient)

	_, err := f.svc.CreateSubscription(context.Background(), uid, &subscription.CreateSubscriptionRequest{PlanType: "gold", BillingCycle: "monthly"})
	if !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	_, err = f.svc.CreateSubscription(context.Background(), uid, &subscription.CreateSubscriptionRequest{PlanType: "basic", BillingCycle: "weekly"})
	if !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestConcurrentCreatesAdmitOne(t *testing.T) {
	f := newFixture(t, 0)
	uid := f.store.AddUser(user.TierClient)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateSubscription(context.Background(), uid, premiumMonthly())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, xerrors.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != workers-1 {
		t.Fatalf("ok=%d conflicts=%d", ok, conflicts)
	}

	list, err := f.svc.ListSubscriptions(context.Background(), uid, 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	if list.Total != 1 {
		t.Fatalf("stored subscriptions = %d", list.Total)
	}
}

func TestCancelSubscription(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	uid := f.store.AddUser(user.TierClient)

	if _, err := f.svc.CancelSubscription(ctx, uid); !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("cancel without subscription: expected not found, got %v", err)
	}

	created, err := f.svc.CreateSubscription(ctx, uid, premiumMonthly())
	if err != nil {
		t.Fatal(err)
	}

	f.clock = start.Add(72 * time.Hour)
	sub, err := f.svc.CancelSubscription(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.SubscriptionStatusCancelled || !sub.EndDate.Equal(f.clock) || sub.CancelledAt == nil {
		t.Fatalf("cancelled = %+v", sub)
	}
	if got := f.tier(t, uid); got != user.TierClient {
		t.Fatalf("tier = %s, want client", got)
	}

	// terminal: reactivation is refused
	tx, _ := f.store.BeginTx(ctx)
	_, err = f.svc.ActivateWithTx(ctx, tx, created.ID)
	_ = tx.Rollback(ctx)
	if !errors.Is(err, xerrors.ErrInvalidTransition) {
		t.Fatalf("reactivate cancelled: expected invalid transition, got %v", err)
	}

	// a fresh subscription is allowed
	if _, err := f.svc.CreateSubscription(ctx, uid, premiumMonthly()); err != nil {
		t.Fatalf("new subscription after cancel: %v", err)
	}
}

func TestSweepExpiredIsIdempotent(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	var users []int64
	for i := 0; i < 5; i++ {
		uid := f.store.AddUser(user.TierClient)
		users = append(users, uid)
		if _, err := f.svc.CreateSubscription(ctx, uid, premiumMonthly()); err != nil {
			t.Fatal(err)
		}
	}
	yearly := f.store.AddUser(user.TierClient)
	if _, err := f.svc.CreateSubscription(ctx, yearly, &subscription.CreateSubscriptionRequest{PlanType: "basic", BillingCycle: "yearly"}); err != nil {
		t.Fatal(err)
	}

	f.clock = start.AddDate(0, 2, 0)
	first, err := f.svc.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.ExpiredCount != 5 || len(first.UserIDs) != 5 {
		t.Fatalf("first sweep = %+v", first)
	}
	for _, uid := range users {
		if got := f.tier(t, uid); got != user.TierClient {
			t.Fatalf("user %d tier = %s", uid, got)
		}
	}
	if got := f.tier(t, yearly); got != user.TierPremium {
		t.Fatalf("yearly subscriber tier = %s", got)
	}

	second, err := f.svc.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.ExpiredCount != 0 {
		t.Fatalf("second sweep expired %d", second.ExpiredCount)
	}
	if f.notifier.sweeps != 1 {
		t.Fatalf("sweep notifications = %d", f.notifier.sweeps)
	}
}

func TestConcurrentSweeps(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := f.svc.CreateSubscription(ctx, f.store.AddUser(user.TierClient), premiumMonthly()); err != nil {
			t.Fatal(err)
		}
	}
	f.clock = start.AddDate(0, 2, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.SweepExpired(ctx)
			if err != nil {
				t.Errorf("sweep: %v", err)
				return
			}
			mu.Lock()
			total += res.ExpiredCount
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 10 {
		t.Fatalf("overlapping sweeps expired %d rows, want 10", total)
	}
}

func TestAdminKeepsTier(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	admin := f.store.AddUser(user.TierAdmin)

	if _, err := f.svc.CreateSubscription(ctx, admin, premiumMonthly()); err != nil {
		t.Fatal(err)
	}
	if got := f.tier(t, admin); got != user.TierAdmin {
		t.Fatalf("tier after create = %s", got)
	}
	if _, err := f.svc.CancelSubscription(ctx, admin); err != nil {
		t.Fatal(err)
	}
	if got := f.tier(t, admin); got != user.TierAdmin {
		t.Fatalf("tier after cancel = %s", got)
	}
}

func TestPastDueRecovery(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	uid := f.store.AddUser(user.TierClient)

	sub, err := f.svc.CreateSubscription(ctx, uid, premiumMonthly())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.MarkPastDue(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}

	access, err := f.svc.CheckFeatureAccess(ctx, uid, "download", 0)
	if err != nil {
		t.Fatal(err)
	}
	if access.Allowed {
		t.Fatalf("past due subscription should not unlock features")
	}
	if _, err := f.svc.CreateSubscription(ctx, uid, premiumMonthly()); !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("past due still counts as live: got %v", err)
	}

	tx, err := f.store.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	recovered, err := f.svc.ActivateWithTx(ctx, tx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if recovered.Status != subscription.SubscriptionStatusActive {
		t.Fatalf("status = %s", recovered.Status)
	}
}

func TestCheckFeatureAccess(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	uid := f.store.AddUser(user.TierClient)
	none := f.store.AddUser(user.TierClient)

	if _, err := f.svc.CreateSubscription(ctx, uid, premiumMonthly()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		user    int64
		feature string
		streams int
		want    bool
	}{
		{uid, "download", 0, true},
		{uid, "hd_quality", 0, true},
		{uid, "uhd_quality", 0, false},
		{uid, "concurrent_streams", 3, true},
		{uid, "concurrent_streams", 4, false},
		{none, "download", 0, false},
		{none, "ad_free", 0, false},
	}
	for _, tt := range tests {
		got, err := f.svc.CheckFeatureAccess(ctx, tt.user, tt.feature, tt.streams)
		if err != nil {
			t.Fatalf("%s: %v", tt.feature, err)
		}
		if got.Allowed != tt.want {
			t.Errorf("user %d %s(%d) = %v, want %v", tt.user, tt.feature, tt.streams, got.Allowed, tt.want)
		}
	}

	if _, err := f.svc.CheckFeatureAccess(ctx, uid, "teleport", 0); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("unknown feature: expected invalid input, got %v", err)
	}

	// past the end date but not yet swept
	f.clock = start.AddDate(0, 1, 1)
	got, err := f.svc.CheckFeatureAccess(ctx, uid, "download", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Allowed {
		t.Fatalf("lapsed subscription should not unlock features")
	}
}

func TestChangePlan(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	uid := f.store.AddUser(user.TierClient)

	if _, err := f.svc.CreateSubscription(ctx, uid, premiumMonthly()); err != nil {
		t.Fatal(err)
	}

	f.clock = start.Add(10 * 24 * time.Hour)
	sub, err := f.svc.ChangePlan(ctx, uid, &subscription.ChangePlanRequest{PlanType: "family", BillingCycle: "yearly"})
	if err != nil {
		t.Fatal(err)
	}
	if sub.PlanType != subscription.PlanFamily || !sub.Amount.Equal(decimal.RequireFromString("149.99")) {
		t.Fatalf("changed = %+v", sub)
	}
	if !sub.EndDate.Equal(f.clock.AddDate(1, 0, 0)) {
		t.Fatalf("end date = %s", sub.EndDate)
	}
}

func TestGetEntitlementsAndPlans(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	uid := f.store.AddUser(user.TierClient)

	ent, err := f.svc.GetEntitlements(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if ent.Active || ent.Tier != user.TierClient || ent.Subscription != nil {
		t.Fatalf("entitlements without subscription = %+v", ent)
	}

	if _, err := f.svc.CreateSubscription(ctx, uid, premiumMonthly()); err != nil {
		t.Fatal(err)
	}
	ent, err = f.svc.GetEntitlements(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if !ent.Active || ent.Tier != user.TierPremium || ent.Plan == nil || ent.Plan.MaxStreams != 3 {
		t.Fatalf("entitlements = %+v", ent)
	}

	plans := f.svc.GetPlans()
	if len(plans) != 3 || plans[0].Type != subscription.PlanBasic {
		t.Fatalf("plans = %+v", plans)
	}
	// 12 * 9.99 - 99.99
	if !plans[1].YearlySavings.Equal(decimal.RequireFromString("19.89")) {
		t.Fatalf("premium savings = %s", plans[1].YearlySavings)
	}
}
