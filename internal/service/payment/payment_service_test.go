package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"royalty-service/internal/domain/payment"
	"royalty-service/internal/domain/period"
	"royalty-service/internal/domain/subscription"
	"royalty-service/internal/domain/user"
	xerrors "royalty-service/internal/pkg/errors"
	"royalty-service/internal/repository/memory"
	subsvc "royalty-service/internal/service/subscription"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var clock = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu        sync.Mutex
	verify    map[string]*payment.Verification
	verifyErr error
	refundErr error
	events    map[string]*payment.WebhookEvent
	calls     int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		verify: map[string]*payment.Verification{},
		events: map[string]*payment.WebhookEvent{},
	}
}

func (g *fakeGateway) paid(ref, amount, currency string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verify[ref] = &payment.Verification{
		ProviderRef: ref,
		Success:     true,
		Status:      payment.PaymentStatusSuccessful,
		Amount:      decimal.RequireFromString(amount),
		Currency:    currency,
	}
}

func (g *fakeGateway) Verify(ctx context.Context, provider payment.Provider, ref string) (*payment.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	v, ok := g.verify[ref]
	if !ok {
		return &payment.Verification{ProviderRef: ref, Status: payment.PaymentStatusFailed, Message: "transaction not found"}, nil
	}
	cp := *v
	return &cp, nil
}

func (g *fakeGateway) Refund(ctx context.Context, pay *payment.Payment, reason string) (*payment.RefundResult, error) {
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &payment.RefundResult{RefundRef: "RF-" + pay.ProviderRef, Status: "processed"}, nil
}

func (g *fakeGateway) ParseWebhook(provider payment.Provider, signature string, body []byte) (*payment.WebhookEvent, error) {
	if signature == "bad" {
		return nil, xerrors.ErrInvalidSignature
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.events[string(body)]
	if !ok {
		return nil, xerrors.Invalid("unknown event %q", body)
	}
	cp := *e
	return &cp, nil
}

type fixture struct {
	store   *memory.Store
	gateway *fakeGateway
	subs    *subsvc.SubscriptionService
	svc     *PaymentService
	user    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.Now = func() time.Time { return clock }

	subs := subsvc.NewSubscriptionService(store, store.Subscriptions(), store.Users(), 0, zap.NewNop())
	gw := newFakeGateway()
	svc := NewPaymentService(store, store.Payments(), gw, subs, time.Second, zap.NewNop())
	svc.now = func() time.Time { return clock }

	return &fixture{store: store, gateway: gw, subs: subs, svc: svc, user: store.AddUser(user.TierClient)}
}

func (f *fixture) tier(t *testing.T) user.Tier {
	t.Helper()
	tier, err := f.store.Users().GetTier(context.Background(), f.user)
	if err != nil {
		t.Fatal(err)
	}
	return tier
}

func planRequest(ref string) *payment.CreatePaymentRequest {
	return &payment.CreatePaymentRequest{
		Amount:      decimal.RequireFromString("9.99"),
		Currency:    "usd",
		Provider:    "paystack",
		ProviderRef: ref,
		PlanType:    "premium",
	}
}

func TestCreatePaymentActivatesPlan(t *testing.T) {
	f := newFixture(t)
	f.gateway.paid("REF-1", "9.99", "USD")

	pay, err := f.svc.CreatePayment(context.Background(), f.user, planRequest("REF-1"))
	if err != nil {
		t.Fatal(err)
	}

	if pay.Status != payment.PaymentStatusSuccessful || pay.ReconciledAt == nil || pay.SubscriptionID == nil {
		t.Fatalf("payment = %+v", pay)
	}
	sub, err := f.subs.GetSubscription(context.Background(), *pay.SubscriptionID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.SubscriptionStatusActive || sub.PlanType != subscription.PlanPremium || sub.BillingCycle != subscription.BillingCycleMonthly {
		t.Fatalf("subscription = %+v", sub)
	}
	if got := f.tier(t); got != user.TierPremium {
		t.Fatalf("tier = %s", got)
	}
}

func TestProviderAmountIsAuthoritative(t *testing.T) {
	f := newFixture(t)
	f.gateway.paid("REF-2", "12500", "ngn")

	req := &payment.CreatePaymentRequest{Amount: decimal.RequireFromString("1"), Provider: "flutterwave", ProviderRef: "REF-2"}
	pay, err := f.svc.CreatePayment(context.Background(), f.user, req)
	if err != nil {
		t.Fatal(err)
	}
	if !pay.Amount.Equal(decimal.RequireFromString("12500")) || pay.Currency != "NGN" || pay.PaidAt == nil {
		t.Fatalf("payment = %+v", pay)
	}
	// standalone purchase, no follow-on
	if pay.SubscriptionID != nil || pay.ReconciledAt == nil || f.tier(t) != user.TierClient {
		t.Fatalf("standalone payment touched a subscription: %+v", pay)
	}
}

func TestRejectedPaymentIsRecorded(t *testing.T) {
	f := newFixture(t)

	pay, err := f.svc.CreatePayment(context.Background(), f.user, planRequest("REF-DECLINED"))
	if !errors.Is(err, xerrors.ErrPaymentRejected) {
		t.Fatalf("expected payment rejected, got %v", err)
	}
	stored, err := f.store.Payments().FindByProviderRef(context.Background(), "REF-DECLINED")
	if err != nil {
		t.Fatalf("failed payment must be kept for audit: %v", err)
	}
	if stored.ID != pay.ID || stored.Status != payment.PaymentStatusFailed || stored.FailureReason == nil {
		t.Fatalf("stored = %+v", stored)
	}
	if f.tier(t) != user.TierClient {
		t.Fatalf("rejected payment granted an entitlement")
	}
}

func TestUnreachableProviderLeavesPending(t *testing.T) {
	f := newFixture(t)
	f.gateway.verifyErr = errors.New("dial tcp: i/o timeout")

	pay, err := f.svc.CreatePayment(context.Background(), f.user, planRequest("REF-LATE"))
	if !errors.Is(err, xerrors.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	if errors.Is(err, xerrors.ErrPaymentRejected) {
		t.Fatalf("outage must not look like a rejection")
	}
	if pay == nil || pay.Status != payment.PaymentStatusPending || f.tier(t) != user.TierClient {
		t.Fatalf("payment = %+v", pay)
	}

	// provider recovers
	f.gateway.verifyErr = nil
	f.gateway.paid("REF-LATE", "9.99", "USD")
	f.svc.now = func() time.Time { return clock.Add(time.Hour) }

	result, err := f.svc.ReverifyPending(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if result.Checked != 1 || result.Successful != 1 {
		t.Fatalf("reverify = %+v", result)
	}
	if f.tier(t) != user.TierPremium {
		t.Fatalf("tier after reverify = %s", f.tier(t))
	}
}

func TestProviderWithoutAmountLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.paid("REF-ZERO", "0", "USD")

	req := planRequest("REF-ZERO")
	req.Amount = decimal.RequireFromString("99.99")
	req.BillingCycle = "yearly"

	pay, err := f.svc.CreatePayment(ctx, f.user, req)
	if !errors.Is(err, xerrors.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	if pay == nil || pay.Status != payment.PaymentStatusPending || pay.PaidAt != nil {
		t.Fatalf("payment = %+v", pay)
	}
	if f.tier(t) != user.TierClient {
		t.Fatalf("unconfirmed amount granted tier %s", f.tier(t))
	}

	// a success event that names no amount is checked with the provider
	f.gateway.events["charge.success"] = &payment.WebhookEvent{
		ProviderRef: "REF-ZERO",
		Status:      payment.PaymentStatusSuccessful,
	}
	hook := &payment.WebhookRequest{Provider: payment.ProviderPaystack, Body: []byte("charge.success")}
	if _, err := f.svc.HandleWebhook(ctx, hook); !errors.Is(err, xerrors.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	stored, _ := f.svc.GetPayment(ctx, pay.ID)
	if stored.Status != payment.PaymentStatusPending || f.tier(t) != user.TierClient {
		t.Fatalf("payment = %+v tier = %s", stored, f.tier(t))
	}

	f.gateway.paid("REF-ZERO", "99.99", "USD")
	result, err := f.svc.HandleWebhook(ctx, hook)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != payment.WebhookApplied || result.Status != payment.PaymentStatusSuccessful {
		t.Fatalf("result = %+v", result)
	}
	stored, _ = f.svc.GetPayment(ctx, pay.ID)
	if !stored.Amount.Equal(decimal.RequireFromString("99.99")) || stored.Currency != "USD" || stored.ReconciledAt == nil {
		t.Fatalf("payment = %+v", stored)
	}
	if f.tier(t) != user.TierPremium {
		t.Fatalf("tier = %s", f.tier(t))
	}
}

func TestDuplicateProviderRefRace(t *testing.T) {
	f := newFixture(t)
	f.gateway.paid("REF-RACE", "9.99", "USD")

	const n = 2
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &payment.CreatePaymentRequest{Provider: "paystack", ProviderRef: "REF-RACE", Amount: decimal.RequireFromString("9.99")}
			_, errs[i] = f.svc.CreatePayment(context.Background(), f.user, req)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, xerrors.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("ok=%d conflicts=%d", ok, conflicts)
	}

	list, _, err := f.store.Payments().ListByUser(context.Background(), f.user, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("stored %d payments for one reference", len(list))
	}
}

func TestWebhookReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.verifyErr = errors.New("provider down")

	pay, _ := f.svc.CreatePayment(ctx, f.user, planRequest("REF-HOOK"))
	if pay == nil || pay.Status != payment.PaymentStatusPending {
		t.Fatalf("payment = %+v", pay)
	}

	f.gateway.events["charge.success"] = &payment.WebhookEvent{
		Provider:    payment.ProviderPaystack,
		Event:       "charge.success",
		ProviderRef: "REF-HOOK",
		Status:      payment.PaymentStatusSuccessful,
		Amount:      decimal.RequireFromString("9.99"),
		Currency:    "USD",
	}
	req := &payment.WebhookRequest{Provider: payment.ProviderPaystack, Signature: "ok", Body: []byte("charge.success")}

	for i, want := range []string{payment.WebhookApplied, payment.WebhookDuplicate, payment.WebhookDuplicate} {
		result, err := f.svc.HandleWebhook(ctx, req)
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		if result.Outcome != want || result.PaymentID != pay.ID {
			t.Fatalf("delivery %d: result = %+v, want %s", i, result, want)
		}
	}

	subs, total, err := f.store.Subscriptions().ListByUser(ctx, f.user, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(subs) != 1 {
		t.Fatalf("replays created %d subscriptions", total)
	}
	if f.tier(t) != user.TierPremium {
		t.Fatalf("tier = %s", f.tier(t))
	}
}

func TestWebhookEdgeCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.HandleWebhook(ctx, &payment.WebhookRequest{Provider: payment.ProviderPaystack, Signature: "bad", Body: []byte("{}")})
	if !errors.Is(err, xerrors.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	f.gateway.events["unknown"] = &payment.WebhookEvent{ProviderRef: "NOPE", Status: payment.PaymentStatusSuccessful}
	result, err := f.svc.HandleWebhook(ctx, &payment.WebhookRequest{Provider: payment.ProviderPaystack, Body: []byte("unknown")})
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != payment.WebhookIgnored {
		t.Fatalf("unknown reference: %+v", result)
	}

	// failure event on a pending payment
	f.gateway.verifyErr = errors.New("provider down")
	pay, _ := f.svc.CreatePayment(ctx, f.user, planRequest("REF-FAIL"))
	f.gateway.events["charge.failed"] = &payment.WebhookEvent{ProviderRef: "REF-FAIL", Status: payment.PaymentStatusFailed}
	failReq := &payment.WebhookRequest{Provider: payment.ProviderPaystack, Body: []byte("charge.failed")}

	first, err := f.svc.HandleWebhook(ctx, failReq)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.HandleWebhook(ctx, failReq)
	if err != nil {
		t.Fatal(err)
	}
	if first.Outcome != payment.WebhookApplied || second.Outcome != payment.WebhookDuplicate {
		t.Fatalf("outcomes = %s, %s", first.Outcome, second.Outcome)
	}
	stored, _ := f.svc.GetPayment(ctx, pay.ID)
	if stored.Status != payment.PaymentStatusFailed {
		t.Fatalf("status = %s", stored.Status)
	}
}

func TestRefundCancelsSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.paid("REF-RF", "9.99", "USD")

	pay, err := f.svc.CreatePayment(ctx, f.user, planRequest("REF-RF"))
	if err != nil {
		t.Fatal(err)
	}

	refunded, err := f.svc.ProcessRefund(ctx, pay.ID, "customer request")
	if err != nil {
		t.Fatal(err)
	}
	if refunded.Status != payment.PaymentStatusRefunded || refunded.RefundRef == nil || refunded.RefundedAt == nil {
		t.Fatalf("refunded = %+v", refunded)
	}
	sub, err := f.subs.GetSubscription(ctx, *pay.SubscriptionID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.SubscriptionStatusCancelled {
		t.Fatalf("subscription status = %s", sub.Status)
	}
	if f.tier(t) != user.TierClient {
		t.Fatalf("tier = %s", f.tier(t))
	}

	if _, err := f.svc.ProcessRefund(ctx, pay.ID, "again"); !errors.Is(err, xerrors.ErrInvalidTransition) {
		t.Fatalf("second refund: expected invalid transition, got %v", err)
	}
}

func TestRefundProviderFailureChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.paid("REF-RF2", "9.99", "USD")

	pay, err := f.svc.CreatePayment(ctx, f.user, planRequest("REF-RF2"))
	if err != nil {
		t.Fatal(err)
	}
	f.gateway.refundErr = fmt.Errorf("%w: 503", xerrors.ErrExternalService)

	if _, err := f.svc.ProcessRefund(ctx, pay.ID, ""); !errors.Is(err, xerrors.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	stored, _ := f.svc.GetPayment(ctx, pay.ID)
	if stored.Status != payment.PaymentStatusSuccessful || f.tier(t) != user.TierPremium {
		t.Fatalf("failed refund changed state: %+v", stored)
	}
}

func TestFollowOnFailureIsInconsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.subs.CreateSubscription(ctx, f.user, &subscription.CreateSubscriptionRequest{PlanType: "basic", BillingCycle: "monthly"})
	if err != nil {
		t.Fatal(err)
	}

	// plan purchase while a subscription is live
	f.gateway.paid("REF-DUP-PLAN", "9.99", "USD")
	_, err = f.svc.CreatePayment(ctx, f.user, planRequest("REF-DUP-PLAN"))
	if !errors.Is(err, xerrors.ErrInconsistentState) {
		t.Fatalf("expected inconsistent state, got %v", err)
	}
	stored, err := f.store.Payments().FindByProviderRef(ctx, "REF-DUP-PLAN")
	if err != nil {
		t.Fatal(err)
	}
	if !stored.NeedsReconcile() {
		t.Fatalf("payment should stay successful and unreconciled: %+v", stored)
	}

	// renewal against a cancelled subscription
	if _, err := f.subs.CancelSubscription(ctx, f.user); err != nil {
		t.Fatal(err)
	}
	f.gateway.paid("REF-RENEW", "4.99", "USD")
	req := &payment.CreatePaymentRequest{Provider: "paystack", ProviderRef: "REF-RENEW", SubscriptionID: &sub.ID}
	if _, err := f.svc.CreatePayment(ctx, f.user, req); !errors.Is(err, xerrors.ErrInconsistentState) {
		t.Fatalf("expected inconsistent state, got %v", err)
	}

	// the first one can be finished once the user is free again
	fixed, err := f.svc.ReconcilePayment(ctx, stored.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fixed.ReconciledAt == nil || fixed.SubscriptionID == nil || f.tier(t) != user.TierPremium {
		t.Fatalf("reconciled = %+v", fixed)
	}
}

func TestUnderpaidPlanIsInconsistent(t *testing.T) {
	f := newFixture(t)
	f.gateway.paid("REF-CHEAP", "1.00", "USD")

	_, err := f.svc.CreatePayment(context.Background(), f.user, planRequest("REF-CHEAP"))
	if !errors.Is(err, xerrors.ErrInconsistentState) {
		t.Fatalf("expected inconsistent state, got %v", err)
	}
	if f.tier(t) != user.TierClient {
		t.Fatalf("underpayment granted premium")
	}
}

func TestCreatePaymentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.store.AddUser(user.TierClient)

	sub, err := f.subs.CreateSubscription(ctx, other, &subscription.CreateSubscriptionRequest{PlanType: "basic", BillingCycle: "monthly"})
	if err != nil {
		t.Fatal(err)
	}
	missing := int64(404)

	cases := []struct {
		name string
		req  *payment.CreatePaymentRequest
		want error
	}{
		{"unknown provider", &payment.CreatePaymentRequest{Provider: "paypal", ProviderRef: "A"}, xerrors.ErrInvalidInput},
		{"blank reference", &payment.CreatePaymentRequest{Provider: "paystack", ProviderRef: "  "}, xerrors.ErrInvalidInput},
		{"both intents", &payment.CreatePaymentRequest{Provider: "paystack", ProviderRef: "B", SubscriptionID: &sub.ID, PlanType: "basic"}, xerrors.ErrInvalidInput},
		{"missing subscription", &payment.CreatePaymentRequest{Provider: "paystack", ProviderRef: "C", SubscriptionID: &missing}, xerrors.ErrNotFound},
		{"foreign subscription", &payment.CreatePaymentRequest{Provider: "paystack", ProviderRef: "D", SubscriptionID: &sub.ID}, xerrors.ErrForbidden},
		{"cycle without plan", &payment.CreatePaymentRequest{Provider: "paystack", ProviderRef: "E", BillingCycle: "yearly"}, xerrors.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.CreatePayment(ctx, f.user, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if f.gateway.calls != 0 {
		t.Fatalf("invalid requests reached the provider %d times", f.gateway.calls)
	}
}

func TestUpdatePaymentStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.verifyErr = errors.New("provider down")

	pay, _ := f.svc.CreatePayment(ctx, f.user, planRequest("REF-ADMIN"))

	if _, err := f.svc.UpdatePaymentStatus(ctx, pay.ID, "pending"); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := f.svc.UpdatePaymentStatus(ctx, pay.ID, "refunded"); !errors.Is(err, xerrors.ErrInvalidTransition) {
		t.Fatalf("refund of pending: expected invalid transition, got %v", err)
	}

	updated, err := f.svc.UpdatePaymentStatus(ctx, pay.ID, "successful")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != payment.PaymentStatusSuccessful || updated.ReconciledAt == nil || f.tier(t) != user.TierPremium {
		t.Fatalf("updated = %+v", updated)
	}
	if _, err := f.svc.UpdatePaymentStatus(ctx, pay.ID, "failed"); !errors.Is(err, xerrors.ErrInvalidTransition) {
		t.Fatalf("successful to failed: expected invalid transition, got %v", err)
	}
}

func TestPaymentStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.paid("S-1", "9.99", "USD")
	f.gateway.paid("S-2", "5000", "NGN")

	if _, err := f.svc.CreatePayment(ctx, f.user, planRequest("S-1")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CreatePayment(ctx, f.user, &payment.CreatePaymentRequest{Provider: "flutterwave", ProviderRef: "S-2"}); err != nil {
		t.Fatal(err)
	}
	_, _ = f.svc.CreatePayment(ctx, f.user, &payment.CreatePaymentRequest{Provider: "paystack", ProviderRef: "S-3"})

	f.svc.now = func() time.Time { return clock.Add(time.Minute) }
	stats, err := f.svc.GetStatistics(ctx, period.Week)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalPayments != 3 || stats.ByStatus[payment.PaymentStatusFailed] != 1 || stats.ByProvider[payment.ProviderFlutterwave] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.SuccessRate != 66.67 {
		t.Fatalf("success rate = %v", stats.SuccessRate)
	}

	list, err := f.svc.ListUserPayments(ctx, f.user, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if list.Total != 3 || list.PageSize != 20 || list.TotalPages != 1 {
		t.Fatalf("list = %+v", list)
	}
}
