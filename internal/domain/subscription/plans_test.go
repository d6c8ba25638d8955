package subscription

import (
	"errors"
	"testing"
	"time"

	xerrors "royalty-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
)

func TestPlanPrices(t *testing.T) {
	cases := []struct {
		plan  PlanType
		cycle BillingCycle
		want  string
	}{
		{PlanBasic, BillingCycleMonthly, "4.99"},
		{PlanBasic, BillingCycleYearly, "49.99"},
		{PlanPremium, BillingCycleMonthly, "9.99"},
		{PlanPremium, BillingCycleYearly, "99.99"},
		{PlanFamily, BillingCycleMonthly, "14.99"},
		{PlanFamily, BillingCycleYearly, "149.99"},
	}
	for _, tc := range cases {
		p, ok := LookupPlan(tc.plan)
		if !ok {
			t.Fatalf("plan %s missing", tc.plan)
		}
		if got := p.Price(tc.cycle); !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("%s/%s = %s, want %s", tc.plan, tc.cycle, got, tc.want)
		}
	}

	premium, _ := LookupPlan(PlanPremium)
	if got := premium.YearlySavings(); !got.Equal(decimal.RequireFromString("19.89")) {
		t.Fatalf("premium yearly savings = %s", got)
	}
}

func TestEndDate(t *testing.T) {
	start := time.Date(2026, time.January, 31, 10, 0, 0, 0, time.UTC)
	// AddDate normalises Feb 31 to Mar 3
	if got := BillingCycleMonthly.EndDate(start); !got.Equal(time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("monthly end = %v", got)
	}
	if got := BillingCycleYearly.EndDate(start); !got.Equal(time.Date(2027, time.January, 31, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("yearly end = %v", got)
	}
}

func TestFeatureTable(t *testing.T) {
	basic, _ := LookupPlan(PlanBasic)
	premium, _ := LookupPlan(PlanPremium)
	family, _ := LookupPlan(PlanFamily)

	cases := []struct {
		plan    Plan
		feature Feature
		streams int
		want    bool
	}{
		{basic, FeatureDownload, 0, false},
		{basic, FeatureHDQuality, 0, false},
		{basic, FeatureConcurrentStreams, 1, true},
		{basic, FeatureConcurrentStreams, 2, false},
		{premium, FeatureDownload, 0, true},
		{premium, FeatureHDQuality, 0, true},
		{premium, FeatureUHDQuality, 0, false},
		{premium, FeatureAdFree, 0, true},
		{premium, FeaturePremiumContent, 0, true},
		{family, FeatureUHDQuality, 0, true},
		{family, FeatureConcurrentStreams, 5, true},
		{family, FeatureConcurrentStreams, 6, false},
	}
	for _, tc := range cases {
		if got := tc.plan.Allows(tc.feature, tc.streams); got != tc.want {
			t.Errorf("%s %s(%d) = %v, want %v", tc.plan.Type, tc.feature, tc.streams, got, tc.want)
		}
	}

	if _, err := ParseFeature("teleport"); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("unknown feature err = %v", err)
	}
}

func TestTransitions(t *testing.T) {
	allowed := [][2]SubscriptionStatus{
		{SubscriptionStatusActive, SubscriptionStatusExpired},
		{SubscriptionStatusActive, SubscriptionStatusCancelled},
		{SubscriptionStatusActive, SubscriptionStatusPastDue},
		{SubscriptionStatusPastDue, SubscriptionStatusActive},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be allowed", tr[0], tr[1])
		}
	}

	denied := [][2]SubscriptionStatus{
		{SubscriptionStatusCancelled, SubscriptionStatusActive},
		{SubscriptionStatusExpired, SubscriptionStatusActive},
		{SubscriptionStatusExpired, SubscriptionStatusCancelled},
		{SubscriptionStatusActive, SubscriptionStatusActive},
	}
	for _, tr := range denied {
		if CanTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be denied", tr[0], tr[1])
		}
	}
}

func TestIsActiveAt(t *testing.T) {
	now := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	s := &Subscription{Status: SubscriptionStatusActive, EndDate: now.Add(time.Hour)}
	if !s.IsActiveAt(now) {
		t.Fatalf("expected active")
	}
	s.EndDate = now
	if s.IsActiveAt(now) {
		t.Fatalf("end date reached, expected inactive")
	}
	s.EndDate = now.Add(time.Hour)
	s.Status = SubscriptionStatusPastDue
	if s.IsActiveAt(now) {
		t.Fatalf("past due does not gate features in")
	}
}
