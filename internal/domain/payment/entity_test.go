package payment

import (
	"errors"
	"testing"

	xerrors "royalty-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
)

func TestParseProvider(t *testing.T) {
	if p, err := ParseProvider(" PayStack "); err != nil || p != ProviderPaystack {
		t.Fatalf("ParseProvider = %q, %v", p, err)
	}
	if _, err := ParseProvider("paypal"); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{PaymentStatusPending, PaymentStatusSuccessful, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusSuccessful, PaymentStatusRefunded, true},
		{PaymentStatusPending, PaymentStatusRefunded, false},
		{PaymentStatusFailed, PaymentStatusSuccessful, false},
		{PaymentStatusRefunded, PaymentStatusSuccessful, false},
		{PaymentStatusSuccessful, PaymentStatusFailed, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestNewStatistics(t *testing.T) {
	groups := []StatGroup{
		{Status: PaymentStatusSuccessful, Provider: ProviderPaystack, Count: 2, Total: decimal.RequireFromString("19.98")},
		{Status: PaymentStatusRefunded, Provider: ProviderFlutterwave, Count: 1, Total: decimal.RequireFromString("9.99")},
		{Status: PaymentStatusFailed, Provider: ProviderPaystack, Count: 3, Total: decimal.RequireFromString("30")},
	}

	s := NewStatistics(groups)

	if s.TotalPayments != 6 {
		t.Fatalf("TotalPayments = %d", s.TotalPayments)
	}
	if s.ByProvider[ProviderPaystack] != 5 || s.ByStatus[PaymentStatusFailed] != 3 {
		t.Fatalf("unexpected buckets %+v", s)
	}
	if !s.SuccessfulTotal.Equal(decimal.RequireFromString("19.98")) || !s.RefundedTotal.Equal(decimal.RequireFromString("9.99")) {
		t.Fatalf("totals = %s / %s", s.SuccessfulTotal, s.RefundedTotal)
	}
	if s.SuccessRate != 50 {
		t.Fatalf("SuccessRate = %v, want 50", s.SuccessRate)
	}

	if empty := NewStatistics(nil); empty.SuccessRate != 0 || empty.TotalPayments != 0 {
		t.Fatalf("empty statistics = %+v", empty)
	}
}
