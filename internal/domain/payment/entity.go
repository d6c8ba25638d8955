// internal/domain/payment/entity.go
package payment

import (
	"strings"
	"time"

	xerrors "royalty-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
)

type Provider string

const (
	ProviderPaystack    Provider = "paystack"
	ProviderFlutterwave Provider = "flutterwave"
)

func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderPaystack, ProviderFlutterwave:
		return p, nil
	}
	return "", xerrors.Invalid("unsupported provider %q", s)
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusSuccessful PaymentStatus = "successful"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

var transitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusSuccessful, PaymentStatusFailed},
	PaymentStatusSuccessful: {PaymentStatusRefunded},
}

func CanTransition(from, to PaymentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DefaultCurrency is used when neither caller nor provider names one.
const DefaultCurrency = "NGN"

type Payment struct {
	ID             int64           `json:"id" db:"id"`
	UserID         int64           `json:"user_id" db:"user_id"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Currency       string          `json:"currency" db:"currency"`
	Provider       Provider        `json:"provider" db:"provider"`
	ProviderRef    string          `json:"provider_ref" db:"provider_ref"`
	SubscriptionID *int64          `json:"subscription_id,omitempty" db:"subscription_id"`
	PlanType       *string         `json:"plan_type,omitempty" db:"plan_type"`
	BillingCycle   *string         `json:"billing_cycle,omitempty" db:"billing_cycle"`
	Status         PaymentStatus   `json:"status" db:"status"`
	FailureReason  *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	PaidAt         *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	ReconciledAt   *time.Time      `json:"reconciled_at,omitempty" db:"reconciled_at"`
	RefundRef      *string         `json:"refund_ref,omitempty" db:"refund_ref"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty" db:"refunded_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// NeedsReconcile is true for a successful payment whose subscription follow-on
// has not committed yet.
func (p *Payment) NeedsReconcile() bool {
	return p.Status == PaymentStatusSuccessful && p.ReconciledAt == nil
}

// HasFollowOn reports whether success must touch a subscription.
func (p *Payment) HasFollowOn() bool {
	return p.SubscriptionID != nil || p.PlanType != nil
}

// Verification is the provider's authoritative answer for a reference.
type Verification struct {
	ProviderRef string          `json:"provider_ref"`
	Success     bool            `json:"success"`
	Status      PaymentStatus   `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// WebhookEvent is a signature-checked, provider-normalised notification.
type WebhookEvent struct {
	Provider    Provider        `json:"provider"`
	Event       string          `json:"event"`
	ProviderRef string          `json:"provider_ref"`
	Status      PaymentStatus   `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
}

type RefundResult struct {
	RefundRef string `json:"refund_ref"`
	Status    string `json:"status"`
}

type Statistics struct {
	TotalPayments   int64                   `json:"total_payments"`
	ByStatus        map[PaymentStatus]int64 `json:"by_status"`
	ByProvider      map[Provider]int64      `json:"by_provider"`
	SuccessfulTotal decimal.Decimal         `json:"successful_total"`
	RefundedTotal   decimal.Decimal         `json:"refunded_total"`
	SuccessRate     float64                 `json:"success_rate"`
}

// StatGroup is one (status, provider) bucket of the statistics query.
type StatGroup struct {
	Status   PaymentStatus
	Provider Provider
	Count    int64
	Total    decimal.Decimal
}

// NewStatistics folds grouped counts into totals. SuccessRate counts refunded
// payments as successful, since they were paid before being reversed.
func NewStatistics(groups []StatGroup) *Statistics {
	s := &Statistics{
		ByStatus:        map[PaymentStatus]int64{},
		ByProvider:      map[Provider]int64{},
		SuccessfulTotal: decimal.Zero,
		RefundedTotal:   decimal.Zero,
	}

	var paid int64
	for _, g := range groups {
		s.TotalPayments += g.Count
		s.ByStatus[g.Status] += g.Count
		s.ByProvider[g.Provider] += g.Count
		switch g.Status {
		case PaymentStatusSuccessful:
			s.SuccessfulTotal = s.SuccessfulTotal.Add(g.Total)
			paid += g.Count
		case PaymentStatusRefunded:
			s.RefundedTotal = s.RefundedTotal.Add(g.Total)
			paid += g.Count
		}
	}

	if s.TotalPayments > 0 {
		s.SuccessRate = decimal.NewFromInt(paid).
			Div(decimal.NewFromInt(s.TotalPayments)).
			Mul(decimal.NewFromInt(100)).
			Round(2).
			InexactFloat64()
	}
	return s
}
