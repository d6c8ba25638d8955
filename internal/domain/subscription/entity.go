// internal/domain/subscription/entity.go
package subscription

import (
	"strings"
	"time"

	xerrors "royalty-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
)

// Terminal statuses never move again; resuming service needs a new subscription.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusExpired || s == SubscriptionStatusCancelled
}

// Live statuses count toward the one-subscription-per-user rule.
func (s SubscriptionStatus) Live() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusPastDue
}

var transitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusActive:  {SubscriptionStatusExpired, SubscriptionStatusCancelled, SubscriptionStatusPastDue},
	SubscriptionStatusPastDue: {SubscriptionStatusActive, SubscriptionStatusExpired, SubscriptionStatusCancelled},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

func ParseBillingCycle(s string) (BillingCycle, error) {
	c := BillingCycle(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case BillingCycleMonthly, BillingCycleYearly:
		return c, nil
	}
	return "", xerrors.Invalid("unsupported billing cycle %q", s)
}

// EndDate is start plus one calendar month or year.
func (c BillingCycle) EndDate(start time.Time) time.Time {
	if c == BillingCycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

type Subscription struct {
	ID           int64              `json:"id" db:"id"`
	Reference    string             `json:"reference" db:"reference"`
	UserID       int64              `json:"user_id" db:"user_id"`
	PlanType     PlanType           `json:"plan_type" db:"plan_type"`
	BillingCycle BillingCycle       `json:"billing_cycle" db:"billing_cycle"`
	Amount       decimal.Decimal    `json:"amount" db:"amount"`
	Currency     string             `json:"currency" db:"currency"`
	StartDate    time.Time          `json:"start_date" db:"start_date"`
	EndDate      time.Time          `json:"end_date" db:"end_date"`
	Status       SubscriptionStatus `json:"status" db:"status"`
	CancelledAt  *time.Time         `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt    time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at" db:"updated_at"`
}

// IsActiveAt is the feature-gating test: status active and not yet past its end.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.EndDate.After(now)
}

// Expiry is one row moved to expired by a sweep, with the status it left.
type Expiry struct {
	Subscription   *Subscription
	PreviousStatus SubscriptionStatus
}
