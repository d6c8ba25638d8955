// internal/domain/subscription/dto.go
package subscription

import (
	"royalty-service/internal/domain/user"

	"github.com/shopspring/decimal"
)

type CreateSubscriptionRequest struct {
	PlanType     string `json:"plan_type" binding:"required,plan_type"`
	BillingCycle string `json:"billing_cycle" binding:"required,billing_cycle"`
}

type ChangePlanRequest struct {
	PlanType     string `json:"plan_type" binding:"required,plan_type"`
	BillingCycle string `json:"billing_cycle" binding:"required,billing_cycle"`
}

type GrantSubscriptionRequest struct {
	UserID       int64  `json:"user_id" binding:"required,gt=0"`
	PlanType     string `json:"plan_type" binding:"required,plan_type"`
	BillingCycle string `json:"billing_cycle" binding:"required,billing_cycle"`
}

type SubscriptionListResponse struct {
	Subscriptions []*Subscription `json:"subscriptions"`
	Total         int64           `json:"total"`
	Page          int             `json:"page"`
	PageSize      int             `json:"page_size"`
	TotalPages    int             `json:"total_pages"`
}

type PlanResponse struct {
	Plan
	YearlySavings decimal.Decimal `json:"yearly_savings"`
}

type FeatureAccessResponse struct {
	UserID  int64   `json:"user_id"`
	Feature Feature `json:"feature"`
	Allowed bool    `json:"allowed"`
}

type Entitlements struct {
	UserID       int64         `json:"user_id"`
	Tier         user.Tier     `json:"tier"`
	Active       bool          `json:"active"`
	Subscription *Subscription `json:"subscription,omitempty"`
	Plan         *Plan         `json:"plan,omitempty"`
}

type SweepResult struct {
	ExpiredCount int     `json:"expired_count"`
	UserIDs      []int64 `json:"user_ids,omitempty"`
}
