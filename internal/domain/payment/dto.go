// internal/domain/payment/dto.go
package payment

import "github.com/shopspring/decimal"

type CreatePaymentRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" binding:"omitempty,len=3,alpha"`
	Provider       string          `json:"provider" binding:"required,provider"`
	ProviderRef    string          `json:"provider_ref" binding:"required,max=128"`
	SubscriptionID *int64          `json:"subscription_id" binding:"omitempty,gt=0"`
	PlanType       string          `json:"plan_type" binding:"omitempty,plan_type"`
	BillingCycle   string          `json:"billing_cycle" binding:"omitempty,billing_cycle"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=successful failed refunded"`
}

type RefundRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

// WebhookRequest is the raw delivery handed to the reconciler.
type WebhookRequest struct {
	Provider  Provider
	Signature string
	Body      []byte
}

// WebhookOutcome values
const (
	WebhookApplied   = "applied"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
)

type WebhookResult struct {
	Outcome     string        `json:"outcome"`
	ProviderRef string        `json:"provider_ref"`
	PaymentID   int64         `json:"payment_id,omitempty"`
	Status      PaymentStatus `json:"status,omitempty"`
}

type PaymentListResponse struct {
	Payments   []*Payment `json:"payments"`
	Total      int64      `json:"total"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int        `json:"total_pages"`
}

type ReverifyResult struct {
	Checked      int `json:"checked"`
	Successful   int `json:"successful"`
	Failed       int `json:"failed"`
	StillPending int `json:"still_pending"`
}
