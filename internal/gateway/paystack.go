// internal/gateway/paystack.go
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"royalty-service/internal/domain/payment"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const PaystackSignatureHeader = "x-paystack-signature"

// Paystack amounts are in the currency's minor unit (kobo for NGN).
type Paystack struct {
	secretKey string
	baseURL   string
	caller    *caller
}

func NewPaystack(secretKey, baseURL string, opts Options) *Paystack {
	return &Paystack{
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		caller:    newCaller(string(payment.ProviderPaystack), opts),
	}
}

func (p *Paystack) Name() payment.Provider { return payment.ProviderPaystack }

func (p *Paystack) SignatureHeader() string { return PaystackSignatureHeader }

type paystackTransaction struct {
	ID              int64           `json:"id"`
	Status          string          `json:"status"`
	Reference       string          `json:"reference"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaidAt          string          `json:"paid_at"`
	GatewayResponse string          `json:"gateway_response"`
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func paystackStatus(s string) payment.PaymentStatus {
	switch strings.ToLower(s) {
	case "success":
		return payment.PaymentStatusSuccessful
	case "failed", "abandoned", "reversed":
		return payment.PaymentStatusFailed
	}
	return payment.PaymentStatusPending
}

func (p *Paystack) authorize(req *http.Request) error {
	if p.secretKey == "" {
		return fmt.Errorf("%w: paystack secret key not configured", xerrors.ErrExternalService)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Accept", "application/json")
	return nil
}

func (p *Paystack) Verify(ctx context.Context, ref string) (*payment.Verification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/transaction/verify/"+url.PathEscape(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("build paystack verify request: %w", err)
	}
	if err := p.authorize(req); err != nil {
		return nil, err
	}

	res, err := p.caller.do(ctx, "verify", req)
	if err != nil {
		return nil, err
	}

	var env paystackEnvelope
	if err := json.Unmarshal(res.body, &env); err != nil {
		return nil, fmt.Errorf("%w: paystack verify: undecodable response (status %d)", xerrors.ErrExternalService, res.status)
	}

	if res.status >= http.StatusBadRequest || !env.Status {
		// the provider answered: this reference is not a payment it will stand behind
		return &payment.Verification{
			ProviderRef: ref,
			Success:     false,
			Status:      payment.PaymentStatusFailed,
			Message:     env.Message,
		}, nil
	}

	var tx paystackTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, fmt.Errorf("%w: paystack verify: bad transaction payload", xerrors.ErrExternalService)
	}

	status := paystackStatus(tx.Status)
	msg := tx.GatewayResponse
	if msg == "" {
		msg = env.Message
	}
	return &payment.Verification{
		ProviderRef: ref,
		Success:     status == payment.PaymentStatusSuccessful,
		Status:      status,
		Amount:      tx.Amount.Shift(-2),
		Currency:    strings.ToUpper(tx.Currency),
		PaidAt:      parseProviderTime(tx.PaidAt),
		Message:     msg,
	}, nil
}

func (p *Paystack) Refund(ctx context.Context, pay *payment.Payment, reason string) (*payment.RefundResult, error) {
	body, err := json.Marshal(map[string]any{
		"transaction":   pay.ProviderRef,
		"amount":        pay.Amount.Shift(2).IntPart(),
		"merchant_note": reason,
	})
	if err != nil {
		return nil, fmt.Errorf("encode paystack refund: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/refund", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build paystack refund request: %w", err)
	}
	if err := p.authorize(req); err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.caller.do(ctx, "refund", req)
	if err != nil {
		return nil, err
	}

	var env paystackEnvelope
	if err := json.Unmarshal(res.body, &env); err != nil {
		return nil, fmt.Errorf("%w: paystack refund: undecodable response (status %d)", xerrors.ErrExternalService, res.status)
	}
	if res.status >= http.StatusBadRequest || !env.Status {
		return nil, fmt.Errorf("%w: paystack refund: %s", xerrors.ErrPaymentRejected, env.Message)
	}

	var data struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(env.Data, &data)

	return &payment.RefundResult{RefundRef: strconv.FormatInt(data.ID, 10), Status: data.Status}, nil
}

// ParseWebhook checks the HMAC-SHA512 of the raw body against the signature
// header before decoding anything.
func (p *Paystack) ParseWebhook(signature string, body []byte) (*payment.WebhookEvent, error) {
	if p.secretKey == "" {
		return nil, fmt.Errorf("%w: paystack secret key not configured", xerrors.ErrExternalService)
	}

	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || !hmac.Equal(got, expected) {
		return nil, xerrors.ErrInvalidSignature
	}

	var payload struct {
		Event string              `json:"event"`
		Data  paystackTransaction `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, xerrors.Invalid("paystack webhook: %v", err)
	}
	if payload.Data.Reference == "" {
		return nil, xerrors.Invalid("paystack webhook: missing reference")
	}

	return &payment.WebhookEvent{
		Provider:    payment.ProviderPaystack,
		Event:       payload.Event,
		ProviderRef: payload.Data.Reference,
		Status:      paystackStatus(payload.Data.Status),
		Amount:      payload.Data.Amount.Shift(-2),
		Currency:    strings.ToUpper(payload.Data.Currency),
		PaidAt:      parseProviderTime(payload.Data.PaidAt),
	}, nil
}
