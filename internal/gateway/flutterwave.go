// internal/gateway/flutterwave.go
package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"royalty-service/internal/domain/payment"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const FlutterwaveSignatureHeader = "verif-hash"

// Flutterwave amounts are in major units.
type Flutterwave struct {
	secretKey   string
	webhookHash string
	baseURL     string
	caller      *caller
}

func NewFlutterwave(secretKey, webhookHash, baseURL string, opts Options) *Flutterwave {
	return &Flutterwave{
		secretKey:   secretKey,
		webhookHash: webhookHash,
		baseURL:     strings.TrimRight(baseURL, "/"),
		caller:      newCaller(string(payment.ProviderFlutterwave), opts),
	}
}

func (f *Flutterwave) Name() payment.Provider { return payment.ProviderFlutterwave }

func (f *Flutterwave) SignatureHeader() string { return FlutterwaveSignatureHeader }

type flutterwaveTransaction struct {
	ID        int64           `json:"id"`
	TxRef     string          `json:"tx_ref"`
	FlwRef    string          `json:"flw_ref"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at"`
}

type flutterwaveEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func flutterwaveStatus(s string) payment.PaymentStatus {
	switch strings.ToLower(s) {
	case "successful":
		return payment.PaymentStatusSuccessful
	case "failed", "cancelled":
		return payment.PaymentStatusFailed
	}
	return payment.PaymentStatusPending
}

func (f *Flutterwave) authorize(req *http.Request) error {
	if f.secretKey == "" {
		return fmt.Errorf("%w: flutterwave secret key not configured", xerrors.ErrExternalService)
	}
	req.Header.Set("Authorization", "Bearer "+f.secretKey)
	req.Header.Set("Accept", "application/json")
	return nil
}

// lookup fetches the transaction behind a tx_ref. A nil transaction with a
// message means the provider answered "no such payment".
func (f *Flutterwave) lookup(ctx context.Context, ref string) (*flutterwaveTransaction, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"/v3/transactions/verify_by_reference?tx_ref="+url.QueryEscape(ref), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build flutterwave verify request: %w", err)
	}
	if err := f.authorize(req); err != nil {
		return nil, "", err
	}

	res, err := f.caller.do(ctx, "verify", req)
	if err != nil {
		return nil, "", err
	}

	var env flutterwaveEnvelope
	if err := json.Unmarshal(res.body, &env); err != nil {
		return nil, "", fmt.Errorf("%w: flutterwave verify: undecodable response (status %d)", xerrors.ErrExternalService, res.status)
	}
	if res.status >= http.StatusBadRequest || env.Status != "success" {
		return nil, env.Message, nil
	}

	var tx flutterwaveTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, "", fmt.Errorf("%w: flutterwave verify: bad transaction payload", xerrors.ErrExternalService)
	}
	return &tx, env.Message, nil
}

func (f *Flutterwave) Verify(ctx context.Context, ref string) (*payment.Verification, error) {
	tx, msg, err := f.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return &payment.Verification{
			ProviderRef: ref,
			Success:     false,
			Status:      payment.PaymentStatusFailed,
			Message:     msg,
		}, nil
	}

	status := flutterwaveStatus(tx.Status)
	return &payment.Verification{
		ProviderRef: ref,
		Success:     status == payment.PaymentStatusSuccessful,
		Status:      status,
		Amount:      tx.Amount,
		Currency:    strings.ToUpper(tx.Currency),
		PaidAt:      parseProviderTime(tx.CreatedAt),
		Message:     msg,
	}, nil
}

// Refund needs Flutterwave's numeric transaction id, so it looks the
// reference up first.
func (f *Flutterwave) Refund(ctx context.Context, pay *payment.Payment, reason string) (*payment.RefundResult, error) {
	tx, msg, err := f.lookup(ctx, pay.ProviderRef)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: flutterwave refund: %s", xerrors.ErrPaymentRejected, msg)
	}

	body, err := json.Marshal(map[string]any{
		"amount":   pay.Amount.StringFixed(2),
		"comments": reason,
	})
	if err != nil {
		return nil, fmt.Errorf("encode flutterwave refund: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		f.baseURL+"/v3/transactions/"+strconv.FormatInt(tx.ID, 10)+"/refund", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build flutterwave refund request: %w", err)
	}
	if err := f.authorize(req); err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := f.caller.do(ctx, "refund", req)
	if err != nil {
		return nil, err
	}

	var env flutterwaveEnvelope
	if err := json.Unmarshal(res.body, &env); err != nil {
		return nil, fmt.Errorf("%w: flutterwave refund: undecodable response (status %d)", xerrors.ErrExternalService, res.status)
	}
	if res.status >= http.StatusBadRequest || env.Status != "success" {
		return nil, fmt.Errorf("%w: flutterwave refund: %s", xerrors.ErrPaymentRejected, env.Message)
	}

	var data struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(env.Data, &data)

	return &payment.RefundResult{RefundRef: strconv.FormatInt(data.ID, 10), Status: data.Status}, nil
}

// ParseWebhook compares the verif-hash header with the configured secret hash.
func (f *Flutterwave) ParseWebhook(signature string, body []byte) (*payment.WebhookEvent, error) {
	if f.webhookHash == "" {
		return nil, fmt.Errorf("%w: flutterwave webhook hash not configured", xerrors.ErrExternalService)
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(signature)), []byte(f.webhookHash)) != 1 {
		return nil, xerrors.ErrInvalidSignature
	}

	var payload struct {
		Event string                 `json:"event"`
		Data  flutterwaveTransaction `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, xerrors.Invalid("flutterwave webhook: %v", err)
	}
	if payload.Data.TxRef == "" {
		return nil, xerrors.Invalid("flutterwave webhook: missing tx_ref")
	}

	return &payment.WebhookEvent{
		Provider:    payment.ProviderFlutterwave,
		Event:       payload.Event,
		ProviderRef: payload.Data.TxRef,
		Status:      flutterwaveStatus(payload.Data.Status),
		Amount:      payload.Data.Amount,
		Currency:    strings.ToUpper(payload.Data.Currency),
		PaidAt:      parseProviderTime(payload.Data.CreatedAt),
	}, nil
}

// parseProviderTime accepts the RFC 3339 variants both providers emit.
func parseProviderTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
