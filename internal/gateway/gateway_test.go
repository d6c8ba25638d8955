package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"royalty-service/internal/domain/payment"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	gobreaker "github.com/sony/gobreaker/v2"
)

func testOptions() Options {
	return Options{Timeout: 2 * time.Second, RequestsPerSecond: 100, FailureThreshold: 2, OpenTimeout: time.Minute}
}

func TestPaystackVerifySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/verify/ref-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("missing bearer token")
		}
		_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{
			"id":1,"status":"success","reference":"ref-1","amount":999000,"currency":"ngn",
			"paid_at":"2026-03-01T10:00:00.000Z","gateway_response":"Successful"}}`))
	}))
	defer srv.Close()

	ps := NewPaystack("sk_test", srv.URL, testOptions())
	v, err := ps.Verify(context.Background(), "ref-1")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Success || v.Status != payment.PaymentStatusSuccessful {
		t.Fatalf("verification = %+v", v)
	}
	// kobo to naira
	if !v.Amount.Equal(decimal.RequireFromString("9990")) || v.Currency != "NGN" {
		t.Fatalf("amount = %s %s", v.Amount, v.Currency)
	}
	if v.PaidAt == nil || v.PaidAt.Hour() != 10 {
		t.Fatalf("paid_at = %v", v.PaidAt)
	}
}

func TestPaystackVerifyKnownNo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
	}))
	defer srv.Close()

	v, err := NewPaystack("sk_test", srv.URL, testOptions()).Verify(context.Background(), "nope")
	if err != nil {
		t.Fatalf("a 4xx answer is a result, got error %v", err)
	}
	if v.Success || v.Status != payment.PaymentStatusFailed || !strings.Contains(v.Message, "not found") {
		t.Fatalf("verification = %+v", v)
	}
}

func TestServerErrorsAreExternalAndTripBreaker(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ps := NewPaystack("sk_test", srv.URL, testOptions())
	for i := 0; i < 2; i++ {
		if _, err := ps.Verify(context.Background(), "ref"); !errors.Is(err, xerrors.ErrExternalService) {
			t.Fatalf("call %d: expected external service error, got %v", i, err)
		}
	}
	if ps.caller.state() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", ps.caller.state())
	}

	// open breaker short-circuits without reaching the server
	if _, err := ps.Verify(context.Background(), "ref"); !errors.Is(err, xerrors.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("server saw %d calls, want 2", calls)
	}
}

func TestUnconfiguredProviderIsExternal(t *testing.T) {
	_, err := NewPaystack("", "http://127.0.0.1:0", testOptions()).Verify(context.Background(), "ref")
	if !errors.Is(err, xerrors.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestPaystackWebhookSignature(t *testing.T) {
	ps := NewPaystack("sk_test", "http://unused", testOptions())
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-9","status":"success","amount":5000,"currency":"NGN"}}`)

	mac := hmac.New(sha512.New, []byte("sk_test"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	ev, err := ps.ParseWebhook(sig, body)
	if err != nil {
		t.Fatal(err)
	}
	if ev.ProviderRef != "ref-9" || ev.Status != payment.PaymentStatusSuccessful || !ev.Amount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("event = %+v", ev)
	}

	if _, err := ps.ParseWebhook("deadbeef", body); !errors.Is(err, xerrors.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestFlutterwaveVerifyAndWebhook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tx_ref") != "FLW-1" {
			t.Errorf("tx_ref = %s", r.URL.Query().Get("tx_ref"))
		}
		_, _ = w.Write([]byte(`{"status":"success","message":"Transaction fetched successfully","data":{
			"id":77,"tx_ref":"FLW-1","amount":14.99,"currency":"USD","status":"successful",
			"created_at":"2026-03-02T08:30:00Z"}}`))
	}))
	defer srv.Close()

	fw := NewFlutterwave("FLWSECK", "hash-123", srv.URL, testOptions())
	v, err := fw.Verify(context.Background(), "FLW-1")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Success || !v.Amount.Equal(decimal.RequireFromString("14.99")) || v.Currency != "USD" {
		t.Fatalf("verification = %+v", v)
	}

	body := []byte(`{"event":"charge.completed","data":{"tx_ref":"FLW-1","status":"failed","amount":14.99,"currency":"USD"}}`)
	ev, err := fw.ParseWebhook("hash-123", body)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Status != payment.PaymentStatusFailed {
		t.Fatalf("status = %s", ev.Status)
	}
	if _, err := fw.ParseWebhook("wrong", body); !errors.Is(err, xerrors.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	reg := NewRegistry(NewPaystack("sk", "http://unused", testOptions()))

	if _, err := reg.Verify(context.Background(), payment.ProviderFlutterwave, "x"); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if h := reg.SignatureHeader(payment.ProviderPaystack); h != PaystackSignatureHeader {
		t.Fatalf("header = %q", h)
	}
}

func TestAnswersAboutTheRequestAreExternal(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
		}))

		providers := []Provider{
			NewPaystack("sk_rotated", srv.URL, testOptions()),
			NewFlutterwave("FLWSECK_rotated", "hash", srv.URL, testOptions()),
		}
		for _, p := range providers {
			v, err := p.Verify(context.Background(), "REF-1")
			if !errors.Is(err, xerrors.ErrExternalService) {
				t.Errorf("%s status %d: got %v, want ErrExternalService", p.Name(), status, err)
			}
			if v != nil {
				t.Errorf("%s status %d: verification = %+v, want none", p.Name(), status, v)
			}
		}
		srv.Close()
	}
}

func TestUndecodableRejectionIsExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<html>Not Found</html>`))
	}))
	defer srv.Close()

	ps := NewPaystack("sk", srv.URL, testOptions())
	if _, err := ps.Verify(context.Background(), "REF-1"); !errors.Is(err, xerrors.ErrExternalService) {
		t.Fatalf("paystack: got %v, want ErrExternalService", err)
	}
	fw := NewFlutterwave("FLWSECK", "hash", srv.URL, testOptions())
	if _, err := fw.Verify(context.Background(), "REF-1"); !errors.Is(err, xerrors.ErrExternalService) {
		t.Fatalf("flutterwave: got %v, want ErrExternalService", err)
	}
}
