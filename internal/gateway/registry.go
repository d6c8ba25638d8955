// internal/gateway/registry.go
package gateway

import (
	"context"

	"royalty-service/internal/domain/payment"
	xerrors "royalty-service/internal/pkg/errors"
)

// Provider is one payment processor integration.
type Provider interface {
	Name() payment.Provider
	Verify(ctx context.Context, ref string) (*payment.Verification, error)
	Refund(ctx context.Context, p *payment.Payment, reason string) (*payment.RefundResult, error)
	ParseWebhook(signature string, body []byte) (*payment.WebhookEvent, error)
	SignatureHeader() string
}

// Registry dispatches by provider name.
type Registry struct {
	providers map[payment.Provider]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[payment.Provider]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) get(name payment.Provider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, xerrors.Invalid("unsupported provider %q", name)
	}
	return p, nil
}

func (r *Registry) Verify(ctx context.Context, provider payment.Provider, ref string) (*payment.Verification, error) {
	p, err := r.get(provider)
	if err != nil {
		return nil, err
	}
	return p.Verify(ctx, ref)
}

func (r *Registry) Refund(ctx context.Context, pay *payment.Payment, reason string) (*payment.RefundResult, error) {
	p, err := r.get(pay.Provider)
	if err != nil {
		return nil, err
	}
	return p.Refund(ctx, pay, reason)
}

func (r *Registry) ParseWebhook(provider payment.Provider, signature string, body []byte) (*payment.WebhookEvent, error) {
	p, err := r.get(provider)
	if err != nil {
		return nil, err
	}
	return p.ParseWebhook(signature, body)
}

// SignatureHeader names the header a provider signs its webhooks in; empty
// for unknown providers.
func (r *Registry) SignatureHeader(provider payment.Provider) string {
	p, ok := r.providers[provider]
	if !ok {
		return ""
	}
	return p.SignatureHeader()
}
