// Package gateway talks to the payment providers: transaction verification,
// refunds and webhook signature checks.
//
// Every outbound call goes through a per-provider rate limiter and circuit
// breaker. Network errors, an open breaker, 5xx answers and the 4xx answers
// that say nothing about the payment (401, 403, 408, 429) surface as
// xerrors.ErrExternalService ("could not ask"). Any other decodable 4xx answer
// is the provider's "no" and is returned to the caller as data.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"royalty-service/internal/metrics"
	xerrors "royalty-service/internal/pkg/errors"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 1 << 20

// Options tune the shared outbound client of one provider.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	FailureThreshold  uint32
	OpenTimeout       time.Duration
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 5
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = 5
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 30 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type apiResponse struct {
	status int
	body   []byte
}

// errUnavailable marks answers that say nothing about the payment itself.
var errUnavailable = errors.New("provider unavailable")

type caller struct {
	name    string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*apiResponse]
	timeout time.Duration
}

func newCaller(name string, opts Options) *caller {
	opts.defaults()
	logger := opts.Logger

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			logger.Warn("gateway circuit breaker state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &caller{
		name:    name,
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), int(opts.RequestsPerSecond)+1),
		breaker: gobreaker.NewCircuitBreaker[*apiResponse](settings),
		timeout: opts.Timeout,
	}
}

// unavailableStatus marks answers about our request or the provider rather
// than about the payment. A rejected or rotated secret key lands here.
func unavailableStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= http.StatusInternalServerError
}

// do sends req and returns the raw answer unless unavailableStatus holds.
func (c *caller) do(ctx context.Context, op string, req *http.Request) (*apiResponse, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.RecordGateway(c.name, op, err, time.Since(start))
		return nil, fmt.Errorf("%w: %s %s: %v", xerrors.ErrExternalService, c.name, op, err)
	}

	res, err := c.breaker.Execute(func() (*apiResponse, error) {
		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if unavailableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: status %d", errUnavailable, resp.StatusCode)
		}
		return &apiResponse{status: resp.StatusCode, body: body}, nil
	})

	metrics.RecordGateway(c.name, op, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", xerrors.ErrExternalService, c.name, op, err)
	}
	return res, nil
}

func (c *caller) state() gobreaker.State {
	return c.breaker.State()
}
