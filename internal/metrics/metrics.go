// Package metrics holds the prometheus collectors exposed on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"route"},
	)

	// View ledger
	ViewsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_views_recorded_total",
			Help: "View records written, by operation and qualification",
		},
		[]string{"operation", "qualified"},
	)

	ViewCounterFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_view_counter_failures_total",
			Help: "Best-effort video view counter increments that failed",
		},
	)

	ViewsSettled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_views_settled_total",
			Help: "View records frozen by settlement",
		},
	)

	// Revenue aggregator
	AnalyticsDataQualityIssues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_data_quality_issues_total",
			Help: "Analytics sub-aggregations degraded to zero",
		},
		[]string{"section"},
	)

	AnalyticsCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_cache_results_total",
			Help: "Admin analytics cache lookups by result",
		},
		[]string{"result"},
	)

	// Subscriptions
	SubscriptionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_transitions_total",
			Help: "Subscription status transitions",
		},
		[]string{"from", "to"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "subscription_sweep_duration_seconds",
			Help:    "Duration of expiry sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Payments
	PaymentsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_recorded_total",
			Help: "Payments recorded, by provider and status",
		},
		[]string{"provider", "status"},
	)

	PaymentsInconsistent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_inconsistent_total",
			Help: "Successful payments whose subscription follow-on failed",
		},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Webhook deliveries by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// Gateway
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Payment provider API latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Live feed
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Currently connected websocket clients",
		},
	)
)

// RecordHTTP records a finished request.
func RecordHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RecordGateway records one provider API call.
func RecordGateway(provider, operation string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	GatewayRequestDuration.WithLabelValues(provider, operation, status).Observe(elapsed.Seconds())
}
