// internal/app/router.go
package app

import (
	"context"
	"net/http"
	"time"

	analyticsHandler "royalty-service/internal/handlers/analytics"
	opsHandler "royalty-service/internal/handlers/ops"
	paymentHandler "royalty-service/internal/handlers/payment"
	subscriptionHandler "royalty-service/internal/handlers/subscription"
	viewHandler "royalty-service/internal/handlers/view"
	wsHandler "royalty-service/internal/handlers/websocket"
	"royalty-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	ViewHandler         *viewHandler.ViewHandler
	AnalyticsHandler    *analyticsHandler.AnalyticsHandler
	SubscriptionHandler *subscriptionHandler.SubscriptionHandler
	PaymentHandler      *paymentHandler.PaymentHandler
	OpsHandler          *opsHandler.OpsHandler
	WSHandler           *wsHandler.WebSocketHandler
	AuthMiddleware      *middleware.AuthMiddleware

	// Limiter is nil when redis is not configured.
	Limiter        middleware.Limiter
	TrackViewLimit int64
	Ping           func(ctx context.Context) error
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	api := r.Group("/api/v1")
	auth := h.AuthMiddleware

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if h.Ping != nil {
			if err := h.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== Metrics / WebSocket ====================
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", h.WSHandler.HandleConnection)

	// ==================== Views ====================
	trackView := []gin.HandlerFunc{auth.OptionalAuth()}
	if h.Limiter != nil && h.TrackViewLimit > 0 {
		trackView = append(trackView, middleware.RateLimit(h.Limiter, "track_view", h.TrackViewLimit, time.Minute, logger))
	}

	views := api.Group("/views")
	{
		views.POST("/track", append(trackView, h.ViewHandler.TrackView)...)
		views.PUT("/:id/progress", auth.OptionalAuth(), h.ViewHandler.UpdateProgress)
		views.GET("/popular", h.ViewHandler.GetPopularVideos)
		views.POST("/watch-progress", auth.Auth(), h.ViewHandler.RecordWatchProgress)
		views.GET("/history", auth.Auth(), h.ViewHandler.GetWatchHistory)
	}
	api.GET("/videos/:id/stats", h.ViewHandler.GetViewStats)

	// ==================== Analytics ====================
	creators := api.Group("/creators")
	creators.Use(auth.CreatorOrAdmin()...)
	{
		creators.GET("/:id/analytics", h.AnalyticsHandler.GetCreatorAnalytics)
	}

	revenue := api.Group("/revenue")
	revenue.Use(auth.CreatorOrAdmin()...)
	{
		revenue.GET("/reports", h.AnalyticsHandler.GetRevenueReports)
	}

	// ==================== Subscriptions ====================
	api.GET("/plans", h.SubscriptionHandler.GetPlans)

	subscriptions := api.Group("/subscriptions")
	subscriptions.Use(auth.Auth())
	{
		subscriptions.POST("", h.SubscriptionHandler.CreateSubscription)
		subscriptions.GET("", h.SubscriptionHandler.ListSubscriptions)
		subscriptions.POST("/cancel", h.SubscriptionHandler.CancelSubscription)
		subscriptions.PUT("/plan", h.SubscriptionHandler.ChangePlan)
		subscriptions.GET("/active", h.SubscriptionHandler.GetActiveSubscription)
		subscriptions.GET("/entitlements", h.SubscriptionHandler.GetEntitlements)
		subscriptions.GET("/feature-access", h.SubscriptionHandler.CheckFeatureAccess)
		subscriptions.GET("/:id", h.SubscriptionHandler.GetSubscription)
	}

	// ==================== Payments ====================
	payments := api.Group("/payments")
	payments.Use(auth.Auth())
	{
		payments.POST("", h.PaymentHandler.CreatePayment)
		payments.GET("", h.PaymentHandler.ListPayments)
		payments.GET("/:id", h.PaymentHandler.GetPayment)
	}

	// provider callbacks carry a signature instead of a token
	api.POST("/webhooks/:provider", h.PaymentHandler.Webhook)

	// ==================== Admin ====================
	admin := api.Group("/admin")
	admin.Use(auth.AdminOnly()...)
	{
		admin.GET("/analytics", h.AnalyticsHandler.GetAdminAnalytics)

		admin.POST("/subscriptions/grant", h.SubscriptionHandler.GrantSubscription)
		admin.POST("/subscriptions/:id/past-due", h.SubscriptionHandler.MarkPastDue)

		admin.GET("/payments/statistics", h.PaymentHandler.GetStatistics)
		admin.PUT("/payments/:id/status", h.PaymentHandler.UpdateStatus)
		admin.POST("/payments/:id/refund", h.PaymentHandler.Refund)
		admin.POST("/payments/:id/reconcile", h.PaymentHandler.Reconcile)

		admin.GET("/ws/stats", h.WSHandler.GetStats)
	}

	// ==================== Ops ====================
	ops := api.Group("/ops")
	ops.Use(auth.SchedulerOrAdmin())
	{
		ops.POST("/sweep-expired", h.OpsHandler.SweepExpired)
		ops.POST("/reverify-pending", h.OpsHandler.ReverifyPending)
		ops.POST("/settle-views", h.OpsHandler.SettleViews)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "route not found"})
	})
}
