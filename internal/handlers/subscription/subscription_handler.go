// internal/handlers/subscription/subscription_handler.go
package subscription

import (
	"net/http"
	"strconv"

	"royalty-service/internal/domain/subscription"
	"royalty-service/internal/middleware"
	"royalty-service/internal/pkg/response"
	service "royalty-service/internal/service/subscription"

	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	subscriptionService *service.SubscriptionService
}

func NewSubscriptionHandler(subscriptionService *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptionService: subscriptionService}
}

// ========== User Endpoints ==========

// CreateSubscription starts a subscription for the caller
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	var req subscription.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.subscriptionService.CreateSubscription(c.Request.Context(), userID, &req)
	if err != nil {
		response.FromError(c, "failed to create subscription", err)
		return
	}

	response.Success(c, http.StatusCreated, "subscription created successfully", result)
}

// CancelSubscription cancels the caller's live subscription
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	result, err := h.subscriptionService.CancelSubscription(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to cancel subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription cancelled", result)
}

func (h *SubscriptionHandler) ChangePlan(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	var req subscription.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.subscriptionService.ChangePlan(c.Request.Context(), userID, &req)
	if err != nil {
		response.FromError(c, "failed to change plan", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription plan changed", result)
}

// CheckFeatureAccess answers whether the caller's plan allows ?feature=.
// concurrent_streams also reads ?streams=.
func (h *SubscriptionHandler) CheckFeatureAccess(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)
	streams, _ := strconv.Atoi(c.DefaultQuery("streams", "1"))

	result, err := h.subscriptionService.CheckFeatureAccess(c.Request.Context(), userID, c.Query("feature"), streams)
	if err != nil {
		response.FromError(c, "failed to check feature access", err)
		return
	}

	response.Success(c, http.StatusOK, "feature access checked", result)
}

func (h *SubscriptionHandler) GetEntitlements(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	result, err := h.subscriptionService.GetEntitlements(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to get entitlements", err)
		return
	}

	response.Success(c, http.StatusOK, "entitlements retrieved", result)
}

func (h *SubscriptionHandler) GetActiveSubscription(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	result, err := h.subscriptionService.GetActiveSubscription(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "no active subscription found", err)
		return
	}

	response.Success(c, http.StatusOK, "active subscription retrieved", result)
}

func (h *SubscriptionHandler) ListSubscriptions(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.subscriptionService.ListSubscriptions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.FromError(c, "failed to list subscriptions", err)
		return
	}

	response.Success(c, http.StatusOK, "subscriptions retrieved", result)
}

// GetSubscription is readable by its owner and by admins
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ValidationError(c, "invalid subscription ID", err)
		return
	}

	result, err := h.subscriptionService.GetSubscription(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "subscription not found", err)
		return
	}
	if result.UserID != middleware.MustGetIdentityID(c) && !middleware.IsAdmin(c) {
		// same answer as a missing row
		response.NotFound(c, "subscription not found")
		return
	}

	response.Success(c, http.StatusOK, "subscription retrieved", result)
}

// GetPlans lists the plan table (public)
func (h *SubscriptionHandler) GetPlans(c *gin.Context) {
	response.Success(c, http.StatusOK, "plans retrieved", h.subscriptionService.GetPlans())
}

// ========== Admin Endpoints ==========

func (h *SubscriptionHandler) GrantSubscription(c *gin.Context) {
	adminID := middleware.MustGetIdentityID(c)

	var req subscription.GrantSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.subscriptionService.GrantSubscription(c.Request.Context(), adminID, &req)
	if err != nil {
		response.FromError(c, "failed to grant subscription", err)
		return
	}

	response.Success(c, http.StatusCreated, "subscription granted", result)
}

func (h *SubscriptionHandler) MarkPastDue(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ValidationError(c, "invalid subscription ID", err)
		return
	}

	result, err := h.subscriptionService.MarkPastDue(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "failed to mark subscription past due", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription marked past due", result)
}
