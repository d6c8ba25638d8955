// internal/handlers/payment/payment_handler.go
package payment

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"royalty-service/internal/domain/payment"
	"royalty-service/internal/domain/period"
	"royalty-service/internal/middleware"
	"royalty-service/internal/pkg/response"
	service "royalty-service/internal/service/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// SignatureHeaders names the header each provider signs webhooks in.
type SignatureHeaders interface {
	SignatureHeader(provider payment.Provider) string
}

type PaymentHandler struct {
	paymentService *service.PaymentService
	headers        SignatureHeaders
	logger         *zap.Logger
}

func NewPaymentHandler(paymentService *service.PaymentService, headers SignatureHeaders, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		headers:        headers,
		logger:         logger,
	}
}

// CreatePayment records a provider payment for the caller. A payment the
// provider could not confirm yet is accepted as pending.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	var req payment.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	pay, err := h.paymentService.CreatePayment(c.Request.Context(), userID, &req)
	if err != nil {
		if pay != nil {
			// the row exists; hand back its id and status with the failure
			response.Error(c, response.StatusFor(err), "payment not completed", err, pay)
			return
		}
		response.FromError(c, "failed to record payment", err)
		return
	}

	if pay.Status == payment.PaymentStatusPending {
		response.Success(c, http.StatusAccepted, "payment pending provider confirmation", pay)
		return
	}
	response.Success(c, http.StatusCreated, "payment recorded", pay)
}

// GetPayment is readable by its owner and by admins
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	pay, err := h.paymentService.GetPayment(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "payment not found", err)
		return
	}
	if pay.UserID != middleware.MustGetIdentityID(c) && !middleware.IsAdmin(c) {
		response.NotFound(c, "payment not found")
		return
	}

	response.Success(c, http.StatusOK, "payment retrieved", pay)
}

func (h *PaymentHandler) ListPayments(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.paymentService.ListUserPayments(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.FromError(c, "failed to list payments", err)
		return
	}

	response.Success(c, http.StatusOK, "payments retrieved", result)
}

// Webhook receives provider notifications. It is unauthenticated; the
// provider signature is checked by the service.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	provider, err := payment.ParseProvider(c.Param("provider"))
	if err != nil {
		response.FromError(c, "unknown provider", err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.ValidationError(c, "failed to read webhook body", err)
		return
	}

	result, err := h.paymentService.HandleWebhook(c.Request.Context(), &payment.WebhookRequest{
		Provider:  provider,
		Signature: c.GetHeader(h.headers.SignatureHeader(provider)),
		Body:      body,
	})
	if err != nil {
		h.logger.Warn("webhook rejected",
			zap.String("provider", string(provider)),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		)
		response.FromError(c, "webhook not processed", err)
		return
	}

	response.Success(c, http.StatusOK, "webhook "+result.Outcome, result)
}

// ========== Admin Endpoints ==========

func (h *PaymentHandler) UpdateStatus(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	var req payment.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	pay, err := h.paymentService.UpdatePaymentStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		response.FromError(c, "failed to update payment status", err)
		return
	}

	response.Success(c, http.StatusOK, "payment status updated", pay)
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	var req payment.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.ValidationError(c, "invalid request", err)
		return
	}
	if req.Reason == "" {
		req.Reason = "refunded by admin"
	}

	pay, err := h.paymentService.ProcessRefund(c.Request.Context(), id, req.Reason)
	if err != nil {
		response.FromError(c, "failed to refund payment", err)
		return
	}

	response.Success(c, http.StatusOK, "payment refunded", pay)
}

// Reconcile retries verification or activation for one payment
func (h *PaymentHandler) Reconcile(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	pay, err := h.paymentService.ReconcilePayment(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "failed to reconcile payment", err)
		return
	}

	response.Success(c, http.StatusOK, "payment reconciled", pay)
}

func (h *PaymentHandler) GetStatistics(c *gin.Context) {
	p, err := period.Parse(c.Query("period"))
	if err != nil {
		response.FromError(c, "invalid period", err)
		return
	}

	stats, err := h.paymentService.GetStatistics(c.Request.Context(), p)
	if err != nil {
		response.FromError(c, "failed to get payment statistics", err)
		return
	}

	response.Success(c, http.StatusOK, "payment statistics retrieved", stats)
}

func paymentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ValidationError(c, "invalid payment ID", err)
		return 0, false
	}
	return id, true
}
