// internal/handlers/ops/ops_handler.go
//
// Package ops serves the maintenance endpoints an external scheduler calls.
package ops

import (
	"errors"
	"io"
	"net/http"
	"time"

	"royalty-service/internal/domain/view"
	"royalty-service/internal/middleware"
	xerrors "royalty-service/internal/pkg/errors"
	"royalty-service/internal/pkg/response"
	paymentsvc "royalty-service/internal/service/payment"
	subsvc "royalty-service/internal/service/subscription"
	viewsvc "royalty-service/internal/service/view"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultReverifyAge leaves fresh pending payments to their webhook.
const DefaultReverifyAge = 15 * time.Minute

type OpsHandler struct {
	subscriptions *subsvc.SubscriptionService
	payments      *paymentsvc.PaymentService
	views         *viewsvc.ViewService
	logger        *zap.Logger
}

func NewOpsHandler(
	subscriptions *subsvc.SubscriptionService,
	payments *paymentsvc.PaymentService,
	views *viewsvc.ViewService,
	logger *zap.Logger,
) *OpsHandler {
	return &OpsHandler{
		subscriptions: subscriptions,
		payments:      payments,
		views:         views,
		logger:        logger,
	}
}

func (h *OpsHandler) SweepExpired(c *gin.Context) {
	result, err := h.subscriptions.SweepExpired(c.Request.Context())
	if err != nil {
		response.FromError(c, "expiry sweep failed", err)
		return
	}

	h.audit(c, "sweep_expired")
	response.Success(c, http.StatusOK, "expired subscriptions swept", result)
}

// ReverifyPending re-verifies pending payments older than ?older_than=
// (a Go duration, default 15m).
func (h *OpsHandler) ReverifyPending(c *gin.Context) {
	olderThan := DefaultReverifyAge
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			response.FromError(c, "invalid older_than", xerrors.Invalid("older_than %q is not a duration", raw))
			return
		}
		olderThan = d
	}

	result, err := h.payments.ReverifyPending(c.Request.Context(), olderThan)
	if err != nil {
		response.FromError(c, "re-verification failed", err)
		return
	}

	h.audit(c, "reverify_pending")
	response.Success(c, http.StatusOK, "pending payments re-verified", result)
}

// SettleViews freezes idle views that started before the cutoff. Without a
// cutoff the service settles everything idle for the settle grace.
func (h *OpsHandler) SettleViews(c *gin.Context) {
	var req view.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.ValidationError(c, "invalid request", err)
		return
	}

	var cutoff time.Time
	if req.Cutoff != "" {
		t, err := time.Parse(time.RFC3339, req.Cutoff)
		if err != nil {
			response.FromError(c, "invalid cutoff", xerrors.Invalid("cutoff %q must be RFC3339", req.Cutoff))
			return
		}
		cutoff = t
	}

	result, err := h.views.SettleViews(c.Request.Context(), cutoff)
	if err != nil {
		response.FromError(c, "settlement failed", err)
		return
	}

	h.audit(c, "settle_views")
	response.Success(c, http.StatusOK, "views settled", result)
}

func (h *OpsHandler) audit(c *gin.Context, op string) {
	caller := "scheduler"
	if !middleware.IsScheduler(c) {
		caller = "admin"
	}
	identityID, _ := middleware.GetIdentityID(c)
	h.logger.Info("ops endpoint invoked",
		zap.String("op", op),
		zap.String("caller", caller),
		zap.Int64("identity_id", identityID),
		zap.String("request_id", middleware.GetRequestID(c)),
	)
}
