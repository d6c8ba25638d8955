// internal/handlers/analytics/analytics_handler.go
package analytics

import (
	"net/http"
	"strconv"
	"time"

	"royalty-service/internal/domain/period"
	"royalty-service/internal/domain/revenue"
	"royalty-service/internal/middleware"
	xerrors "royalty-service/internal/pkg/errors"
	"royalty-service/internal/pkg/response"
	service "royalty-service/internal/service/revenue"

	"github.com/gin-gonic/gin"
)

type AnalyticsHandler struct {
	revenueService *service.RevenueService
}

func NewAnalyticsHandler(revenueService *service.RevenueService) *AnalyticsHandler {
	return &AnalyticsHandler{revenueService: revenueService}
}

// GetCreatorAnalytics is readable by the creator themself and by admins.
func (h *AnalyticsHandler) GetCreatorAnalytics(c *gin.Context) {
	creatorID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || creatorID <= 0 {
		response.ValidationError(c, "invalid creator ID", err)
		return
	}
	if !middleware.CanReadCreator(c, creatorID) {
		response.Forbidden(c, "not allowed to read this creator's analytics")
		return
	}

	p, err := period.Parse(c.Query("period"))
	if err != nil {
		response.FromError(c, "invalid period", err)
		return
	}

	result, err := h.revenueService.GetCreatorAnalytics(c.Request.Context(), creatorID, p)
	if err != nil {
		response.FromError(c, "failed to get creator analytics", err)
		return
	}

	response.Success(c, http.StatusOK, "creator analytics retrieved", result)
}

// GetAdminAnalytics (admin only)
func (h *AnalyticsHandler) GetAdminAnalytics(c *gin.Context) {
	p, err := period.Parse(c.Query("period"))
	if err != nil {
		response.FromError(c, "invalid period", err)
		return
	}

	result, err := h.revenueService.GetAdminAnalytics(c.Request.Context(), p)
	if err != nil {
		response.FromError(c, "failed to get platform analytics", err)
		return
	}

	response.Success(c, http.StatusOK, "platform analytics retrieved", result)
}

// GetRevenueReports serves admins any creator and pins creators to their own.
func (h *AnalyticsHandler) GetRevenueReports(c *gin.Context) {
	var f revenue.ReportFilter

	if raw := c.Query("creator_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			response.ValidationError(c, "invalid creator ID", err)
			return
		}
		f.CreatorID = &id
	}

	if !middleware.IsAdmin(c) {
		own, ok := middleware.GetCreatorID(c)
		if !ok {
			response.Forbidden(c, "creator account required")
			return
		}
		if f.CreatorID != nil && *f.CreatorID != own {
			response.Forbidden(c, "not allowed to read this creator's revenue")
			return
		}
		f.CreatorID = &own
	}

	var err error
	if f.Start, err = parseDate(c.Query("start_date"), false); err != nil {
		response.FromError(c, "invalid start date", err)
		return
	}
	if f.End, err = parseDate(c.Query("end_date"), true); err != nil {
		response.FromError(c, "invalid end date", err)
		return
	}

	report, err := h.revenueService.GetRevenueReports(c.Request.Context(), f)
	if err != nil {
		response.FromError(c, "failed to build revenue report", err)
		return
	}

	response.Success(c, http.StatusOK, "revenue report retrieved", report)
}

// parseDate accepts RFC3339 or a bare date. A bare end date covers the whole
// day, so it is moved to the following midnight.
func parseDate(raw string, end bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, xerrors.Invalid("date %q must be YYYY-MM-DD or RFC3339", raw)
	}
	if end {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}
