// internal/handlers/view/view_handler.go
package view

import (
	"net/http"
	"strconv"

	"royalty-service/internal/domain/period"
	"royalty-service/internal/domain/view"
	"royalty-service/internal/middleware"
	"royalty-service/internal/pkg/response"
	service "royalty-service/internal/service/view"

	"github.com/gin-gonic/gin"
)

type ViewHandler struct {
	viewService *service.ViewService
}

func NewViewHandler(viewService *service.ViewService) *ViewHandler {
	return &ViewHandler{viewService: viewService}
}

// TrackView records a playback session. Anonymous viewers are allowed.
func (h *ViewHandler) TrackView(c *gin.Context) {
	var req view.TrackViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	rec, err := h.viewService.TrackView(c.Request.Context(), middleware.OptionalIdentityID(c), &req)
	if err != nil {
		response.FromError(c, "failed to track view", err)
		return
	}

	response.Success(c, http.StatusCreated, "view tracked", rec)
}

// UpdateProgress recomputes an existing session from its latest durations.
func (h *ViewHandler) UpdateProgress(c *gin.Context) {
	viewID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || viewID <= 0 {
		response.ValidationError(c, "invalid view ID", err)
		return
	}

	var req view.UpdateProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	rec, err := h.viewService.UpdateProgress(c.Request.Context(), viewID, middleware.OptionalIdentityID(c), &req)
	if err != nil {
		response.FromError(c, "failed to update view", err)
		return
	}

	response.Success(c, http.StatusOK, "view updated", rec)
}

func (h *ViewHandler) GetViewStats(c *gin.Context) {
	videoID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || videoID <= 0 {
		response.ValidationError(c, "invalid video ID", err)
		return
	}

	p, err := period.Parse(c.Query("period"))
	if err != nil {
		response.FromError(c, "invalid period", err)
		return
	}

	stats, err := h.viewService.GetViewStats(c.Request.Context(), videoID, p)
	if err != nil {
		response.FromError(c, "failed to get view stats", err)
		return
	}

	response.Success(c, http.StatusOK, "view stats retrieved", stats)
}

// RecordWatchProgress stores the caller's resume point for a video.
func (h *ViewHandler) RecordWatchProgress(c *gin.Context) {
	var req view.WatchProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	history, err := h.viewService.RecordWatchProgress(c.Request.Context(), middleware.OptionalIdentityID(c), &req)
	if err != nil {
		response.FromError(c, "failed to record watch progress", err)
		return
	}

	response.Success(c, http.StatusOK, "watch progress recorded", history)
}

func (h *ViewHandler) GetWatchHistory(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.viewService.GetUserWatchHistory(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.FromError(c, "failed to get watch history", err)
		return
	}

	response.Success(c, http.StatusOK, "watch history retrieved", result)
}

func (h *ViewHandler) GetPopularVideos(c *gin.Context) {
	p, err := period.Parse(c.Query("period"))
	if err != nil {
		response.FromError(c, "invalid period", err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	videos, err := h.viewService.GetPopularVideos(c.Request.Context(), p, limit)
	if err != nil {
		response.FromError(c, "failed to get popular videos", err)
		return
	}

	response.Success(c, http.StatusOK, "popular videos retrieved", videos)
}
