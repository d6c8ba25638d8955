// internal/domain/view/dto.go
package view

import "math"

// MaxDurationSeconds is the largest duration the INTEGER columns can hold.
const MaxDurationSeconds = math.MaxInt32

type TrackViewRequest struct {
	VideoID       int64             `json:"video_id" binding:"required,gt=0"`
	WatchDuration int               `json:"watch_duration" binding:"gte=0,lte=2147483647"`
	TotalDuration int               `json:"total_duration" binding:"gte=0,lte=2147483647"`
	Quality       string            `json:"quality" binding:"omitempty,oneof=240p 360p 480p 720p 1080p 4k auto"`
	DeviceInfo    map[string]string `json:"device_info"`
}

type UpdateProgressRequest struct {
	WatchDuration int `json:"watch_duration" binding:"gte=0,lte=2147483647"`
	TotalDuration int `json:"total_duration" binding:"gte=0,lte=2147483647"`
}

type WatchProgressRequest struct {
	VideoID         int64 `json:"video_id" binding:"required,gt=0"`
	ProgressSeconds int   `json:"progress_seconds" binding:"gte=0,lte=2147483647"`
	DurationSeconds int   `json:"duration_seconds" binding:"gte=0,lte=2147483647"`
}

type WatchHistoryListResponse struct {
	Items      []*WatchHistory `json:"items"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

type SettleRequest struct {
	// Cutoff is an exclusive RFC3339 instant; empty means now minus the settle grace.
	Cutoff string `json:"cutoff"`
}
