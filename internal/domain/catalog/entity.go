// internal/domain/catalog/entity.go
package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultRoyaltyPercentage applies to creators without an explicit share.
var DefaultRoyaltyPercentage = decimal.RequireFromString("0.6")

// Video is the read-only view of a catalog entry the ledger needs.
type Video struct {
	ID              int64     `json:"id" db:"id"`
	CreatorID       int64     `json:"creator_id" db:"creator_id"`
	Title           string    `json:"title" db:"title"`
	DurationSeconds int       `json:"duration_seconds" db:"duration_seconds"`
	ViewCount       int64     `json:"view_count" db:"view_count"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Creator carries the royalty share used by the revenue aggregator.
type Creator struct {
	ID                int64           `json:"id" db:"id"`
	UserID            int64           `json:"user_id" db:"user_id"`
	DisplayName       string          `json:"display_name" db:"display_name"`
	RoyaltyPercentage decimal.Decimal `json:"royalty_percentage" db:"royalty_percentage"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}
