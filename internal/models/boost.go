package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Boost kinds.
const (
	BoostFeatured = "featured"
)

// Boost is one promotion period on a listing.
type Boost struct {
	ID           uuid.UUID       `json:"boost_id"`
	ListingID    uuid.UUID       `json:"listing_id"`
	Kind         string          `json:"kind"`
	CreditsCost  decimal.Decimal `json:"credits_cost"`
	DurationDays int             `json:"duration_days"`
	StartsAt     time.Time       `json:"starts_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	IsActive     bool            `json:"is_active"`
}

// ExpiredAt reports whether the boost is past its expiration at now.
func (b *Boost) ExpiredAt(now time.Time) bool {
	return !b.ExpiresAt.After(now)
}
