package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AutoRepostRule is a recurring promotion subscription on a listing.
type AutoRepostRule struct {
	ID              uuid.UUID       `json:"rule_id"`
	ListingID       uuid.UUID       `json:"listing_id"`
	AccountID       uuid.UUID       `json:"account_id"`
	CreditsPerCycle decimal.Decimal `json:"credits_per_cycle"`
	IntervalMinutes int             `json:"interval_minutes"`
	NextDueAt       time.Time       `json:"next_due_at"`
	IsActive        bool            `json:"is_active"`
	TotalCycles     int             `json:"total_cycles"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Interval returns the rule's cadence as a duration.
func (r *AutoRepostRule) Interval() time.Duration {
	return time.Duration(r.IntervalMinutes) * time.Minute
}

// DueAt reports whether the rule should run at now.
func (r *AutoRepostRule) DueAt(now time.Time) bool {
	return r.IsActive && !r.NextDueAt.After(now)
}
