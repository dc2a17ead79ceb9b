// Package events publishes ledger and boost events after their transaction commits.
package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subjects.
const (
	SubjectCreditsSpent       = "credits.spent"
	SubjectCreditsGranted     = "credits.granted"
	SubjectBoostCreated       = "boosts.created"
	SubjectBoostsExpired      = "boosts.expired"
	SubjectAutoRepostDisabled = "autorepost.disabled"
)

// Bus is the transport the publisher writes to.
type Bus interface {
	Publish(subject string, data []byte) error
}

// CreditsEvent is emitted for every committed balance mutation.
type CreditsEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	ListingID     *uuid.UUID      `json:"listing_id,omitempty"`
	At            time.Time       `json:"at"`
}

// BoostEvent is emitted when a boost is created.
type BoostEvent struct {
	BoostID   uuid.UUID `json:"boost_id"`
	ListingID uuid.UUID `json:"listing_id"`
	AccountID uuid.UUID `json:"account_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Source    string    `json:"source"`
}

// ExpiredEvent is emitted per listing touched by an expiration sweep.
type ExpiredEvent struct {
	ListingID  uuid.UUID   `json:"listing_id"`
	BoostIDs   []uuid.UUID `json:"boost_ids"`
	Unfeatured bool        `json:"unfeatured"`
	At         time.Time   `json:"at"`
}

// RuleEvent is emitted when the scheduler disables a rule.
type RuleEvent struct {
	RuleID    uuid.UUID `json:"rule_id"`
	ListingID uuid.UUID `json:"listing_id"`
	AccountID uuid.UUID `json:"account_id"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Publisher marshals events to JSON. A nil *Publisher or nil Bus drops events.
type Publisher struct {
	bus Bus
	log *slog.Logger
}

// NewPublisher returns a Publisher writing to bus.
func NewPublisher(bus Bus, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{bus: bus, log: log}
}

// Emit publishes v on subject. Failures are logged; the unit of work that
// produced the event has already committed.
func (p *Publisher) Emit(subject string, v any) {
	if p == nil || p.bus == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.log.Error("events: marshal failed", "subject", subject, "error", err)
		return
	}
	if err := p.bus.Publish(subject, data); err != nil {
		p.log.Warn("events: publish failed", "subject", subject, "error", err)
	}
}
