// Package scheduler renews promotions for auto-repost rules whose next due
// time has passed, charging the owner once per due window.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/piataro/credits/internal/boost"
	"github.com/piataro/credits/internal/clock"
	"github.com/piataro/credits/internal/events"
	"github.com/piataro/credits/internal/metrics"
	"github.com/piataro/credits/internal/models"
	"github.com/piataro/credits/internal/txn"
)

var (
	ErrRuleNotFound    = errors.New("scheduler: rule not found")
	ErrInvalidInterval = errors.New("scheduler: interval must be positive")
	ErrInvalidCredits  = errors.New("scheduler: credits per cycle must be positive with at most two decimals")
)

// DefaultBatchSize caps how many due rules one tick selects.
const DefaultBatchSize = 500

// RuleRepo is the auto_repost_rules table.
type RuleRepo interface {
	Create(ctx context.Context, rule *models.AutoRepostRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AutoRepostRule, error)
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.AutoRepostRule, error)
	ListDueIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	GetForUpdateSkipLocked(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.AutoRepostRule, error)
	AdvanceTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, next time.Time) error
	DisableTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// Promoter is the boost lifecycle manager as seen by the scheduler.
type Promoter interface {
	PromoteTx(ctx context.Context, tx pgx.Tx, req boost.PromoteRequest) (*boost.Promotion, error)
	Publish(p *boost.Promotion)
}

// Outcome of one rule within a tick.
type Outcome string

const (
	OutcomePromoted Outcome = "promoted"
	OutcomeDisabled Outcome = "disabled"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// RuleError is a rule that failed during a tick. The rule is left untouched
// and will be selected again next tick.
type RuleError struct {
	RuleID uuid.UUID
	Err    error
}

func (e RuleError) Error() string { return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err) }

// TickReport summarizes one RunTick.
type TickReport struct {
	Due       int
	Promoted  int
	Disabled  int
	Skipped   int
	Failed    int
	Errors    []RuleError
	Cancelled bool
	Duration  time.Duration
}

// Scheduler processes due auto-repost rules.
type Scheduler struct {
	Tx        *txn.Runner
	Rules     RuleRepo
	Boosts    Promoter
	Clock     clock.Clock
	Events    *events.Publisher
	Logger    *slog.Logger
	BatchSize int
}

func New(runner *txn.Runner, rules RuleRepo, promoter Promoter, publisher *events.Publisher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Tx:        runner,
		Rules:     rules,
		Boosts:    promoter,
		Clock:     clock.Real{},
		Events:    publisher,
		Logger:    logger,
		BatchSize: DefaultBatchSize,
	}
}

// CycleDays is the boost length bought by one cycle: the interval rounded up
// to whole days, at least one.
func CycleDays(intervalMinutes int) int {
	const minutesPerDay = 24 * 60
	days := (intervalMinutes + minutesPerDay - 1) / minutesPerDay
	if days < 1 {
		return 1
	}
	return days
}

// RunTick processes every rule that is active and due at now. Each rule is its
// own transaction; a failure is recorded and the tick moves on. Cancelling ctx
// stops the tick between rules.
func (s *Scheduler) RunTick(ctx context.Context, now time.Time) (rep TickReport, err error) {
	start := time.Now()
	defer func() {
		rep.Duration = time.Since(start)
		metrics.MaintenanceDuration.WithLabelValues("scheduler").Observe(rep.Duration.Seconds())
	}()

	ids, err := s.Rules.ListDueIDs(ctx, now, s.BatchSize)
	if err != nil {
		return rep, fmt.Errorf("list due rules: %w", err)
	}
	rep.Due = len(ids)

	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			rep.Cancelled = true
			break
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		outcome, err := s.processRule(ctx, id, now)
		metrics.RulesProcessed.WithLabelValues(string(outcome)).Inc()
		switch outcome {
		case OutcomePromoted:
			rep.Promoted++
		case OutcomeDisabled:
			rep.Disabled++
		case OutcomeSkipped:
			rep.Skipped++
		case OutcomeFailed:
			rep.Failed++
			rep.Errors = append(rep.Errors, RuleError{RuleID: id, Err: err})
			s.Logger.Warn("auto-repost failed", "rule_id", id, "error", err)
		}
	}
	return rep, nil
}

func (s *Scheduler) processRule(ctx context.Context, id uuid.UUID, now time.Time) (Outcome, error) {
	var (
		outcome   Outcome
		promotion *boost.Promotion
		rule      *models.AutoRepostRule
	)
	err := s.Tx.Do(ctx, func(ctx context.Context, tx pgx.Tx) error {
		outcome, promotion = OutcomeSkipped, nil
		var err error
		rule, err = s.Rules.GetForUpdateSkipLocked(ctx, tx, id)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock rule: %w", err)
		}
		// Another worker may have advanced or disabled it since selection.
		if !rule.DueAt(now) {
			return nil
		}

		promotion, err = s.Boosts.PromoteTx(ctx, tx, boost.PromoteRequest{
			ListingID:    rule.ListingID,
			AccountID:    rule.AccountID,
			DurationDays: CycleDays(rule.IntervalMinutes),
			CreditsCost:  rule.CreditsPerCycle,
			Description:  fmt.Sprintf("auto-repost: %s", rule.ListingID),
			Source:       "auto-repost",
		})
		if errors.Is(err, boost.ErrInsufficientCredits) {
			// Nothing was written by the failed deduct; disabling can share the tx.
			if err := s.Rules.DisableTx(ctx, tx, rule.ID); err != nil {
				return fmt.Errorf("disable rule: %w", err)
			}
			outcome = OutcomeDisabled
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.Rules.AdvanceTx(ctx, tx, rule.ID, now.Add(rule.Interval())); err != nil {
			return fmt.Errorf("advance rule: %w", err)
		}
		outcome = OutcomePromoted
		return nil
	})
	if err != nil {
		return OutcomeFailed, err
	}

	switch outcome {
	case OutcomePromoted:
		s.Boosts.Publish(promotion)
		s.Logger.Info("auto-reposted", "rule_id", rule.ID, "listing_id", rule.ListingID,
			"credits", rule.CreditsPerCycle.String(), "cycle", rule.TotalCycles+1)
	case OutcomeDisabled:
		s.Events.Emit(events.SubjectAutoRepostDisabled, events.RuleEvent{
			RuleID:    rule.ID,
			ListingID: rule.ListingID,
			AccountID: rule.AccountID,
			Reason:    "insufficient_credits",
			At:        now,
		})
		s.Logger.Info("auto-repost disabled, insufficient credits", "rule_id", rule.ID, "listing_id", rule.ListingID)
	}
	return outcome, nil
}

// CreateRuleInput describes a new auto-repost subscription.
type CreateRuleInput struct {
	ListingID       uuid.UUID
	AccountID       uuid.UUID
	CreditsPerCycle decimal.Decimal
	IntervalMinutes int
	// FirstDueAt defaults to one interval from now, the owner having just promoted.
	FirstDueAt *time.Time
}

// CreateRule stores an active rule.
func (s *Scheduler) CreateRule(ctx context.Context, in CreateRuleInput) (*models.AutoRepostRule, error) {
	if in.IntervalMinutes <= 0 {
		return nil, ErrInvalidInterval
	}
	if !in.CreditsPerCycle.IsPositive() || !models.FitsCreditScale(in.CreditsPerCycle) {
		return nil, ErrInvalidCredits
	}
	now := s.Clock.Now()
	rule := &models.AutoRepostRule{
		ID:              uuid.New(),
		ListingID:       in.ListingID,
		AccountID:       in.AccountID,
		CreditsPerCycle: in.CreditsPerCycle,
		IntervalMinutes: in.IntervalMinutes,
		IsActive:        true,
		CreatedAt:       now,
	}
	rule.NextDueAt = now.Add(rule.Interval())
	if in.FirstDueAt != nil {
		rule.NextDueAt = *in.FirstDueAt
	}
	if err := s.Rules.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	s.Logger.Info("auto-repost rule created", "rule_id", rule.ID, "listing_id", rule.ListingID,
		"interval_minutes", rule.IntervalMinutes, "next_due_at", rule.NextDueAt)
	return rule, nil
}

func (s *Scheduler) GetRule(ctx context.Context, id uuid.UUID) (*models.AutoRepostRule, error) {
	rule, err := s.Rules.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

func (s *Scheduler) ListRules(ctx context.Context, accountID uuid.UUID) ([]*models.AutoRepostRule, error) {
	return s.Rules.ListByAccountID(ctx, accountID)
}

// SetRuleActive pauses or re-enables a rule. A re-enabled overdue rule runs on
// the next tick.
func (s *Scheduler) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) (*models.AutoRepostRule, error) {
	if err := s.Rules.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return s.GetRule(ctx, id)
}
