// Package boost creates and expires listing promotions and keeps each
// listing's featured flag equal to "has at least one active boost".
package boost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/piataro/credits/internal/clock"
	"github.com/piataro/credits/internal/events"
	"github.com/piataro/credits/internal/ledger"
	"github.com/piataro/credits/internal/metrics"
	"github.com/piataro/credits/internal/models"
	"github.com/piataro/credits/internal/txn"
)

var (
	// ErrInsufficientCredits is matched by InsufficientCreditsError via errors.Is.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrListingNotFound is returned when promoting a listing that does not exist.
	ErrListingNotFound = errors.New("boost: listing not found")
	// ErrInvalidDuration is returned for a duration below one day.
	ErrInvalidDuration = errors.New("boost: duration must be at least one day")
)

// InsufficientCreditsError is the domain result of a Promote the account cannot
// afford. Nothing was written when it is returned.
type InsufficientCreditsError struct {
	AccountID uuid.UUID
	Balance   decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: account %s has %s, needs %s", e.AccountID, e.Balance, e.Required)
}

func (e *InsufficientCreditsError) Is(target error) bool { return target == ErrInsufficientCredits }

// PricePerDay is the promotion price used by the promote-now endpoint.
var PricePerDay = decimal.RequireFromString("0.5")

// PriceForDays returns the credit cost of a promotion lasting days.
func PriceForDays(days int) decimal.Decimal {
	return PricePerDay.Mul(decimal.NewFromInt(int64(days)))
}

// BoostRepo is the boost table as the lifecycle manager uses it.
type BoostRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, b *models.Boost) error
	ListDue(ctx context.Context, now time.Time) ([]*models.Boost, error)
	ListDueListingIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	DeactivateDueTx(ctx context.Context, tx pgx.Tx, listingID uuid.UUID, now time.Time) ([]*models.Boost, error)
	CountActiveByListingTx(ctx context.Context, tx pgx.Tx, listingID uuid.UUID) (int, error)
	CountActive(ctx context.Context) (int, error)
	ListByListing(ctx context.Context, listingID uuid.UUID) ([]*models.Boost, error)
}

// ListingStore is the external listing store. Only the owner and the featured
// flag are ever read or written.
type ListingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Listing, error)
	SetFeatured(ctx context.Context, tx pgx.Tx, id uuid.UUID, featured bool) error
	CountFeatured(ctx context.Context) (int, error)
}

// PromoteRequest describes one paid promotion.
type PromoteRequest struct {
	ListingID    uuid.UUID
	AccountID    uuid.UUID
	DurationDays int
	CreditsCost  decimal.Decimal
	Description  string
	// Source tags the emitted event ("promote", "auto-repost").
	Source string
}

// Promotion is what PromoteTx wrote; Publish it once the transaction commits.
type Promotion struct {
	Boost   *models.Boost
	Spend   ledger.Outcome
	Request PromoteRequest
}

// Service is the boost lifecycle manager.
type Service struct {
	Tx       *txn.Runner
	Ledger   *ledger.Service
	Boosts   BoostRepo
	Listings ListingStore
	Clock    clock.Clock
	Events   *events.Publisher
	Logger   *slog.Logger
}

func NewService(runner *txn.Runner, ledgerSvc *ledger.Service, boosts BoostRepo, listings ListingStore, publisher *events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Tx:       runner,
		Ledger:   ledgerSvc,
		Boosts:   boosts,
		Listings: listings,
		Clock:    clock.Real{},
		Events:   publisher,
		Logger:   logger,
	}
}

// PromoteTx charges the account, creates an active boost and features the
// listing inside tx. Any error, *InsufficientCreditsError included, means the
// caller must roll tx back. Locks are taken account first, then listing.
func (s *Service) PromoteTx(ctx context.Context, tx pgx.Tx, req PromoteRequest) (*Promotion, error) {
	if req.DurationDays < 1 {
		return nil, ErrInvalidDuration
	}
	listingID := req.ListingID
	spend, err := s.Ledger.DeductTx(ctx, tx, req.AccountID, req.CreditsCost, req.Description, &listingID)
	if err != nil {
		return nil, err
	}
	if !spend.OK {
		return nil, &InsufficientCreditsError{AccountID: req.AccountID, Balance: spend.Balance, Required: req.CreditsCost}
	}

	if _, err := s.Listings.GetForUpdate(ctx, tx, req.ListingID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("lock listing: %w", err)
	}

	now := s.Clock.Now()
	b := &models.Boost{
		ID:           uuid.New(),
		ListingID:    req.ListingID,
		Kind:         models.BoostFeatured,
		CreditsCost:  req.CreditsCost,
		DurationDays: req.DurationDays,
		StartsAt:     now,
		ExpiresAt:    now.AddDate(0, 0, req.DurationDays),
		IsActive:     true,
	}
	if err := s.Boosts.CreateTx(ctx, tx, b); err != nil {
		return nil, fmt.Errorf("create boost: %w", err)
	}
	if err := s.Listings.SetFeatured(ctx, tx, req.ListingID, true); err != nil {
		return nil, fmt.Errorf("feature listing: %w", err)
	}
	return &Promotion{Boost: b, Spend: spend, Request: req}, nil
}

// Promote runs PromoteTx as its own all-or-nothing unit, retrying transient
// store failures.
func (s *Service) Promote(ctx context.Context, req PromoteRequest) (*models.Boost, error) {
	var p *Promotion
	err := s.Tx.Do(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		p, err = s.PromoteTx(ctx, tx, req)
		return err
	})
	if err != nil {
		s.countFailure(err)
		if !errors.Is(err, ErrInsufficientCredits) {
			s.Logger.Warn("promote failed", "listing_id", req.ListingID, "account_id", req.AccountID, "error", err)
		}
		return nil, err
	}
	s.Publish(p)
	s.Logger.Info("listing promoted",
		"listing_id", req.ListingID, "boost_id", p.Boost.ID,
		"credits", req.CreditsCost.String(), "balance", p.Spend.Balance.String(),
		"expires_at", p.Boost.ExpiresAt)
	return p.Boost, nil
}

// Publish records metrics and emits events for a committed promotion.
func (s *Service) Publish(p *Promotion) {
	if p == nil {
		return
	}
	metrics.Promotions.WithLabelValues("ok").Inc()
	s.Ledger.PublishTransaction(p.Spend)
	source := p.Request.Source
	if source == "" {
		source = "promote"
	}
	s.Events.Emit(events.SubjectBoostCreated, events.BoostEvent{
		BoostID:   p.Boost.ID,
		ListingID: p.Boost.ListingID,
		AccountID: p.Request.AccountID,
		ExpiresAt: p.Boost.ExpiresAt,
		Source:    source,
	})
}

func (s *Service) countFailure(err error) {
	switch {
	case errors.Is(err, ErrInsufficientCredits):
		metrics.Promotions.WithLabelValues("insufficient").Inc()
	case txn.IsTransient(err):
		metrics.Promotions.WithLabelValues("transient").Inc()
	default:
		metrics.Promotions.WithLabelValues("error").Inc()
	}
}

// ListingFailure is one listing the expiration pass could not reconcile.
type ListingFailure struct {
	ListingID uuid.UUID
	Err       error
}

// ExpireResult summarizes one ExpireDueBoosts pass.
type ExpireResult struct {
	ListingIDs         []uuid.UUID
	BoostsDeactivated  int
	ListingsUnfeatured int
	Failures           []ListingFailure
}

// ExpireDueBoosts deactivates every active boost with expires_at <= now and
// clears the featured flag of listings left without an active boost. Each
// listing is handled in its own transaction holding the listing row lock, so
// a concurrent Promote on the same listing either commits first and is
// counted, or waits and sets the flag after. Failures are per listing.
func (s *Service) ExpireDueBoosts(ctx context.Context, now time.Time) (ExpireResult, error) {
	var res ExpireResult
	ids, err := s.Boosts.ListDueListingIDs(ctx, now)
	if err != nil {
		return res, fmt.Errorf("list due boosts: %w", err)
	}
	for _, listingID := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		expired, unfeatured, err := s.expireListing(ctx, listingID, now)
		if err != nil {
			s.Logger.Warn("expire boosts failed", "listing_id", listingID, "error", err)
			res.Failures = append(res.Failures, ListingFailure{ListingID: listingID, Err: err})
			continue
		}
		if len(expired) == 0 {
			continue
		}
		res.ListingIDs = append(res.ListingIDs, listingID)
		res.BoostsDeactivated += len(expired)
		if unfeatured {
			res.ListingsUnfeatured++
		}

		boostIDs := make([]uuid.UUID, len(expired))
		for i, b := range expired {
			boostIDs[i] = b.ID
		}
		s.Events.Emit(events.SubjectBoostsExpired, events.ExpiredEvent{
			ListingID:  listingID,
			BoostIDs:   boostIDs,
			Unfeatured: unfeatured,
			At:         now,
		})
	}
	metrics.BoostsExpired.Add(float64(res.BoostsDeactivated))
	metrics.ListingsUnfeatured.Add(float64(res.ListingsUnfeatured))
	return res, nil
}

func (s *Service) expireListing(ctx context.Context, listingID uuid.UUID, now time.Time) ([]*models.Boost, bool, error) {
	var (
		expired    []*models.Boost
		unfeatured bool
	)
	err := s.Tx.Do(ctx, func(ctx context.Context, tx pgx.Tx) error {
		expired, unfeatured = nil, false
		listing, err := s.Listings.GetForUpdate(ctx, tx, listingID)
		if err != nil {
			return fmt.Errorf("lock listing: %w", err)
		}
		expired, err = s.Boosts.DeactivateDueTx(ctx, tx, listingID, now)
		if err != nil {
			return fmt.Errorf("deactivate boosts: %w", err)
		}
		remaining, err := s.Boosts.CountActiveByListingTx(ctx, tx, listingID)
		if err != nil {
			return fmt.Errorf("count active boosts: %w", err)
		}
		if remaining == 0 && listing.IsFeatured {
			if err := s.Listings.SetFeatured(ctx, tx, listingID, false); err != nil {
				return fmt.Errorf("unfeature listing: %w", err)
			}
			unfeatured = true
		}
		return nil
	})
	return expired, unfeatured, err
}

// PreviewExpired lists the boosts ExpireDueBoosts would deactivate at now.
func (s *Service) PreviewExpired(ctx context.Context, now time.Time) ([]*models.Boost, error) {
	return s.Boosts.ListDue(ctx, now)
}

// Stats reports how many boosts are active and how many listings are featured.
func (s *Service) Stats(ctx context.Context) (activeBoosts, featuredListings int, err error) {
	if activeBoosts, err = s.Boosts.CountActive(ctx); err != nil {
		return 0, 0, err
	}
	if featuredListings, err = s.Listings.CountFeatured(ctx); err != nil {
		return 0, 0, err
	}
	return activeBoosts, featuredListings, nil
}

// ListingBoosts returns every boost of a listing, oldest first.
func (s *Service) ListingBoosts(ctx context.Context, listingID uuid.UUID) ([]*models.Boost, error) {
	return s.Boosts.ListByListing(ctx, listingID)
}

// Listing reads the listing's owner and featured flag.
func (s *Service) Listing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	l, err := s.Listings.GetByID(ctx, listingID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrListingNotFound
	}
	return l, err
}
