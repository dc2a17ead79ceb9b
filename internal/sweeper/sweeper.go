// Package sweeper deactivates expired boosts on a timer.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/piataro/credits/internal/boost"
	"github.com/piataro/credits/internal/metrics"
	"github.com/piataro/credits/internal/models"
)

// Expirer is the part of the boost lifecycle manager the sweeper drives.
type Expirer interface {
	ExpireDueBoosts(ctx context.Context, now time.Time) (boost.ExpireResult, error)
	PreviewExpired(ctx context.Context, now time.Time) ([]*models.Boost, error)
	Stats(ctx context.Context) (activeBoosts, featuredListings int, err error)
}

// Report summarizes one sweep. ActiveBoosts and FeaturedListings are read
// after the sweep and are zero if that read failed.
type Report struct {
	DryRun             bool
	BoostsDeactivated  int
	ListingsUnfeatured int
	ListingIDs         []uuid.UUID
	Failed             int
	Failures           []boost.ListingFailure
	Expired            []*models.Boost
	ActiveBoosts       int
	FeaturedListings   int
	Duration           time.Duration
}

// Sweeper holds no state between runs.
type Sweeper struct {
	Boosts Expirer
	Logger *slog.Logger
}

func New(boosts Expirer, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{Boosts: boosts, Logger: logger}
}

// RunSweep expires every boost due at now.
func (s *Sweeper) RunSweep(ctx context.Context, now time.Time) (Report, error) {
	start := time.Now()
	res, err := s.Boosts.ExpireDueBoosts(ctx, now)
	rep := Report{
		BoostsDeactivated:  res.BoostsDeactivated,
		ListingsUnfeatured: res.ListingsUnfeatured,
		ListingIDs:         res.ListingIDs,
		Failed:             len(res.Failures),
		Failures:           res.Failures,
	}
	rep.Duration = time.Since(start)
	metrics.MaintenanceDuration.WithLabelValues("sweeper").Observe(rep.Duration.Seconds())
	if err != nil {
		return rep, err
	}
	s.fillStats(ctx, &rep)
	return rep, nil
}

// DryRun reports what RunSweep would deactivate at now without writing.
func (s *Sweeper) DryRun(ctx context.Context, now time.Time) (Report, error) {
	expired, err := s.Boosts.PreviewExpired(ctx, now)
	if err != nil {
		return Report{DryRun: true}, err
	}
	rep := Report{DryRun: true, Expired: expired}
	seen := make(map[uuid.UUID]bool)
	for _, b := range expired {
		if !seen[b.ListingID] {
			seen[b.ListingID] = true
			rep.ListingIDs = append(rep.ListingIDs, b.ListingID)
		}
	}
	s.fillStats(ctx, &rep)
	return rep, nil
}

func (s *Sweeper) fillStats(ctx context.Context, rep *Report) {
	active, featured, err := s.Boosts.Stats(ctx)
	if err != nil {
		s.Logger.Warn("sweeper: stats unavailable", "error", err)
		return
	}
	rep.ActiveBoosts, rep.FeaturedListings = active, featured
}
