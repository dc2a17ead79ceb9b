package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/piataro/credits/internal/scheduler"
	"github.com/piataro/credits/internal/sweeper"
)

// Ticker is satisfied by *scheduler.Scheduler.
type Ticker interface {
	RunTick(ctx context.Context, now time.Time) (scheduler.TickReport, error)
}

// Sweeper is satisfied by *sweeper.Sweeper.
type Sweeper interface {
	RunSweep(ctx context.Context, now time.Time) (sweeper.Report, error)
}

// SchedulerTask runs one scheduler tick and logs its summary.
func SchedulerTask(s Ticker, logger *slog.Logger) Task {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, now time.Time) error {
		rep, err := s.RunTick(ctx, now)
		if err != nil {
			return err
		}
		if rep.Due == 0 {
			return nil
		}
		logger.Info("auto-repost tick",
			"due", rep.Due, "promoted", rep.Promoted, "disabled", rep.Disabled,
			"skipped", rep.Skipped, "failed", rep.Failed, "cancelled", rep.Cancelled,
			"duration_ms", rep.Duration.Milliseconds())
		return nil
	}
}

// SweepTask runs one expiration sweep and logs its summary.
func SweepTask(s Sweeper, logger *slog.Logger) Task {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, now time.Time) error {
		rep, err := s.RunSweep(ctx, now)
		if err != nil {
			return err
		}
		if rep.BoostsDeactivated == 0 && rep.Failed == 0 {
			return nil
		}
		logger.Info("expiration sweep",
			"boosts_deactivated", rep.BoostsDeactivated, "listings_unfeatured", rep.ListingsUnfeatured,
			"failed", rep.Failed, "active_boosts", rep.ActiveBoosts, "featured_listings", rep.FeaturedListings)
		return nil
	}
}
