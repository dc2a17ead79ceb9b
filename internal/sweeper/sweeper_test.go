package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/piataro/credits/internal/boost"
	"github.com/piataro/credits/internal/memstore"
	"github.com/piataro/credits/internal/models"
	"github.com/piataro/credits/internal/txn"
)

var now = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

func newSweeper(t *testing.T) (*Sweeper, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	runner := txn.NewRunner(store, txn.DefaultPolicy(), nil)
	boosts := boost.NewService(runner, nil, store.Boosts(), store.Listings(), nil, nil)
	return New(boosts, nil), store
}

// featured seeds a featured listing carrying one active boost per expiry.
func featured(store *memstore.Store, expiries ...time.Time) (models.Listing, []models.Boost) {
	l := models.Listing{ID: uuid.New(), OwnerAccountID: uuid.New(), IsFeatured: true}
	store.PutListing(l)
	var out []models.Boost
	for i, exp := range expiries {
		b := models.Boost{
			ID:           uuid.New(),
			ListingID:    l.ID,
			Kind:         models.BoostFeatured,
			DurationDays: 1,
			StartsAt:     exp.Add(-24*time.Hour + time.Duration(i)*time.Second),
			ExpiresAt:    exp,
			IsActive:     true,
		}
		store.PutBoost(b)
		out = append(out, b)
	}
	return l, out
}

func TestRunSweep_TwoBoostsExpireInTurn(t *testing.T) {
	sw, store := newSweeper(t)
	ctx := context.Background()
	l, bs := featured(store, now.Add(-time.Hour), now.Add(time.Hour))

	rep, err := sw.RunSweep(ctx, now)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if rep.BoostsDeactivated != 1 || rep.ListingsUnfeatured != 0 {
		t.Errorf("first sweep: got %+v", rep)
	}
	if b, _ := store.Boost(bs[0].ID); b.IsActive {
		t.Error("expired boost still active")
	}
	if got, _ := store.Listing(l.ID); !got.IsFeatured {
		t.Error("listing lost featured flag while a boost is active")
	}
	if rep.ActiveBoosts != 1 || rep.FeaturedListings != 1 {
		t.Errorf("stats: got %d active / %d featured", rep.ActiveBoosts, rep.FeaturedListings)
	}

	rep, err = sw.RunSweep(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if rep.BoostsDeactivated != 1 || rep.ListingsUnfeatured != 1 {
		t.Errorf("second sweep: got %+v", rep)
	}
	if got, _ := store.Listing(l.ID); got.IsFeatured {
		t.Error("listing still featured")
	}
}

func TestRunSweep_SameNowTwice(t *testing.T) {
	sw, store := newSweeper(t)
	ctx := context.Background()
	featured(store, now.Add(-time.Minute))
	featured(store, now)

	first, err := sw.RunSweep(ctx, now)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	second, err := sw.RunSweep(ctx, now)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if first.BoostsDeactivated != 2 || first.ListingsUnfeatured != 2 {
		t.Errorf("first: got %+v", first)
	}
	if second.BoostsDeactivated != 0 || second.ListingsUnfeatured != 0 {
		t.Errorf("second: got %+v", second)
	}
	if second.ActiveBoosts != 0 || second.FeaturedListings != 0 {
		t.Errorf("final stats: got %d active / %d featured", second.ActiveBoosts, second.FeaturedListings)
	}
}

func TestRunSweep_ReportsFailures(t *testing.T) {
	sw, store := newSweeper(t)
	featured(store, now.Add(-time.Minute))
	store.InjectFault(memstore.OpDeactivate, errors.New("disk full"), 1)

	rep, err := sw.RunSweep(context.Background(), now)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if rep.Failed != 1 || rep.BoostsDeactivated != 0 {
		t.Errorf("report: got %+v", rep)
	}
}

func TestDryRun_WritesNothing(t *testing.T) {
	sw, store := newSweeper(t)
	l, bs := featured(store, now.Add(-time.Hour), now.Add(-time.Minute))

	rep, err := sw.DryRun(context.Background(), now)
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if !rep.DryRun || len(rep.Expired) != 2 || len(rep.ListingIDs) != 1 {
		t.Errorf("report: got %+v", rep)
	}
	for _, b := range bs {
		if got, _ := store.Boost(b.ID); !got.IsActive {
			t.Error("dry run deactivated a boost")
		}
	}
	if got, _ := store.Listing(l.ID); !got.IsFeatured {
		t.Error("dry run unfeatured the listing")
	}
}
