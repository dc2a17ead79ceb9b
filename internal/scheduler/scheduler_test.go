package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/piataro/credits/internal/boost"
	"github.com/piataro/credits/internal/clock"
	"github.com/piataro/credits/internal/ledger"
	"github.com/piataro/credits/internal/memstore"
	"github.com/piataro/credits/internal/models"
	"github.com/piataro/credits/internal/txn"
)

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	sched  *Scheduler
	ledger *ledger.Service
	store  *memstore.Store
	clk    *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	clk := clock.NewFake(now)
	runner := txn.NewRunner(store, txn.Policy{MaxRetries: 1, Base: time.Millisecond, Cap: time.Millisecond}, nil)
	led := ledger.NewService(runner, store.Accounts(), store.TransactionLog(), nil, nil)
	led.Clock = clk
	boosts := boost.NewService(runner, led, store.Boosts(), store.Listings(), nil, nil)
	boosts.Clock = clk
	sched := New(runner, store.Rules(), boosts, nil, nil)
	sched.Clock = clk
	return &fixture{sched: sched, ledger: led, store: store, clk: clk}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// seedRule creates a funded account, a listing and a rule due five minutes ago.
func (f *fixture) seedRule(t *testing.T, balance string) models.AutoRepostRule {
	t.Helper()
	acct := uuid.New()
	if balance != "0" {
		if _, err := f.ledger.Grant(context.Background(), acct, d(balance), "top-up"); err != nil {
			t.Fatalf("Grant: %v", err)
		}
	} else {
		f.store.ForceBalance(acct, decimal.Zero)
	}
	listing := f.store.AddListing(acct)
	rule := models.AutoRepostRule{
		ID:              uuid.New(),
		ListingID:       listing.ID,
		AccountID:       acct,
		CreditsPerCycle: d("0.5"),
		IntervalMinutes: 60,
		NextDueAt:       now.Add(-5 * time.Minute),
		IsActive:        true,
		CreatedAt:       now.Add(-time.Hour),
	}
	f.store.PutRule(rule)
	return rule
}

func spends(store *memstore.Store, acct uuid.UUID) int {
	n := 0
	for _, tr := range store.Transactions(acct) {
		if tr.Kind == models.TransactionSpend {
			n++
		}
	}
	return n
}

func TestRunTick_PromotesDueRule(t *testing.T) {
	f := newFixture(t)
	rule := f.seedRule(t, "0.5")

	rep, err := f.sched.RunTick(context.Background(), now)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.Due != 1 || rep.Promoted != 1 || rep.Failed != 0 {
		t.Errorf("report: got %+v", rep)
	}

	got, _ := f.store.Rule(rule.ID)
	if want := now.Add(60 * time.Minute); !got.NextDueAt.Equal(want) {
		t.Errorf("next_due_at: got %v, want %v", got.NextDueAt, want)
	}
	if got.TotalCycles != 1 || !got.IsActive {
		t.Errorf("rule: got cycles=%d active=%v", got.TotalCycles, got.IsActive)
	}
	if acc, _ := f.store.Account(rule.AccountID); !acc.Balance.IsZero() {
		t.Errorf("balance: got %s, want 0", acc.Balance)
	}
	if n := spends(f.store, rule.AccountID); n != 1 {
		t.Errorf("spends: got %d, want 1", n)
	}
	if l, _ := f.store.Listing(rule.ListingID); !l.IsFeatured {
		t.Error("listing not featured")
	}
	boosts := f.store.BoostsForListing(rule.ListingID)
	if len(boosts) != 1 || boosts[0].DurationDays != 1 {
		t.Errorf("boosts: got %+v, want one 1-day boost", boosts)
	}
}

func TestRunTick_DisablesWhenBroke(t *testing.T) {
	f := newFixture(t)
	rule := f.seedRule(t, "0")

	rep, err := f.sched.RunTick(context.Background(), now)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.Disabled != 1 || rep.Promoted != 0 {
		t.Errorf("report: got %+v", rep)
	}
	got, _ := f.store.Rule(rule.ID)
	if got.IsActive {
		t.Error("rule still active")
	}
	if !got.NextDueAt.Equal(rule.NextDueAt) {
		t.Errorf("next_due_at moved: got %v, want %v", got.NextDueAt, rule.NextDueAt)
	}
	if got.TotalCycles != 0 {
		t.Errorf("total_cycles: got %d, want 0", got.TotalCycles)
	}
	if n := len(f.store.Transactions(rule.AccountID)); n != 0 {
		t.Errorf("transactions: got %d, want 0", n)
	}

	// Disabled is terminal for the scheduler.
	rep, _ = f.sched.RunTick(context.Background(), now.Add(24*time.Hour))
	if rep.Due != 0 {
		t.Errorf("disabled rule selected again: %+v", rep)
	}
}

func TestRunTick_AtMostOncePerWindow(t *testing.T) {
	f := newFixture(t)
	rule := f.seedRule(t, "10")
	ctx := context.Background()

	for _, at := range []time.Time{now, now, now.Add(30 * time.Minute), now.Add(59 * time.Minute)} {
		if _, err := f.sched.RunTick(ctx, at); err != nil {
			t.Fatalf("RunTick(%v): %v", at, err)
		}
	}
	if n := spends(f.store, rule.AccountID); n != 1 {
		t.Fatalf("spends before next window: got %d, want 1", n)
	}

	if _, err := f.sched.RunTick(ctx, now.Add(60*time.Minute)); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if n := spends(f.store, rule.AccountID); n != 2 {
		t.Errorf("spends after next window: got %d, want 2", n)
	}
}

// listBarrier holds each ListDueIDs caller until every tick has listed, so
// concurrent ticks see the same due rules.
type listBarrier struct {
	RuleRepo
	listed *sync.WaitGroup
}

func (b listBarrier) ListDueIDs(ctx context.Context, at time.Time, limit int) ([]uuid.UUID, error) {
	ids, err := b.RuleRepo.ListDueIDs(ctx, at, limit)
	b.listed.Done()
	b.listed.Wait()
	return ids, err
}

func TestRunTick_ConcurrentTicksChargeOnce(t *testing.T) {
	f := newFixture(t)
	rule := f.seedRule(t, "10")

	var listed sync.WaitGroup
	listed.Add(2)
	f.sched.Rules = listBarrier{RuleRepo: f.sched.Rules, listed: &listed}

	var (
		wg      sync.WaitGroup
		reports [2]TickReport
		errs    [2]error
	)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], errs[i] = f.sched.RunTick(context.Background(), now)
		}(i)
	}
	wg.Wait()

	var promoted, skipped int
	for i, rep := range reports {
		if errs[i] != nil {
			t.Fatalf("tick %d: %v", i, errs[i])
		}
		if rep.Due != 1 || rep.Failed != 0 {
			t.Errorf("tick %d: got %+v", i, rep)
		}
		promoted += rep.Promoted
		skipped += rep.Skipped
	}
	if promoted != 1 || skipped != 1 {
		t.Errorf("outcomes: got %d promoted / %d skipped, want 1/1", promoted, skipped)
	}
	if n := spends(f.store, rule.AccountID); n != 1 {
		t.Errorf("spends: got %d, want 1", n)
	}
	if got, _ := f.store.Rule(rule.ID); got.TotalCycles != 1 {
		t.Errorf("total_cycles: got %d, want 1", got.TotalCycles)
	}
}

func TestRunTick_SkipsRuleLockedElsewhere(t *testing.T) {
	f := newFixture(t)
	rule := f.seedRule(t, "10")
	ctx := context.Background()

	unlock := f.store.LockRule(rule.ID)
	rep, err := f.sched.RunTick(ctx, now)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.Due != 1 || rep.Skipped != 1 || rep.Promoted != 0 {
		t.Errorf("locked tick: got %+v", rep)
	}
	if n := spends(f.store, rule.AccountID); n != 0 {
		t.Errorf("spends while locked: got %d, want 0", n)
	}
	if got, _ := f.store.Rule(rule.ID); !got.NextDueAt.Equal(rule.NextDueAt) {
		t.Errorf("next_due_at moved while locked: %v", got.NextDueAt)
	}

	unlock()
	rep, err = f.sched.RunTick(ctx, now)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.Promoted != 1 {
		t.Errorf("after unlock: got %+v", rep)
	}
}

func TestRunTick_NoCatchUpAfterDowntime(t *testing.T) {
	f := newFixture(t)
	rule := f.seedRule(t, "10")
	late := now.Add(10 * time.Hour)

	if _, err := f.sched.RunTick(context.Background(), late); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	got, _ := f.store.Rule(rule.ID)
	if want := late.Add(time.Hour); !got.NextDueAt.Equal(want) {
		t.Errorf("next_due_at: got %v, want %v", got.NextDueAt, want)
	}
	if n := spends(f.store, rule.AccountID); n != 1 {
		t.Errorf("spends: got %d, want 1", n)
	}
}

func TestRunTick_IsolatesRuleFailures(t *testing.T) {
	f := newFixture(t)
	good := f.seedRule(t, "10")
	bad := f.seedRule(t, "10")
	bad.ListingID = uuid.New() // listing does not exist
	bad.NextDueAt = now.Add(-10 * time.Minute)
	f.store.PutRule(bad)

	rep, err := f.sched.RunTick(context.Background(), now)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.Promoted != 1 || rep.Failed != 1 || len(rep.Errors) != 1 {
		t.Fatalf("report: got %+v", rep)
	}
	if rep.Errors[0].RuleID != bad.ID || !errors.Is(rep.Errors[0].Err, boost.ErrListingNotFound) {
		t.Errorf("rule error: got %v", rep.Errors[0])
	}
	if n := spends(f.store, bad.AccountID); n != 0 {
		t.Errorf("failed rule charged %d times", n)
	}
	if got, _ := f.store.Rule(bad.ID); !got.IsActive || !got.NextDueAt.Equal(bad.NextDueAt) {
		t.Errorf("failed rule modified: %+v", got)
	}
	if got, _ := f.store.Rule(good.ID); got.TotalCycles != 1 {
		t.Errorf("good rule cycles: got %d, want 1", got.TotalCycles)
	}
}

func TestRunTick_AdvanceFailureRollsBackCharge(t *testing.T) {
	f := newFixture(t)
	rule := f.seedRule(t, "10")
	f.store.InjectFault(memstore.OpAdvanceRule, errors.New("rules table locked"), 1)

	rep, err := f.sched.RunTick(context.Background(), now)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.Failed != 1 {
		t.Errorf("report: got %+v", rep)
	}
	if acc, _ := f.store.Account(rule.AccountID); !acc.Balance.Equal(d("10")) {
		t.Errorf("balance: got %s, want 10", acc.Balance)
	}
	if n := len(f.store.BoostsForListing(rule.ListingID)); n != 0 {
		t.Errorf("boosts: got %d, want 0", n)
	}

	// Next tick retries the same window and charges exactly once.
	if _, err := f.sched.RunTick(context.Background(), now); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if n := spends(f.store, rule.AccountID); n != 1 {
		t.Errorf("spends: got %d, want 1", n)
	}
}

func TestRunTick_CancelledBeforeRules(t *testing.T) {
	f := newFixture(t)
	rule := f.seedRule(t, "10")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := f.sched.RunTick(ctx, now)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if !rep.Cancelled || rep.Promoted != 0 {
		t.Errorf("report: got %+v", rep)
	}
	if got, _ := f.store.Rule(rule.ID); got.TotalCycles != 0 {
		t.Error("rule processed after cancellation")
	}
}

func TestRunTick_SkipsInactiveAndFutureRules(t *testing.T) {
	f := newFixture(t)
	paused := f.seedRule(t, "10")
	paused.IsActive = false
	f.store.PutRule(paused)
	future := f.seedRule(t, "10")
	future.NextDueAt = now.Add(time.Minute)
	f.store.PutRule(future)

	rep, err := f.sched.RunTick(context.Background(), now)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rep.Due != 0 || rep.Promoted != 0 {
		t.Errorf("report: got %+v", rep)
	}
}

func TestCycleDays(t *testing.T) {
	tests := []struct {
		minutes int
		want    int
	}{
		{1, 1},
		{60, 1},
		{1440, 1},
		{1441, 2},
		{10080, 7},
	}
	for _, tt := range tests {
		if got := CycleDays(tt.minutes); got != tt.want {
			t.Errorf("CycleDays(%d): got %d, want %d", tt.minutes, got, tt.want)
		}
	}
}

func TestCreateRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := uuid.New()
	listing := f.store.AddListing(acct)

	if _, err := f.sched.CreateRule(ctx, CreateRuleInput{ListingID: listing.ID, AccountID: acct, CreditsPerCycle: d("0.5")}); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("zero interval: got %v", err)
	}
	if _, err := f.sched.CreateRule(ctx, CreateRuleInput{ListingID: listing.ID, AccountID: acct, IntervalMinutes: 60}); !errors.Is(err, ErrInvalidCredits) {
		t.Errorf("zero credits: got %v", err)
	}
	if _, err := f.sched.CreateRule(ctx, CreateRuleInput{ListingID: listing.ID, AccountID: acct, CreditsPerCycle: d("0.125"), IntervalMinutes: 60}); !errors.Is(err, ErrInvalidCredits) {
		t.Errorf("sub-cent credits: got %v", err)
	}

	rule, err := f.sched.CreateRule(ctx, CreateRuleInput{ListingID: listing.ID, AccountID: acct, CreditsPerCycle: d("0.5"), IntervalMinutes: 180})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if !rule.IsActive || !rule.NextDueAt.Equal(now.Add(3*time.Hour)) {
		t.Errorf("rule: got %+v", rule)
	}

	paused, err := f.sched.SetRuleActive(ctx, rule.ID, false)
	if err != nil {
		t.Fatalf("SetRuleActive: %v", err)
	}
	if paused.IsActive {
		t.Error("rule still active")
	}
	if _, err := f.sched.SetRuleActive(ctx, uuid.New(), true); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("unknown rule: got %v", err)
	}
	rules, err := f.sched.ListRules(ctx, acct)
	if err != nil || len(rules) != 1 {
		t.Errorf("ListRules: got %d rules, err %v", len(rules), err)
	}
}
