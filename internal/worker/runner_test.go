package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riverqueue/river"

	"github.com/piataro/credits/internal/clock"
	"github.com/piataro/credits/internal/lock"
	"github.com/piataro/credits/internal/scheduler"
)

var start = time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)

func TestRunner_TicksOnEachInterval(t *testing.T) {
	clk := clock.NewFake(start)
	ticks := make(chan time.Time, 10)
	r := NewRunner("test", time.Minute, time.Second, func(ctx context.Context, now time.Time) error {
		ticks <- now
		return nil
	}, nil, nil)
	r.Clock = clk

	done := make(chan error, 1)
	go func() { done <- r.Start(context.Background()) }()

	if got := <-ticks; !got.Equal(start) {
		t.Errorf("first tick at %v, want %v", got, start)
	}
	for i := 1; i <= 2; i++ {
		clk.BlockUntil(1)
		clk.Advance(time.Minute)
		if got, want := <-ticks, start.Add(time.Duration(i)*time.Minute); !got.Equal(want) {
			t.Errorf("tick %d at %v, want %v", i, got, want)
		}
	}

	clk.BlockUntil(1)
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Start returned %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestRunner_KeepsRunningAfterTickError(t *testing.T) {
	clk := clock.NewFake(start)
	var calls atomic.Int32
	seen := make(chan struct{}, 10)
	r := NewRunner("flaky", time.Minute, 0, func(ctx context.Context, now time.Time) error {
		calls.Add(1)
		seen <- struct{}{}
		return errors.New("store unavailable")
	}, nil, nil)
	r.Clock = clk

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	<-seen
	clk.BlockUntil(1)
	clk.Advance(time.Minute)
	<-seen
	clk.BlockUntil(1)
	cancel()
	<-done
	if n := calls.Load(); n != 2 {
		t.Errorf("calls: got %d, want 2", n)
	}
}

func TestRunner_StartTwice(t *testing.T) {
	clk := clock.NewFake(start)
	ran := make(chan struct{}, 1)
	r := NewRunner("once", time.Hour, 0, func(context.Context, time.Time) error {
		ran <- struct{}{}
		return nil
	}, nil, nil)
	r.Clock = clk

	go func() { _ = r.Start(context.Background()) }()
	<-ran
	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: got %v, want ErrAlreadyRunning", err)
	}
	_ = r.Stop(context.Background())
}

func TestRunOnce_SkipsWhenLeaseHeld(t *testing.T) {
	locker := lock.NewLocal()
	var calls int
	r := NewRunner("scheduler", time.Minute, time.Second, func(context.Context, time.Time) error {
		calls++
		return nil
	}, locker, nil)
	ctx := context.Background()

	release, ok, _ := locker.TryLock(ctx, "scheduler", time.Minute)
	if !ok {
		t.Fatal("TryLock failed")
	}
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if calls != 0 {
		t.Fatalf("tick ran while another replica held the lease")
	}
	_ = release(ctx)
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
	// The lease is released after the tick.
	if _, ok, _ := locker.TryLock(ctx, "scheduler", time.Minute); !ok {
		t.Error("lease not released after tick")
	}
}

func TestRunOnce_BoundsTickWithTimeout(t *testing.T) {
	r := NewRunner("slow", time.Minute, 10*time.Millisecond, func(ctx context.Context, _ time.Time) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil, nil)
	if err := r.RunOnce(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunOnce: got %v, want DeadlineExceeded", err)
	}
}

type stubTicker struct {
	rep scheduler.TickReport
	at  time.Time
}

func (s *stubTicker) RunTick(_ context.Context, now time.Time) (scheduler.TickReport, error) {
	s.at = now
	return s.rep, nil
}

func TestSchedulerTickWorker_UsesClock(t *testing.T) {
	clk := clock.NewFake(start)
	ticker := &stubTicker{rep: scheduler.TickReport{Due: 1, Promoted: 1}}
	w := NewSchedulerTickWorker(SchedulerTask(ticker, nil), clk, time.Minute)

	if err := w.Work(context.Background(), &river.Job[SchedulerTickArgs]{}); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if !ticker.at.Equal(start) {
		t.Errorf("tick time: got %v, want %v", ticker.at, start)
	}
	if got := w.Timeout(&river.Job[SchedulerTickArgs]{}); got != time.Minute {
		t.Errorf("Timeout: got %v, want 1m", got)
	}
	if opts := (SchedulerTickArgs{}).InsertOpts(); opts.Queue != QueueMaintenance || opts.MaxAttempts != 1 {
		t.Errorf("insert opts: got %+v", opts)
	}
}
