// Package worker runs the scheduler tick and the expiration sweep on a timer,
// either as in-process loops or as river periodic jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/piataro/credits/internal/clock"
	"github.com/piataro/credits/internal/lock"
)

// Task is one tick of a periodic job.
type Task func(ctx context.Context, now time.Time) error

// ErrAlreadyRunning is returned by Start on a Runner that is running.
var ErrAlreadyRunning = errors.New("worker: runner already started")

// Runner calls Task every Interval on a single goroutine, so ticks never
// overlap. Each tick is bounded by Timeout. When Locker is set a tick only runs
// on the replica that wins the lease.
type Runner struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Task     Task
	Clock    clock.Clock
	Locker   lock.Locker
	Logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewRunner(name string, interval, timeout time.Duration, task Task, locker lock.Locker, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Name:     name,
		Interval: interval,
		Timeout:  timeout,
		Task:     task,
		Clock:    clock.Real{},
		Locker:   locker,
		Logger:   logger.With("task", name),
	}
}

// Start runs the loop until ctx is cancelled or Stop is called. The first tick
// runs immediately.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.stopped = make(chan struct{})
	stopped := r.stopped
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		close(stopped)
	}()

	r.Logger.Info("periodic task started", "interval", r.Interval.String())
	for {
		if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.Logger.Error("tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.Logger.Info("periodic task stopped")
			return nil
		case <-r.Clock.After(r.Interval):
		}
	}
}

// Stop cancels the loop and waits for the tick in flight, or for ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, stopped := r.cancel, r.stopped
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single tick under the timeout and lease.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	if r.Locker != nil {
		ttl := r.Timeout
		if ttl <= 0 {
			ttl = r.Interval
		}
		release, ok, err := r.Locker.TryLock(ctx, r.Name, ttl+5*time.Second)
		if err != nil {
			return fmt.Errorf("acquire lease: %w", err)
		}
		if !ok {
			r.Logger.Debug("lease held elsewhere, skipping tick")
			return nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.Logger.Warn("release lease", "error", err)
			}
		}()
	}
	return r.Task(ctx, r.Clock.Now())
}
