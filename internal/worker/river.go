package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/piataro/credits/internal/clock"
)

// QueueMaintenance runs one job at a time so ticks never overlap on a replica;
// river's leader election keeps periodic inserts to one per interval cluster-wide.
const QueueMaintenance = "maintenance"

type SchedulerTickArgs struct{}

func (SchedulerTickArgs) Kind() string { return "scheduler_tick" }

func (SchedulerTickArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueMaintenance, MaxAttempts: 1}
}

type ExpirationSweepArgs struct{}

func (ExpirationSweepArgs) Kind() string { return "expiration_sweep" }

func (ExpirationSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueMaintenance, MaxAttempts: 1}
}

// taskWorker adapts a Task to a river worker.
type taskWorker[T river.JobArgs] struct {
	river.WorkerDefaults[T]
	task    Task
	clock   clock.Clock
	timeout time.Duration
}

func (w *taskWorker[T]) Work(ctx context.Context, job *river.Job[T]) error {
	return w.task(ctx, w.clock.Now())
}

func (w *taskWorker[T]) Timeout(*river.Job[T]) time.Duration { return w.timeout }

func NewSchedulerTickWorker(task Task, clk clock.Clock, timeout time.Duration) river.Worker[SchedulerTickArgs] {
	return &taskWorker[SchedulerTickArgs]{task: task, clock: clk, timeout: timeout}
}

func NewExpirationSweepWorker(task Task, clk clock.Clock, timeout time.Duration) river.Worker[ExpirationSweepArgs] {
	return &taskWorker[ExpirationSweepArgs]{task: task, clock: clk, timeout: timeout}
}

// RiverConfig is the periodic schedule for the river-backed mode.
type RiverConfig struct {
	SchedulerInterval time.Duration
	SweepInterval     time.Duration
	Timeout           time.Duration
}

// NewRiverClient registers both maintenance workers and their periodic jobs.
func NewRiverClient(pool *pgxpool.Pool, schedulerTask, sweepTask Task, clk clock.Clock, cfg RiverConfig) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewSchedulerTickWorker(schedulerTask, clk, cfg.Timeout))
	river.AddWorker(workers, NewExpirationSweepWorker(sweepTask, clk, cfg.Timeout))

	periodic := []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(cfg.SchedulerInterval),
			func() (river.JobArgs, *river.InsertOpts) { return SchedulerTickArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(cfg.SweepInterval),
			func() (river.JobArgs, *river.InsertOpts) { return ExpirationSweepArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueMaintenance: {MaxWorkers: 1},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
	})
	if err != nil {
		return nil, fmt.Errorf("river client: %w", err)
	}
	return client, nil
}

// RiverServer runs a river client with the Start/Stop shape the app expects.
type RiverServer struct {
	Client *river.Client[pgx.Tx]
}

func (s *RiverServer) Start(ctx context.Context) error {
	if err := s.Client.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (s *RiverServer) Stop(ctx context.Context) error {
	return s.Client.Stop(ctx)
}
