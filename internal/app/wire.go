package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/piataro/credits/internal/auth"
	"github.com/piataro/credits/internal/boost"
	"github.com/piataro/credits/internal/clock"
	"github.com/piataro/credits/internal/config"
	"github.com/piataro/credits/internal/events"
	"github.com/piataro/credits/internal/handlers"
	"github.com/piataro/credits/internal/ledger"
	"github.com/piataro/credits/internal/lock"
	"github.com/piataro/credits/internal/repository"
	"github.com/piataro/credits/internal/router"
	"github.com/piataro/credits/internal/scheduler"
	"github.com/piataro/credits/internal/sweeper"
	"github.com/piataro/credits/internal/txn"
	"github.com/piataro/credits/internal/validate"
	"github.com/piataro/credits/internal/worker"
)

// Components is the wired service graph. Close releases every connection
// Build opened.
type Components struct {
	Config    *config.Config
	Logger    *slog.Logger
	Clock     clock.Clock
	Pool      *pgxpool.Pool
	Ledger    *ledger.Service
	Boosts    *boost.Service
	Scheduler *scheduler.Scheduler
	Sweeper   *sweeper.Sweeper
	Auth      *auth.Service
	Locker    lock.Locker

	nc  *nats.Conn
	rdb *redis.Client
}

// Build connects to Postgres, and to NATS and Redis when configured, and wires
// the services on top.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	pool, err := repository.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	c := &Components{Config: cfg, Logger: logger, Clock: clock.Real{}, Pool: pool}

	nc, err := events.Connect(cfg.NATSURL)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("nats: %w", err)
	}
	c.nc = nc
	var publisher *events.Publisher
	if nc != nil {
		publisher = events.NewPublisher(events.NewNATSBus(nc), logger)
		logger.Info("publishing events", "nats_url", cfg.NATSURL)
	}

	rdb, err := lock.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	c.rdb = rdb
	if rdb != nil {
		c.Locker = lock.NewRedis(rdb, "")
	} else {
		c.Locker = lock.NewLocal()
	}

	store := repository.NewStore(pool, cfg.Store.LockTimeout, cfg.Store.StatementTimeout)
	runner := txn.NewRunner(store, txn.Policy{
		MaxRetries: uint64(cfg.Store.RetryMax),
		Base:       cfg.Store.RetryBase,
	}, logger)

	c.Ledger = ledger.NewService(runner, repository.NewAccountRepo(pool), repository.NewTransactionRepo(pool), publisher, logger)
	c.Boosts = boost.NewService(runner, c.Ledger, repository.NewBoostRepo(pool), repository.NewListingRepo(pool), publisher, logger)
	c.Scheduler = scheduler.New(runner, repository.NewRuleRepo(pool), c.Boosts, publisher, logger)
	c.Scheduler.BatchSize = cfg.Scheduler.BatchSize
	c.Sweeper = sweeper.New(c.Boosts, logger)
	c.Auth = auth.NewService(cfg.JWTSecret, cfg.AdminKeyHash)
	return c, nil
}

// Close drains NATS and closes Redis and the pool.
func (c *Components) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
	if c.rdb != nil {
		_ = c.rdb.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// Servers returns the HTTP server plus the maintenance runners for the
// configured scheduler mode.
func (c *Components) Servers() ([]Server, error) {
	cfg := c.Config
	schemas, err := validate.New()
	if err != nil {
		return nil, err
	}
	h := router.New(router.Deps{
		Promote: &handlers.PromoteHandler{
			Boosts: c.Boosts, Rules: c.Scheduler, Ledger: c.Ledger,
			Schemas: schemas, Logger: c.Logger,
		},
		Admin: &handlers.AdminHandler{
			Ledger: c.Ledger, Scheduler: c.Scheduler, Sweeper: c.Sweeper,
			Clock: c.Clock, Schemas: schemas, Logger: c.Logger,
		},
		Tokens:      c.Auth,
		AdminKeys:   c.Auth,
		CORSOrigins: cfg.CORSOrigins,
	})
	servers := []Server{NewHTTPServer(cfg.Addr(), h, c.Logger)}

	if cfg.Scheduler.Disabled {
		c.Logger.Info("maintenance jobs disabled")
		return servers, nil
	}

	tick := worker.SchedulerTask(c.Scheduler, c.Logger)
	sweep := worker.SweepTask(c.Sweeper, c.Logger)
	switch cfg.Scheduler.Mode {
	case config.ModeRiver:
		client, err := worker.NewRiverClient(c.Pool, tick, sweep, c.Clock, worker.RiverConfig{
			SchedulerInterval: cfg.Scheduler.Interval,
			SweepInterval:     cfg.Scheduler.SweepInterval,
			Timeout:           cfg.Scheduler.TickTimeout,
		})
		if err != nil {
			return nil, err
		}
		servers = append(servers, &worker.RiverServer{Client: client})
	default:
		servers = append(servers,
			worker.NewRunner("scheduler_tick", cfg.Scheduler.Interval, cfg.Scheduler.TickTimeout, tick, c.Locker, c.Logger),
			worker.NewRunner("expiration_sweep", cfg.Scheduler.SweepInterval, cfg.Scheduler.TickTimeout, sweep, c.Locker, c.Logger),
		)
	}
	return servers, nil
}
