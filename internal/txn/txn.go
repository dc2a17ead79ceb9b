// Package txn runs units of work inside a single database transaction and
// retries them with bounded backoff when the failure is transient.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
)

// ErrTransient marks a failure that may succeed on retry (lock wait exceeded,
// store briefly unavailable). Stores may wrap it; pgx errors are classified by code.
var ErrTransient = errors.New("transient store failure")

// Beginner is satisfied by *pgxpool.Pool, the repository store and the in-memory store.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Policy bounds the retry loop.
type Policy struct {
	MaxRetries uint64
	Base       time.Duration
	Cap        time.Duration
}

// DefaultPolicy retries three times starting at 50ms, never waiting more than a second.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, Base: 50 * time.Millisecond, Cap: time.Second}
}

// Runner owns the transactional boundary for ledger, boost and scheduler operations.
type Runner struct {
	db     Beginner
	policy Policy
	log    *slog.Logger
}

// NewRunner returns a Runner over db.
func NewRunner(db Beginner, policy Policy, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if policy.Base <= 0 {
		policy.Base = DefaultPolicy().Base
	}
	if policy.Cap <= 0 {
		policy.Cap = DefaultPolicy().Cap
	}
	return &Runner{db: db, policy: policy, log: log}
}

// Do runs fn in a transaction and commits it. Any error from fn rolls the whole
// unit back. Transient errors are retried with a fresh transaction; everything
// else, domain results included, is returned as is.
func (r *Runner) Do(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	b := retry.NewExponential(r.policy.Base)
	b = retry.WithCappedDuration(r.policy.Cap, b)
	b = retry.WithMaxRetries(r.policy.MaxRetries, b)

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := r.once(ctx, fn)
		if err != nil && ctx.Err() == nil && IsTransient(err) {
			r.log.Warn("transient store failure, retrying", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *Runner) once(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Postgres error codes worth another attempt.
var transientCodes = map[string]bool{
	"55P03": true, // lock_not_available (lock_timeout)
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57014": true, // query_canceled (statement_timeout)
	"08006": true, // connection_failure
	"57P03": true, // cannot_connect_now
}

// IsTransient classifies err as retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientCodes[pgErr.Code]
	}
	return pgconn.SafeToRetry(err)
}
