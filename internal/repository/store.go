package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/piataro/credits/internal/models"
)

// Connect opens a pool and verifies it is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Store begins transactions whose lock waits and statements are bounded.
type Store struct {
	pool             *pgxpool.Pool
	lockTimeout      time.Duration
	statementTimeout time.Duration
}

func NewStore(pool *pgxpool.Pool, lockTimeout, statementTimeout time.Duration) *Store {
	return &Store{pool: pool, lockTimeout: lockTimeout, statementTimeout: statementTimeout}
}

// Begin starts a transaction and applies lock_timeout and statement_timeout to it only.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true), set_config('statement_timeout', $2, true)`,
		millis(s.lockTimeout), millis(s.statementTimeout))
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("set timeouts: %w", err)
	}
	return tx, nil
}

// Pool exposes the underlying pool for read-only repositories.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func millis(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}
