package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/piataro/credits/internal/models"
)

type RuleRepo struct {
	pool *pgxpool.Pool
}

func NewRuleRepo(pool *pgxpool.Pool) *RuleRepo {
	return &RuleRepo{pool: pool}
}

const ruleColumns = `id, listing_id, account_id, credits_per_cycle, interval_minutes, next_due_at, is_active, total_cycles, created_at`

func scanRule(row rowScanner) (*models.AutoRepostRule, error) {
	var r models.AutoRepostRule
	err := row.Scan(&r.ID, &r.ListingID, &r.AccountID, &r.CreditsPerCycle, &r.IntervalMinutes,
		&r.NextDueAt, &r.IsActive, &r.TotalCycles, &r.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (r *RuleRepo) Create(ctx context.Context, rule *models.AutoRepostRule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO auto_repost_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rule.ID, rule.ListingID, rule.AccountID, rule.CreditsPerCycle, rule.IntervalMinutes,
		rule.NextDueAt, rule.IsActive, rule.TotalCycles, rule.CreatedAt)
	return err
}

func (r *RuleRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AutoRepostRule, error) {
	return scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM auto_repost_rules WHERE id = $1`, id))
}

func (r *RuleRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.AutoRepostRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM auto_repost_rules
		WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.AutoRepostRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rule)
	}
	return list, rows.Err()
}

// ListDueIDs selects candidate rules without locking; each is re-checked under lock.
func (r *RuleRepo) ListDueIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM auto_repost_rules
		WHERE is_active AND next_due_at <= $1
		ORDER BY next_due_at LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// GetForUpdateSkipLocked locks the rule, or returns models.ErrNotFound if another
// transaction holds it.
func (r *RuleRepo) GetForUpdateSkipLocked(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.AutoRepostRule, error) {
	return scanRule(tx.QueryRow(ctx, `SELECT `+ruleColumns+` FROM auto_repost_rules WHERE id = $1 FOR UPDATE SKIP LOCKED`, id))
}

// AdvanceTx moves next_due_at forward and counts the cycle.
func (r *RuleRepo) AdvanceTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, next time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE auto_repost_rules SET next_due_at = $2, total_cycles = total_cycles + 1
		WHERE id = $1
	`, id, next)
	return err
}

// DisableTx deactivates the rule, leaving next_due_at as is.
func (r *RuleRepo) DisableTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `UPDATE auto_repost_rules SET is_active = FALSE WHERE id = $1`, id)
	return err
}

func (r *RuleRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE auto_repost_rules SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
