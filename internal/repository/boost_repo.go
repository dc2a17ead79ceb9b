package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/piataro/credits/internal/models"
)

type BoostRepo struct {
	pool *pgxpool.Pool
}

func NewBoostRepo(pool *pgxpool.Pool) *BoostRepo {
	return &BoostRepo{pool: pool}
}

const boostColumns = `id, listing_id, kind, credits_cost, duration_days, starts_at, expires_at, is_active`

func scanBoosts(rows pgx.Rows) ([]*models.Boost, error) {
	defer rows.Close()
	var list []*models.Boost
	for rows.Next() {
		var b models.Boost
		if err := rows.Scan(&b.ID, &b.ListingID, &b.Kind, &b.CreditsCost, &b.DurationDays, &b.StartsAt, &b.ExpiresAt, &b.IsActive); err != nil {
			return nil, err
		}
		list = append(list, &b)
	}
	return list, rows.Err()
}

func (r *BoostRepo) CreateTx(ctx context.Context, tx pgx.Tx, b *models.Boost) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO boosts (`+boostColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, b.ID, b.ListingID, b.Kind, b.CreditsCost, b.DurationDays, b.StartsAt, b.ExpiresAt, b.IsActive)
	return err
}

// ListDue returns active boosts whose expiration has passed, without locking.
func (r *BoostRepo) ListDue(ctx context.Context, now time.Time) ([]*models.Boost, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+boostColumns+` FROM boosts
		WHERE is_active AND expires_at <= $1 ORDER BY expires_at
	`, now)
	if err != nil {
		return nil, err
	}
	return scanBoosts(rows)
}

func (r *BoostRepo) ListDueListingIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT listing_id FROM boosts
		WHERE is_active AND expires_at <= $1
		GROUP BY listing_id ORDER BY min(expires_at)
	`, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// DeactivateDueTx clears is_active on the listing's expired boosts and returns them.
// Call after locking the listing row.
func (r *BoostRepo) DeactivateDueTx(ctx context.Context, tx pgx.Tx, listingID uuid.UUID, now time.Time) ([]*models.Boost, error) {
	rows, err := tx.Query(ctx, `
		UPDATE boosts SET is_active = FALSE
		WHERE listing_id = $1 AND is_active AND expires_at <= $2
		RETURNING `+boostColumns, listingID, now)
	if err != nil {
		return nil, err
	}
	return scanBoosts(rows)
}

func (r *BoostRepo) CountActiveByListingTx(ctx context.Context, tx pgx.Tx, listingID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `SELECT count(*) FROM boosts WHERE listing_id = $1 AND is_active`, listingID).Scan(&n)
	return n, err
}

func (r *BoostRepo) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM boosts WHERE is_active`).Scan(&n)
	return n, err
}

func (r *BoostRepo) ListByListing(ctx context.Context, listingID uuid.UUID) ([]*models.Boost, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+boostColumns+` FROM boosts WHERE listing_id = $1 ORDER BY starts_at`, listingID)
	if err != nil {
		return nil, err
	}
	return scanBoosts(rows)
}
