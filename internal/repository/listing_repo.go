package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/piataro/credits/internal/models"
)

// ListingRepo touches only the listing columns this service owns: it reads the
// owner and writes is_featured.
type ListingRepo struct {
	pool *pgxpool.Pool
}

func NewListingRepo(pool *pgxpool.Pool) *ListingRepo {
	return &ListingRepo{pool: pool}
}

func (r *ListingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var l models.Listing
	err := r.pool.QueryRow(ctx, `SELECT id, owner_account_id, is_featured FROM listings WHERE id = $1`, id).
		Scan(&l.ID, &l.OwnerAccountID, &l.IsFeatured)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// GetForUpdate locks the listing row. Call within a transaction.
func (r *ListingRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Listing, error) {
	var l models.Listing
	err := tx.QueryRow(ctx, `SELECT id, owner_account_id, is_featured FROM listings WHERE id = $1 FOR UPDATE`, id).
		Scan(&l.ID, &l.OwnerAccountID, &l.IsFeatured)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (r *ListingRepo) SetFeatured(ctx context.Context, tx pgx.Tx, id uuid.UUID, featured bool) error {
	tag, err := tx.Exec(ctx, `UPDATE listings SET is_featured = $2 WHERE id = $1`, id, featured)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *ListingRepo) CountFeatured(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM listings WHERE is_featured`).Scan(&n)
	return n, err
}
