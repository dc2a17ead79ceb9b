package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/piataro/credits/internal/models"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// CreateTx appends a ledger entry inside the given transaction.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, account_id, kind, amount, description, listing_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.AccountID, string(t.Kind), t.Amount, t.Description, t.ListingID, t.CreatedAt)
	return err
}

// SumsByAccountTx totals grants and spends for reconciliation.
func (r *TransactionRepo) SumsByAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (grants, spends decimal.Decimal, err error) {
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE kind = 'grant'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE kind = 'spend'), 0)
		FROM transactions WHERE account_id = $1
	`, accountID).Scan(&grants, &spends)
	return grants, spends, err
}

func (r *TransactionRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, kind, amount, description, listing_id, created_at
		FROM transactions WHERE account_id = $1 ORDER BY created_at DESC, id LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		var kind string
		if err := rows.Scan(&t.ID, &t.AccountID, &kind, &t.Amount, &t.Description, &t.ListingID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Kind = models.TransactionKind(kind)
		list = append(list, &t)
	}
	return list, rows.Err()
}
