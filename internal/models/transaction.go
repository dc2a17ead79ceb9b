package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind enums for the transactions table.
type TransactionKind string

const (
	TransactionSpend TransactionKind = "spend"
	TransactionGrant TransactionKind = "grant"
)

// Transaction is an immutable ledger entry. Amount is always positive; Kind carries the sign.
type Transaction struct {
	ID          uuid.UUID       `json:"transaction_id"`
	AccountID   uuid.UUID       `json:"account_id"`
	Kind        TransactionKind `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ListingID   *uuid.UUID      `json:"listing_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Signed returns the balance delta this entry represents.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Kind == TransactionSpend {
		return t.Amount.Neg()
	}
	return t.Amount
}
