package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditScale is the number of fractional digits every credit column stores
// (NUMERIC(12,2)). Amounts with more digits would be rounded per column.
const CreditScale int32 = 2

// FitsCreditScale reports whether d can be stored without rounding.
func FitsCreditScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(CreditScale))
}

// Account holds one credit balance per user. Balance is only ever changed by the ledger.
type Account struct {
	ID        uuid.UUID       `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
