package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/piataro/credits/internal/clock"
	"github.com/piataro/credits/internal/events"
	"github.com/piataro/credits/internal/metrics"
	"github.com/piataro/credits/internal/models"
	"github.com/piataro/credits/internal/txn"
)

var (
	// ErrInvalidAmount is returned for zero or negative amounts and for amounts
	// finer than models.CreditScale. It is a caller bug, not a domain result.
	ErrInvalidAmount = errors.New("ledger: amount must be positive with at most two decimals")
	// ErrAccountNotFound is returned when spending from an account that does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrReconciliationMismatch is wrapped by ReconciliationError.
	ErrReconciliationMismatch = errors.New("ledger: balance does not match transaction history")
)

// ReconciliationError reports an account whose stored balance disagrees with
// sum(grants) - sum(spends).
type ReconciliationError struct {
	AccountID uuid.UUID
	Balance   decimal.Decimal
	Expected  decimal.Decimal
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("ledger: account %s balance %s, transactions sum to %s", e.AccountID, e.Balance, e.Expected)
}

func (e *ReconciliationError) Unwrap() error { return ErrReconciliationMismatch }

// AccountRepo is the minimal account repository the ledger needs.
type AccountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	EnsureForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance decimal.Decimal) error
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

// TransactionRepo is the minimal transaction log interface.
type TransactionRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	SumsByAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (grants, spends decimal.Decimal, err error)
	ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Transaction, error)
}

// Outcome is the result of a balance mutation. OK is false only for a Deduct
// that found the balance too low; in that case nothing was written.
type Outcome struct {
	OK          bool
	Balance     decimal.Decimal
	Transaction *models.Transaction
}

// Service is the only code path that mutates account balances.
type Service struct {
	Tx           *txn.Runner
	Accounts     AccountRepo
	Transactions TransactionRepo
	Clock        clock.Clock
	Events       *events.Publisher
	Logger       *slog.Logger
}

// NewService returns a ledger Service. Clock defaults to the system clock.
func NewService(runner *txn.Runner, accounts AccountRepo, transactions TransactionRepo, publisher *events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Tx:           runner,
		Accounts:     accounts,
		Transactions: transactions,
		Clock:        clock.Real{},
		Events:       publisher,
		Logger:       logger,
	}
}

// DeductTx locks the account row, and if balance >= amount subtracts amount and
// appends a spend transaction. Call within a transaction.
func (s *Service) DeductTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, description string, listingID *uuid.UUID) (Outcome, error) {
	if err := s.checkAmount("deduct", accountID, amount); err != nil {
		return Outcome{}, err
	}
	acc, err := s.Accounts.GetByIDForUpdate(ctx, tx, accountID)
	if errors.Is(err, models.ErrNotFound) {
		return Outcome{}, ErrAccountNotFound
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("lock account: %w", err)
	}
	if acc.Balance.LessThan(amount) {
		metrics.LedgerOperations.WithLabelValues("deduct", "insufficient").Inc()
		return Outcome{OK: false, Balance: acc.Balance}, nil
	}
	newBalance := acc.Balance.Sub(amount)
	if err := s.Accounts.UpdateBalance(ctx, tx, accountID, newBalance); err != nil {
		return Outcome{}, fmt.Errorf("update balance: %w", err)
	}
	entry := &models.Transaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        models.TransactionSpend,
		Amount:      amount,
		Description: description,
		ListingID:   listingID,
		CreatedAt:   s.Clock.Now(),
	}
	if err := s.Transactions.CreateTx(ctx, tx, entry); err != nil {
		return Outcome{}, fmt.Errorf("append spend: %w", err)
	}
	metrics.LedgerOperations.WithLabelValues("deduct", "ok").Inc()
	return Outcome{OK: true, Balance: newBalance, Transaction: entry}, nil
}

// GrantTx locks (creating on first use) the account row, adds amount and
// appends a grant transaction. Call within a transaction.
func (s *Service) GrantTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount decimal.Decimal, description string) (Outcome, error) {
	if err := s.checkAmount("grant", accountID, amount); err != nil {
		return Outcome{}, err
	}
	acc, err := s.Accounts.EnsureForUpdate(ctx, tx, accountID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lock account: %w", err)
	}
	newBalance := acc.Balance.Add(amount)
	if err := s.Accounts.UpdateBalance(ctx, tx, accountID, newBalance); err != nil {
		return Outcome{}, fmt.Errorf("update balance: %w", err)
	}
	entry := &models.Transaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        models.TransactionGrant,
		Amount:      amount,
		Description: description,
		CreatedAt:   s.Clock.Now(),
	}
	if err := s.Transactions.CreateTx(ctx, tx, entry); err != nil {
		return Outcome{}, fmt.Errorf("append grant: %w", err)
	}
	metrics.LedgerOperations.WithLabelValues("grant", "ok").Inc()
	return Outcome{OK: true, Balance: newBalance, Transaction: entry}, nil
}

// Deduct runs DeductTx in its own transaction.
func (s *Service) Deduct(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string, listingID *uuid.UUID) (Outcome, error) {
	var out Outcome
	err := s.Tx.Do(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = s.DeductTx(ctx, tx, accountID, amount, description, listingID)
		return err
	})
	if err != nil {
		s.countError("deduct", err)
		return Outcome{}, err
	}
	if out.OK {
		s.PublishTransaction(out)
	}
	return out, nil
}

// Grant runs GrantTx in its own transaction.
func (s *Service) Grant(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (Outcome, error) {
	var out Outcome
	err := s.Tx.Do(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = s.GrantTx(ctx, tx, accountID, amount, description)
		return err
	})
	if err != nil {
		s.countError("grant", err)
		return Outcome{}, err
	}
	s.PublishTransaction(out)
	s.Logger.Info("credits granted", "account_id", accountID, "amount", amount.String(), "balance", out.Balance.String())
	return out, nil
}

// PublishTransaction emits the event for a committed outcome.
func (s *Service) PublishTransaction(out Outcome) {
	if out.Transaction == nil {
		return
	}
	subject := events.SubjectCreditsSpent
	if out.Transaction.Kind == models.TransactionGrant {
		subject = events.SubjectCreditsGranted
	}
	s.Events.Emit(subject, events.CreditsEvent{
		TransactionID: out.Transaction.ID,
		AccountID:     out.Transaction.AccountID,
		Kind:          string(out.Transaction.Kind),
		Amount:        out.Transaction.Amount,
		Balance:       out.Balance,
		ListingID:     out.Transaction.ListingID,
		At:            out.Transaction.CreatedAt,
	})
}

// Balance returns the current stored balance, read fresh from the store.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	acc, err := s.Accounts.GetByID(ctx, accountID)
	if errors.Is(err, models.ErrNotFound) {
		return decimal.Zero, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// History returns the most recent transactions for an account, newest first.
func (s *Service) History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.Transactions.ListByAccountID(ctx, accountID, limit)
}

// Reconcile checks balance == sum(grants) - sum(spends) under the account lock.
// A mismatch is never corrected here.
func (s *Service) Reconcile(ctx context.Context, accountID uuid.UUID) error {
	err := s.Tx.Do(ctx, func(ctx context.Context, tx pgx.Tx) error {
		acc, err := s.Accounts.GetByIDForUpdate(ctx, tx, accountID)
		if errors.Is(err, models.ErrNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		grants, spends, err := s.Transactions.SumsByAccountTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		expected := grants.Sub(spends)
		if !acc.Balance.Equal(expected) {
			return &ReconciliationError{AccountID: accountID, Balance: acc.Balance, Expected: expected}
		}
		return nil
	})
	var rerr *ReconciliationError
	if errors.As(err, &rerr) {
		metrics.ReconciliationFailures.Inc()
		s.Logger.Error("ledger invariant violated",
			"account_id", accountID, "balance", rerr.Balance.String(), "expected", rerr.Expected.String())
	}
	return err
}

// ReconcileAll runs Reconcile over every account, each in its own transaction.
// Mismatches are collected and the walk continues; any other error stops it.
func (s *Service) ReconcileAll(ctx context.Context) (checked int, mismatches []*ReconciliationError, err error) {
	ids, err := s.Accounts.ListIDs(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("list accounts: %w", err)
	}
	for _, id := range ids {
		err := s.Reconcile(ctx, id)
		var rerr *ReconciliationError
		switch {
		case err == nil:
		case errors.As(err, &rerr):
			mismatches = append(mismatches, rerr)
		case errors.Is(err, ErrAccountNotFound):
			continue
		default:
			return checked, mismatches, fmt.Errorf("reconcile %s: %w", id, err)
		}
		checked++
	}
	return checked, mismatches, nil
}

func (s *Service) checkAmount(op string, accountID uuid.UUID, amount decimal.Decimal) error {
	if amount.IsPositive() && models.FitsCreditScale(amount) {
		return nil
	}
	metrics.LedgerOperations.WithLabelValues(op, "invalid").Inc()
	s.Logger.Error("ledger rejected amount", "op", op, "account_id", accountID, "amount", amount.String())
	return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
}

func (s *Service) countError(op string, err error) {
	if errors.Is(err, ErrInvalidAmount) {
		return
	}
	metrics.LedgerOperations.WithLabelValues(op, "error").Inc()
}
