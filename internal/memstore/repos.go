package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/piataro/credits/internal/models"
)

// Accounts returns the account repository view.
func (s *Store) Accounts() *AccountRepo { return &AccountRepo{s: s} }

// TransactionLog returns the transaction log view.
func (s *Store) TransactionLog() *TransactionRepo { return &TransactionRepo{s: s} }

// Boosts returns the boost repository view.
func (s *Store) Boosts() *BoostRepo { return &BoostRepo{s: s} }

// Rules returns the auto-repost rule repository view.
func (s *Store) Rules() *RuleRepo { return &RuleRepo{s: s} }

// Listings returns the listing store view.
func (s *Store) Listings() *ListingRepo { return &ListingRepo{s: s} }

// ─── Accounts ───────────────────────────────────────────────────────────────

type AccountRepo struct{ s *Store }

func (r *AccountRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &a, nil
}

func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return r.GetByID(ctx, id)
}

func (r *AccountRepo) EnsureForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.accounts[id]
	if !ok {
		now := time.Now().UTC()
		a = models.Account{ID: id, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
		r.s.data.accounts[id] = a
	}
	return &a, nil
}

func (r *AccountRepo) ListIDs(_ context.Context) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	accs := make([]models.Account, 0, len(r.s.data.accounts))
	for _, a := range r.s.data.accounts {
		accs = append(accs, a)
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].CreatedAt.Before(accs[j].CreatedAt) })
	ids := make([]uuid.UUID, len(accs))
	for i, a := range accs {
		ids[i] = a.ID
	}
	return ids, nil
}

func (r *AccountRepo) UpdateBalance(_ context.Context, _ pgx.Tx, id uuid.UUID, balance decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.Balance = balance
	a.UpdatedAt = time.Now().UTC()
	r.s.data.accounts[id] = a
	return nil
}

// ─── Transactions ───────────────────────────────────────────────────────────

type TransactionRepo struct{ s *Store }

func (r *TransactionRepo) CreateTx(_ context.Context, _ pgx.Tx, t *models.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.transactions = append(r.s.data.transactions, *t)
	return nil
}

func (r *TransactionRepo) SumsByAccountTx(_ context.Context, _ pgx.Tx, accountID uuid.UUID) (grants, spends decimal.Decimal, err error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.data.transactions {
		if t.AccountID != accountID {
			continue
		}
		if delta := t.Signed(); delta.IsNegative() {
			spends = spends.Sub(delta)
		} else {
			grants = grants.Add(delta)
		}
	}
	return grants, spends, nil
}

func (r *TransactionRepo) ListByAccountID(_ context.Context, accountID uuid.UUID, limit int) ([]*models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []*models.Transaction
	for i := len(r.s.data.transactions) - 1; i >= 0; i-- {
		t := r.s.data.transactions[i]
		if t.AccountID != accountID {
			continue
		}
		list = append(list, &t)
		if limit > 0 && len(list) == limit {
			break
		}
	}
	return list, nil
}

// ─── Boosts ─────────────────────────────────────────────────────────────────

type BoostRepo struct{ s *Store }

func (r *BoostRepo) CreateTx(_ context.Context, _ pgx.Tx, b *models.Boost) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.faultLocked(OpCreateBoost); err != nil {
		return err
	}
	r.s.data.boosts[b.ID] = *b
	return nil
}

func (r *BoostRepo) ListDue(_ context.Context, now time.Time) ([]*models.Boost, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []*models.Boost
	for _, b := range r.s.dueBoostsLocked(now) {
		b := b
		list = append(list, &b)
	}
	return list, nil
}

func (r *BoostRepo) ListDueListingIDs(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, b := range r.s.dueBoostsLocked(now) {
		if !seen[b.ListingID] {
			seen[b.ListingID] = true
			ids = append(ids, b.ListingID)
		}
	}
	return ids, nil
}

func (r *BoostRepo) DeactivateDueTx(_ context.Context, _ pgx.Tx, listingID uuid.UUID, now time.Time) ([]*models.Boost, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.faultLocked(OpDeactivate); err != nil {
		return nil, err
	}
	var out []*models.Boost
	for _, b := range r.s.boostsForListingLocked(listingID) {
		if !b.IsActive || !b.ExpiredAt(now) {
			continue
		}
		b.IsActive = false
		r.s.data.boosts[b.ID] = b
		b := b
		out = append(out, &b)
	}
	return out, nil
}

func (r *BoostRepo) CountActiveByListingTx(_ context.Context, _ pgx.Tx, listingID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, b := range r.s.data.boosts {
		if b.ListingID == listingID && b.IsActive {
			n++
		}
	}
	return n, nil
}

func (r *BoostRepo) CountActive(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, b := range r.s.data.boosts {
		if b.IsActive {
			n++
		}
	}
	return n, nil
}

func (r *BoostRepo) ListByListing(_ context.Context, listingID uuid.UUID) ([]*models.Boost, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []*models.Boost
	for _, b := range r.s.boostsForListingLocked(listingID) {
		b := b
		list = append(list, &b)
	}
	return list, nil
}

// ─── Listings ───────────────────────────────────────────────────────────────

type ListingRepo struct{ s *Store }

func (r *ListingRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.data.listings[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &l, nil
}

func (r *ListingRepo) GetForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Listing, error) {
	return r.GetByID(ctx, id)
}

func (r *ListingRepo) SetFeatured(_ context.Context, _ pgx.Tx, id uuid.UUID, featured bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.faultLocked(OpSetFeatured); err != nil {
		return err
	}
	l, ok := r.s.data.listings[id]
	if !ok {
		return models.ErrNotFound
	}
	l.IsFeatured = featured
	r.s.data.listings[id] = l
	return nil
}

func (r *ListingRepo) CountFeatured(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, l := range r.s.data.listings {
		if l.IsFeatured {
			n++
		}
	}
	return n, nil
}

// ─── Auto-repost rules ──────────────────────────────────────────────────────

type RuleRepo struct{ s *Store }

func (r *RuleRepo) Create(_ context.Context, rule *models.AutoRepostRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.rules[rule.ID] = *rule
	return nil
}

func (r *RuleRepo) GetByID(_ context.Context, id uuid.UUID) (*models.AutoRepostRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rule, ok := r.s.data.rules[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rule, nil
}

func (r *RuleRepo) ListByAccountID(_ context.Context, accountID uuid.UUID) ([]*models.AutoRepostRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []*models.AutoRepostRule
	for _, rule := range r.s.data.rules {
		if rule.AccountID == accountID {
			rule := rule
			list = append(list, &rule)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (r *RuleRepo) ListDueIDs(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []models.AutoRepostRule
	for _, rule := range r.s.data.rules {
		if rule.DueAt(now) {
			due = append(due, rule)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextDueAt.Before(due[j].NextDueAt) })
	var ids []uuid.UUID
	for _, rule := range due {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, rule.ID)
	}
	return ids, nil
}

// GetForUpdateSkipLocked reports a rule held by LockRule as not found, which is
// what SKIP LOCKED returns for a row another transaction holds.
func (r *RuleRepo) GetForUpdateSkipLocked(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.AutoRepostRule, error) {
	r.s.mu.Lock()
	held := r.s.locked[id]
	r.s.mu.Unlock()
	if held {
		return nil, models.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *RuleRepo) AdvanceTx(_ context.Context, _ pgx.Tx, id uuid.UUID, next time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.faultLocked(OpAdvanceRule); err != nil {
		return err
	}
	rule, ok := r.s.data.rules[id]
	if !ok {
		return models.ErrNotFound
	}
	rule.NextDueAt = next
	rule.TotalCycles++
	r.s.data.rules[id] = rule
	return nil
}

func (r *RuleRepo) DisableTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	return r.SetActive(context.Background(), id, false)
}

func (r *RuleRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rule, ok := r.s.data.rules[id]
	if !ok {
		return models.ErrNotFound
	}
	rule.IsActive = active
	r.s.data.rules[id] = rule
	return nil
}
