// Package memstore is an in-memory implementation of the repository interfaces.
//
// Transactions are serialized by a store-wide lock held from Begin until
// Commit or Rollback, which gives the same per-account exclusion as row locks.
// Rollback restores a snapshot taken at Begin. Reads outside a transaction see
// uncommitted writes of a transaction in flight.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/piataro/credits/internal/models"
)

// Op names a store operation that can be made to fail.
type Op string

const (
	OpBegin       Op = "begin"
	OpSetFeatured Op = "set_featured"
	OpCreateBoost Op = "create_boost"
	OpAdvanceRule Op = "advance_rule"
	OpDeactivate  Op = "deactivate"
)

type fault struct {
	err   error
	times int
}

type state struct {
	accounts     map[uuid.UUID]models.Account
	transactions []models.Transaction
	boosts       map[uuid.UUID]models.Boost
	rules        map[uuid.UUID]models.AutoRepostRule
	listings     map[uuid.UUID]models.Listing
}

// Store holds every table in memory.
type Store struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	data   state
	faults map[Op]*fault
	begins int
	locked map[uuid.UUID]bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		data: state{
			accounts: make(map[uuid.UUID]models.Account),
			boosts:   make(map[uuid.UUID]models.Boost),
			rules:    make(map[uuid.UUID]models.AutoRepostRule),
			listings: make(map[uuid.UUID]models.Listing),
		},
		faults: make(map[Op]*fault),
		locked: make(map[uuid.UUID]bool),
	}
}

// InjectFault makes the next times calls of op return err. times < 0 fails forever.
func (s *Store) InjectFault(op Op, err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{err: err, times: times}
}

// LockRule makes GetForUpdateSkipLocked pass over rule id, as if another
// worker held its row, until the returned func is called.
func (s *Store) LockRule(id uuid.UUID) (unlock func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked[id] = true
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.locked, id)
	}
}

// ClearFaults removes all injected faults.
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[Op]*fault)
}

func (s *Store) faultLocked(op Op) error {
	f, ok := s.faults[op]
	if !ok || f.times == 0 {
		return nil
	}
	if f.times > 0 {
		f.times--
	}
	return f.err
}

func (s *Store) fault(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faultLocked(op)
}

// Begins reports how many transactions were started.
func (s *Store) Begins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins
}

// Begin starts a transaction, blocking while another one is open.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := s.fault(OpBegin); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.Lock()
	s.begins++
	snap := s.data.clone()
	s.mu.Unlock()
	return &Tx{s: s, snap: snap}, nil
}

func (st state) clone() state {
	out := state{
		accounts:     make(map[uuid.UUID]models.Account, len(st.accounts)),
		transactions: append([]models.Transaction(nil), st.transactions...),
		boosts:       make(map[uuid.UUID]models.Boost, len(st.boosts)),
		rules:        make(map[uuid.UUID]models.AutoRepostRule, len(st.rules)),
		listings:     make(map[uuid.UUID]models.Listing, len(st.listings)),
	}
	for k, v := range st.accounts {
		out.accounts[k] = v
	}
	for k, v := range st.boosts {
		out.boosts[k] = v
	}
	for k, v := range st.rules {
		out.rules[k] = v
	}
	for k, v := range st.listings {
		out.listings[k] = v
	}
	return out
}

// Tx satisfies pgx.Tx; only Commit and Rollback do anything.
type Tx struct {
	s    *Store
	snap state
	done bool
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) { return nil, pgx.ErrTxClosed }

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.s.txMu.Unlock()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.s.mu.Lock()
	t.s.data = t.snap
	t.s.mu.Unlock()
	t.s.txMu.Unlock()
	return nil
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *Tx) Conn() *pgx.Conn                                         { return nil }

// ─── Seeding and inspection helpers ──────────────────────────────────────────

// AddListing inserts an unfeatured listing owned by owner.
func (s *Store) AddListing(owner uuid.UUID) models.Listing {
	l := models.Listing{ID: uuid.New(), OwnerAccountID: owner}
	s.PutListing(l)
	return l
}

// PutListing inserts or replaces a listing row.
func (s *Store) PutListing(l models.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.listings[l.ID] = l
}

// PutRule inserts or replaces an auto-repost rule.
func (s *Store) PutRule(r models.AutoRepostRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.rules[r.ID] = r
}

// PutBoost inserts or replaces a boost without touching any listing.
func (s *Store) PutBoost(b models.Boost) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.boosts[b.ID] = b
}

// ForceBalance overwrites a balance without a transaction record.
func (s *Store) ForceBalance(id uuid.UUID, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.data.accounts[id]
	acc.ID = id
	acc.Balance = balance
	s.data.accounts[id] = acc
}

// Account returns a copy of the account row.
func (s *Store) Account(id uuid.UUID) (models.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.accounts[id]
	return a, ok
}

// Transactions returns the account's transactions in insertion order.
func (s *Store) Transactions(accountID uuid.UUID) []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.data.transactions {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out
}

// Listing returns a copy of the listing row.
func (s *Store) Listing(id uuid.UUID) (models.Listing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.data.listings[id]
	return l, ok
}

// Boost returns a copy of the boost row.
func (s *Store) Boost(id uuid.UUID) (models.Boost, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data.boosts[id]
	return b, ok
}

// Rule returns a copy of the rule row.
func (s *Store) Rule(id uuid.UUID) (models.AutoRepostRule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.rules[id]
	return r, ok
}

// BoostsForListing returns the listing's boosts ordered by start time.
func (s *Store) BoostsForListing(listingID uuid.UUID) []models.Boost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boostsForListingLocked(listingID)
}

func (s *Store) boostsForListingLocked(listingID uuid.UUID) []models.Boost {
	var out []models.Boost
	for _, b := range s.data.boosts {
		if b.ListingID == listingID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out
}

func (s *Store) dueBoostsLocked(now time.Time) []models.Boost {
	var out []models.Boost
	for _, b := range s.data.boosts {
		if b.IsActive && b.ExpiredAt(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}
