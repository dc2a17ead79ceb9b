package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/piataro/credits/internal/clock"
	"github.com/piataro/credits/internal/ledger"
	"github.com/piataro/credits/internal/scheduler"
	"github.com/piataro/credits/internal/sweeper"
	"github.com/piataro/credits/internal/validate"
)

// Granter is the ledger surface used by operators.
type Granter interface {
	Grant(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (ledger.Outcome, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) error
}

// Ticker runs one scheduler tick.
type Ticker interface {
	RunTick(ctx context.Context, now time.Time) (scheduler.TickReport, error)
}

// SweepRunner runs or previews one expiration sweep.
type SweepRunner interface {
	RunSweep(ctx context.Context, now time.Time) (sweeper.Report, error)
	DryRun(ctx context.Context, now time.Time) (sweeper.Report, error)
}

// AdminHandler serves the maintenance entry points behind the operator key.
type AdminHandler struct {
	Ledger    Granter
	Scheduler Ticker
	Sweeper   SweepRunner
	Clock     clock.Clock
	Schemas   *validate.Validator
	Logger    *slog.Logger
}

// --- POST /api/v1/admin/grants ---

type grantRequest struct {
	AccountID   uuid.UUID       `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Grant credits an account, e.g. after the payment provider confirms a purchase.
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !decodeBody(w, r, h.Schemas, validate.Grant, &req) {
		return
	}
	if req.AccountID == uuid.Nil {
		http.Error(w, `{"error":"account_id is required"}`, http.StatusBadRequest)
		return
	}
	if req.Description == "" {
		req.Description = "credit purchase"
	}
	out, err := h.Ledger.Grant(r.Context(), req.AccountID, req.Amount, req.Description)
	if errors.Is(err, ledger.ErrInvalidAmount) {
		http.Error(w, `{"error":"amount must be > 0"}`, http.StatusBadRequest)
		return
	}
	if err != nil {
		h.Logger.Error("grant", "account_id", req.AccountID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"balance": out.Balance, "transaction": out.Transaction})
}

// --- POST /api/v1/admin/scheduler/tick ---

type ruleErrorView struct {
	RuleID uuid.UUID `json:"rule_id"`
	Error  string    `json:"error"`
}

type tickView struct {
	Due        int             `json:"due"`
	Promoted   int             `json:"promoted"`
	Disabled   int             `json:"disabled"`
	Skipped    int             `json:"skipped"`
	Failed     int             `json:"failed"`
	Errors     []ruleErrorView `json:"errors"`
	Cancelled  bool            `json:"cancelled"`
	DurationMs int64           `json:"duration_ms"`
}

func (h *AdminHandler) RunTick(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Scheduler.RunTick(r.Context(), h.Clock.Now())
	if err != nil {
		h.Logger.Error("manual tick", "error", err)
		http.Error(w, `{"error":"tick failed"}`, http.StatusInternalServerError)
		return
	}
	view := tickView{
		Due: rep.Due, Promoted: rep.Promoted, Disabled: rep.Disabled, Skipped: rep.Skipped,
		Failed: rep.Failed, Errors: []ruleErrorView{}, Cancelled: rep.Cancelled,
		DurationMs: rep.Duration.Milliseconds(),
	}
	for _, e := range rep.Errors {
		view.Errors = append(view.Errors, ruleErrorView{RuleID: e.RuleID, Error: e.Err.Error()})
	}
	writeJSON(w, http.StatusOK, view)
}

// --- POST /api/v1/admin/sweeper/run?dry_run=true ---

type sweepView struct {
	DryRun             bool        `json:"dry_run"`
	BoostsDeactivated  int         `json:"boosts_deactivated"`
	BoostsExpired      int         `json:"boosts_expired"`
	ListingsUnfeatured int         `json:"listings_unfeatured"`
	ListingIDs         []uuid.UUID `json:"listing_ids"`
	Failed             int         `json:"failed"`
	ActiveBoosts       int         `json:"active_boosts"`
	FeaturedListings   int         `json:"featured_listings"`
}

func (h *AdminHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	now := h.Clock.Now()

	var (
		rep sweeper.Report
		err error
	)
	if dryRun {
		rep, err = h.Sweeper.DryRun(r.Context(), now)
	} else {
		rep, err = h.Sweeper.RunSweep(r.Context(), now)
	}
	if err != nil {
		h.Logger.Error("manual sweep", "dry_run", dryRun, "error", err)
		http.Error(w, `{"error":"sweep failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sweepView{
		DryRun:             rep.DryRun,
		BoostsDeactivated:  rep.BoostsDeactivated,
		BoostsExpired:      len(rep.Expired),
		ListingsUnfeatured: rep.ListingsUnfeatured,
		ListingIDs:         nonNil(rep.ListingIDs),
		Failed:             rep.Failed,
		ActiveBoosts:       rep.ActiveBoosts,
		FeaturedListings:   rep.FeaturedListings,
	})
}

// --- GET /api/v1/admin/reconcile/{account} ---

// Reconcile checks one account's balance against its transaction history.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "account"))
	if err != nil {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return
	}
	err = h.Ledger.Reconcile(r.Context(), id)
	var rerr *ledger.ReconciliationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "consistent": true})
	case errors.As(err, &rerr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"account_id": id,
			"consistent": false,
			"balance":    rerr.Balance,
			"expected":   rerr.Expected,
		})
	case errors.Is(err, ledger.ErrAccountNotFound):
		http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
	default:
		h.Logger.Error("reconcile", "account_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}
