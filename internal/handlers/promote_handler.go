package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/piataro/credits/internal/boost"
	"github.com/piataro/credits/internal/ledger"
	"github.com/piataro/credits/internal/middleware"
	"github.com/piataro/credits/internal/models"
	"github.com/piataro/credits/internal/scheduler"
	"github.com/piataro/credits/internal/txn"
	"github.com/piataro/credits/internal/validate"
)

// Promoter is the boost lifecycle manager as the web tier uses it.
type Promoter interface {
	Promote(ctx context.Context, req boost.PromoteRequest) (*models.Boost, error)
	Listing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error)
	ListingBoosts(ctx context.Context, listingID uuid.UUID) ([]*models.Boost, error)
}

// RuleService manages auto-repost subscriptions.
type RuleService interface {
	CreateRule(ctx context.Context, in scheduler.CreateRuleInput) (*models.AutoRepostRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (*models.AutoRepostRule, error)
	ListRules(ctx context.Context, accountID uuid.UUID) ([]*models.AutoRepostRule, error)
	SetRuleActive(ctx context.Context, id uuid.UUID, active bool) (*models.AutoRepostRule, error)
}

// BalanceReader is the read side of the ledger.
type BalanceReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Transaction, error)
}

// PromoteHandler serves the owner-facing promotion endpoints.
type PromoteHandler struct {
	Boosts  Promoter
	Rules   RuleService
	Ledger  BalanceReader
	Schemas *validate.Validator
	Logger  *slog.Logger
}

// --- POST /api/v1/listings/{id}/promote ---

type promoteRequest struct {
	DurationDays int `json:"duration_days"`
}

type insufficientResponse struct {
	Error    string          `json:"error"`
	Balance  decimal.Decimal `json:"balance"`
	Required decimal.Decimal `json:"required"`
}

// Promote charges the owner PriceForDays(duration_days) and features the listing.
func (h *PromoteHandler) Promote(w http.ResponseWriter, r *http.Request) {
	listing, acct, ok := h.ownedListing(w, r)
	if !ok {
		return
	}

	var req promoteRequest
	if !decodeBody(w, r, h.Schemas, validate.Promote, &req) {
		return
	}
	if req.DurationDays < 1 || req.DurationDays > 30 {
		http.Error(w, `{"error":"duration_days must be between 1 and 30"}`, http.StatusBadRequest)
		return
	}

	cost := boost.PriceForDays(req.DurationDays)
	b, err := h.Boosts.Promote(r.Context(), boost.PromoteRequest{
		ListingID:    listing.ID,
		AccountID:    acct,
		DurationDays: req.DurationDays,
		CreditsCost:  cost,
		Description:  "promote: " + listing.ID.String(),
		Source:       "promote",
	})
	var ice *boost.InsufficientCreditsError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, b)
	case errors.As(err, &ice):
		writeJSON(w, http.StatusPaymentRequired, insufficientResponse{
			Error:    "insufficient credits",
			Balance:  ice.Balance,
			Required: ice.Required,
		})
	case errors.Is(err, ledger.ErrAccountNotFound):
		writeJSON(w, http.StatusPaymentRequired, insufficientResponse{
			Error:    "insufficient credits",
			Balance:  decimal.Zero,
			Required: cost,
		})
	case txn.IsTransient(err) || errors.Is(err, context.DeadlineExceeded):
		h.Logger.Warn("promote unavailable", "listing_id", listing.ID, "error", err)
		http.Error(w, `{"error":"temporarily unavailable, try again"}`, http.StatusServiceUnavailable)
	default:
		h.Logger.Error("promote", "listing_id", listing.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

// --- GET /api/v1/listings/{id}/boosts ---

func (h *PromoteHandler) ListBoosts(w http.ResponseWriter, r *http.Request) {
	listing, _, ok := h.ownedListing(w, r)
	if !ok {
		return
	}
	boosts, err := h.Boosts.ListingBoosts(r.Context(), listing.ID)
	if err != nil {
		h.Logger.Error("list boosts", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing": listing, "boosts": nonNil(boosts)})
}

// --- POST /api/v1/listings/{id}/auto-repost ---

type autoRepostRequest struct {
	IntervalMinutes int              `json:"interval_minutes"`
	CreditsPerCycle *decimal.Decimal `json:"credits_per_cycle,omitempty"`
}

// CreateAutoRepost subscribes the listing to periodic promotion. The price per
// cycle defaults to the promote-now price for one cycle's duration.
func (h *PromoteHandler) CreateAutoRepost(w http.ResponseWriter, r *http.Request) {
	listing, acct, ok := h.ownedListing(w, r)
	if !ok {
		return
	}
	var req autoRepostRequest
	if !decodeBody(w, r, h.Schemas, validate.AutoRepost, &req) {
		return
	}
	if req.IntervalMinutes <= 0 {
		http.Error(w, `{"error":"interval_minutes must be > 0"}`, http.StatusBadRequest)
		return
	}
	credits := boost.PriceForDays(scheduler.CycleDays(req.IntervalMinutes))
	if req.CreditsPerCycle != nil {
		credits = *req.CreditsPerCycle
	}

	rule, err := h.Rules.CreateRule(r.Context(), scheduler.CreateRuleInput{
		ListingID:       listing.ID,
		AccountID:       acct,
		CreditsPerCycle: credits,
		IntervalMinutes: req.IntervalMinutes,
	})
	if errors.Is(err, scheduler.ErrInvalidCredits) || errors.Is(err, scheduler.ErrInvalidInterval) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		h.Logger.Error("create auto-repost", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// --- GET /api/v1/auto-repost ---

func (h *PromoteHandler) ListAutoReposts(w http.ResponseWriter, r *http.Request) {
	acct := middleware.AccountIDFromCtx(r.Context())
	rules, err := h.Rules.ListRules(r.Context(), acct)
	if err != nil {
		h.Logger.Error("list auto-reposts", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rules))
}

// --- PATCH /api/v1/auto-repost/{id} ---

type setActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

// SetAutoRepostActive pauses or re-enables one of the caller's rules.
func (h *PromoteHandler) SetAutoRepostActive(w http.ResponseWriter, r *http.Request) {
	acct := middleware.AccountIDFromCtx(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error":"invalid rule id"}`, http.StatusBadRequest)
		return
	}
	var req setActiveRequest
	if !decodeBody(w, r, h.Schemas, validate.SetActive, &req) {
		return
	}
	if req.IsActive == nil {
		http.Error(w, `{"error":"is_active is required"}`, http.StatusBadRequest)
		return
	}

	rule, err := h.Rules.GetRule(r.Context(), id)
	if errors.Is(err, scheduler.ErrRuleNotFound) {
		http.Error(w, `{"error":"rule not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.Logger.Error("get auto-repost", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if rule.AccountID != acct {
		http.Error(w, `{"error":"rule not found"}`, http.StatusNotFound)
		return
	}
	rule, err = h.Rules.SetRuleActive(r.Context(), id, *req.IsActive)
	if err != nil {
		h.Logger.Error("set auto-repost active", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// --- GET /api/v1/credits ---

type creditsResponse struct {
	AccountID    uuid.UUID             `json:"account_id"`
	Balance      decimal.Decimal       `json:"balance"`
	Transactions []*models.Transaction `json:"transactions"`
}

// Credits returns the balance and the ten most recent transactions.
func (h *PromoteHandler) Credits(w http.ResponseWriter, r *http.Request) {
	acct := middleware.AccountIDFromCtx(r.Context())
	balance, err := h.Ledger.Balance(r.Context(), acct)
	if err != nil && !errors.Is(err, ledger.ErrAccountNotFound) {
		h.Logger.Error("balance", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	history, err := h.Ledger.History(r.Context(), acct, 10)
	if err != nil {
		h.Logger.Error("history", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, creditsResponse{AccountID: acct, Balance: balance, Transactions: nonNil(history)})
}

// ownedListing resolves {id} and checks the caller owns it. It writes the
// error response itself when ok is false.
func (h *PromoteHandler) ownedListing(w http.ResponseWriter, r *http.Request) (*models.Listing, uuid.UUID, bool) {
	acct := middleware.AccountIDFromCtx(r.Context())
	if acct == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return nil, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error":"invalid listing id"}`, http.StatusBadRequest)
		return nil, uuid.Nil, false
	}
	listing, err := h.Boosts.Listing(r.Context(), id)
	if errors.Is(err, boost.ErrListingNotFound) {
		http.Error(w, `{"error":"listing not found"}`, http.StatusNotFound)
		return nil, uuid.Nil, false
	}
	if err != nil {
		h.Logger.Error("get listing", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return nil, uuid.Nil, false
	}
	if listing.OwnerAccountID != acct {
		http.Error(w, `{"error":"not the listing owner"}`, http.StatusForbidden)
		return nil, uuid.Nil, false
	}
	return listing, acct, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
