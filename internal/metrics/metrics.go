// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerOperations counts Deduct/Grant calls by outcome (ok, insufficient, invalid, error).
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_ledger_operations_total",
		Help: "Ledger balance mutations by operation and outcome.",
	}, []string{"op", "outcome"})

	Promotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_promotions_total",
		Help: "Promote attempts by outcome.",
	}, []string{"outcome"})

	RulesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_rules_processed_total",
		Help: "Auto-repost rules handled by the scheduler, by outcome.",
	}, []string{"outcome"})

	BoostsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_boosts_expired_total",
		Help: "Boosts deactivated by the expiration sweep.",
	})

	ListingsUnfeatured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_listings_unfeatured_total",
		Help: "Listings whose featured flag was cleared by the expiration sweep.",
	})

	ReconciliationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_reconciliation_failures_total",
		Help: "Accounts whose balance did not match their transaction history.",
	})

	MaintenanceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credits_maintenance_duration_seconds",
		Help:    "Duration of scheduler ticks and expiration sweeps.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})
)
