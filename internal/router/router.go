package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/piataro/credits/internal/handlers"
	"github.com/piataro/credits/internal/middleware"
)

// Deps are the handlers and guards the router mounts.
type Deps struct {
	Promote     *handlers.PromoteHandler
	Admin       *handlers.AdminHandler
	Tokens      middleware.TokenValidator
	AdminKeys   middleware.AdminKeyChecker
	CORSOrigins []string
}

// New returns an http.Handler that serves the API under /api/v1.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(d.Tokens))
			r.Get("/credits", d.Promote.Credits)
			r.Post("/listings/{id}/promote", d.Promote.Promote)
			r.Get("/listings/{id}/boosts", d.Promote.ListBoosts)
			r.Post("/listings/{id}/auto-repost", d.Promote.CreateAutoRepost)
			r.Get("/auto-repost", d.Promote.ListAutoReposts)
			r.Patch("/auto-repost/{id}", d.Promote.SetAutoRepostActive)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminKey(d.AdminKeys))
			r.Post("/grants", d.Admin.Grant)
			r.Post("/scheduler/tick", d.Admin.RunTick)
			r.Post("/sweeper/run", d.Admin.RunSweep)
			r.Get("/reconcile/{account}", d.Admin.Reconcile)
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key"},
		AllowCredentials: true,
	}).Handler(r)
}
