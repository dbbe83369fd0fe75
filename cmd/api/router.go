package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pixora/pixora-api/internal/middleware"
	"github.com/pixora/pixora-api/internal/pkg/metrics"
)

type routes struct {
	Health         http.HandlerFunc
	Generate       http.HandlerFunc
	GenerationGet  http.HandlerFunc
	GenerationStop http.HandlerFunc
	WorkflowCreate http.HandlerFunc
	WorkflowGet    http.HandlerFunc
	WorkflowStream http.HandlerFunc
	Balance        http.HandlerFunc
	Transactions   http.HandlerFunc
	Artifacts      http.HandlerFunc
	Payments       http.HandlerFunc
	Reconcile      http.HandlerFunc
}

type guards struct {
	Auth  func(http.Handler) http.Handler
	Admin func(http.Handler) http.Handler
	Cron  func(http.Handler) http.Handler
}

func newRouter(h routes, g guards, allowedOrigins []string) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(allowedOrigins))

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Browsers cannot set headers on a websocket handshake.
		r.Get("/workflows/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
			if token := r.URL.Query().Get("token"); token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
			g.Auth(h.WorkflowStream).ServeHTTP(w, r)
		})

		r.Group(func(r chi.Router) {
			r.Use(g.Auth)

			r.Post("/generations", h.Generate)
			r.Get("/generations/{jobId}", h.GenerationGet)

			r.Post("/workflows", h.WorkflowCreate)
			r.Get("/workflows/{id}", h.WorkflowGet)

			r.Get("/credits/balance", h.Balance)
			r.Get("/credits/transactions", h.Transactions)

			r.Get("/artifacts", h.Artifacts)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(g.Auth)
		r.Use(g.Admin)

		r.Post("/generations/{jobId}/cancel", h.GenerationStop)
		r.Get("/payments", h.Payments)
	})

	r.With(g.Cron).Post("/internal/reconcile", h.Reconcile)

	return r
}
