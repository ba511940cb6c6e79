package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"traffic-router/internal/observability"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Second))

	r.Post("/route", h.Route)

	r.Route("/api", func(r chi.Router) {
		r.Post("/targets", h.CreateTarget)
		r.Get("/targets", h.ListTargets)
		r.Get("/target/{id}", h.GetTarget)
		r.Put("/target/{id}", h.UpdateTarget)
	})

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
