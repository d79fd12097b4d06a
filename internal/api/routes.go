package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func SetupRoutes(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-ID"},
	}))
	r.Use(LoggingMiddleware(h.Log, h.Metrics))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	r.Get("/ws", h.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/matches", h.handleListMatches)
		r.Get("/subscriptions", h.handleSubscriptions)
		r.Get("/match/{id}", h.handleGetMatch)
		r.Post("/match/{id}", h.handleUpsertMatch)
		r.Put("/match/{id}", h.handleUpsertMatch)
		r.Get("/match/{id}/events", h.HandleEvents)
	})

	if h.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(h.StaticDir)))
	}
	return r
}
