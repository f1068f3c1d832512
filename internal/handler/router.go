package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/dandantas/sentinel/pkg/middleware"
)

// RouterConfig holds the routes that are served by other packages
type RouterConfig struct {
	AllowedOrigins []string
	Events         http.Handler // websocket stream, optional
	Metrics        http.Handler // text exposition, optional
}

// NewRouter builds the HTTP handler with middleware applied
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TokenHeader, middleware.CorrelationHeader},
		ExposedHeaders:   []string{middleware.CorrelationHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/heartbeats/{monitorID}", h.Heartbeat)
		r.Post("/webhooks/{monitorID}", h.Webhook)

		r.Get("/monitors/{id}/state", h.GetState)
		r.Delete("/monitors/{id}", h.DeleteMonitor)

		r.Get("/incidents", h.ListIncidents)
		r.Get("/incidents/{id}", h.GetIncident)

		if cfg.Events != nil {
			r.Method(http.MethodGet, "/events", cfg.Events)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}
