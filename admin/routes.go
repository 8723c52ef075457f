package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/maxpert/catalogbridge/telemetry"
	"github.com/rs/cors"
)

// NewRouter builds the ops router. /metrics (when telemetry is enabled) and
// /healthz are open; /status is guarded by token when one is configured.
func NewRouter(handlers *Handlers, token string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Authorization"},
	}).Handler)

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}
	r.Get("/healthz", handlers.handleHealth)
	r.With(TokenMiddleware(token)).Get("/status", handlers.handleStatus)

	return r
}
