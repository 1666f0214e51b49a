package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/binlogstream/cfg"
	"github.com/maxpert/binlogstream/telemetry"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers the admin API under /admin and, when Prometheus is
// enabled, the metrics endpoint.
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := chi.NewRouter()

	// Probes stay unauthenticated
	r.Get("/health", handlers.handleHealth)

	r.Route("/streams", func(r chi.Router) {
		r.Use(AuthMiddleware)
		r.Get("/", handlers.handleListStreams)
		r.Get("/{name}", handlers.withStream(handlers.handleGetStream))
		r.Post("/{name}/stop", handlers.withStream(handlers.handleStopStream))
	})

	r.With(AuthMiddleware).Get("/publisher", handlers.handlePublisher)

	// Mount chi router under /admin
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		mux.Handle(cfg.Config.Prometheus.Path, metrics)
	}

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}

func (h *AdminHandlers) withStream(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == "" {
			writeErrorResponse(w, http.StatusBadRequest, "stream name is required")
			return
		}
		fn(w, r, name)
	}
}
