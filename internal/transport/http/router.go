package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lattice/internal/platform/middleware"
)

// NewRouter wires all endpoints. The operator surface sits behind auth; the
// health and metrics endpoints stay open for probes and scrapers.
func NewRouter(h *Handler, auth *middleware.OperatorAuth, limiter *middleware.RateLimiter, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/admin/reconcile", func(r chi.Router) {
		r.Use(limiter.Limit)
		r.Use(auth.Require)
		r.Use(middleware.Timeout(5 * time.Minute))
		r.Post("/mirror/rebuild", h.handleMirrorRebuild)
		r.Get("/mirror/diagnostics", h.handleMirrorDiagnostics)
		r.Post("/link", h.handleLink)
		r.Post("/duplicates", h.handleDuplicates)
		r.Post("/snapshots", h.handleSnapshots)
		r.Post("/edges", h.handleEdges)
	})

	return r
}
