package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/web3-frozen/yield-indexer/internal/middleware"
	"github.com/web3-frozen/yield-indexer/internal/query"
)

// Source is the backend the API reads from.
type Source interface {
	Loader
	Pinger
}

// RouterConfig holds the HTTP-facing settings.
type RouterConfig struct {
	FrontendOrigin string
	CacheMaxAge    int
	CacheStale     int
}

// NewRouter wires the query API. The snapshots endpoint is served under both
// /snapshots and /api/snapshots.
func NewRouter(src Source, proj *query.Projector, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", Health())
	r.Get("/readyz", Ready(src))

	snapshots := Snapshots(src, proj, logger)
	cached := middleware.CacheControl(cfg.CacheMaxAge, cfg.CacheStale)
	r.With(cached).Get("/snapshots", snapshots)
	r.Route("/api", func(r chi.Router) {
		r.With(cached).Get("/snapshots", snapshots)
	})
	return r
}
