// Package main provides the API router setup.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/catalog-engine/cmd/catalog-engine-api/handlers"
	"github.com/spherical-ai/catalog-engine/cmd/catalog-engine-api/middleware"
	"github.com/spherical-ai/catalog-engine/internal/observability"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps holds what the router serves.
type Deps struct {
	Catalogs       handlers.CatalogReader
	Summaries      handlers.SummaryReader
	Runner         handlers.Reconciler
	Runs           handlers.RunReader
	DB             Pinger
	RequestTimeout time.Duration
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, deps Deps) http.Handler {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = time.Minute
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Trace)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.AccessLog(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(deps.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"catalog-engine"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.DB.PingContext(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	catalogHandler := handlers.NewCatalogHandler(logger, deps.Catalogs, deps.Summaries, deps.Runner)
	runHandler := handlers.NewRunHandler(logger, deps.Runs)

	r.Route("/v1/vehicles/{vehicleID}", func(r chi.Router) {
		r.Get("/catalog", catalogHandler.GetCatalog)
		r.Get("/summary", catalogHandler.GetSummary)
		r.Get("/runs", runHandler.ListVehicle)
		r.Post("/reconcile", catalogHandler.Reconcile)
	})
	r.Get("/v1/batches/{batchID}/runs", runHandler.ListBatch)

	return r
}
