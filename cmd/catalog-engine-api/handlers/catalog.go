// Package handlers provides HTTP handlers for the catalog engine API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/catalog-engine/internal/batch"
	"github.com/spherical-ai/catalog-engine/internal/catalog"
	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/reconcile"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

const maxBodyBytes = 1 << 20

// CatalogReader loads one vehicle's catalog entry.
type CatalogReader interface {
	Get(ctx context.Context, vehicleID string) (*storage.CatalogRecord, error)
}

// SummaryReader loads one vehicle's summary.
type SummaryReader interface {
	Get(ctx context.Context, vehicleID string) (*storage.SummaryRecord, error)
}

// Reconciler runs or previews a batch.
type Reconciler interface {
	Run(ctx context.Context, sections map[string][]catalog.RawSection) (*batch.BatchResult, error)
	Preview(ctx context.Context, sections map[string][]catalog.RawSection) (*batch.BatchResult, error)
}

// CatalogHandler serves catalog documents and single-vehicle reconcile runs.
type CatalogHandler struct {
	logger    *observability.Logger
	catalogs  CatalogReader
	summaries SummaryReader
	runner    Reconciler

	// one reconcile at a time per vehicle
	locks sync.Map
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(logger *observability.Logger, catalogs CatalogReader, summaries SummaryReader, runner Reconciler) *CatalogHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CatalogHandler{
		logger:    logger,
		catalogs:  catalogs,
		summaries: summaries,
		runner:    runner,
	}
}

// ReconcileResponseDTO is the response of a single-vehicle reconcile.
type ReconcileResponseDTO struct {
	BatchID       string                                 `json:"batchId"`
	VehicleID     string                                 `json:"vehicleId"`
	DryRun        bool                                   `json:"dryRun"`
	Outcome       storage.RunOutcome                     `json:"outcome"`
	TrimsAssigned int                                    `json:"trimsAssigned"`
	Strategies    map[catalog.FuelTag]reconcile.Strategy `json:"strategies,omitempty"`
	Diagnostics   []reconcile.Diagnostic                 `json:"diagnostics"`
	Catalog       *catalog.CatalogEntry                  `json:"catalog,omitempty"`
	Summary       *catalog.VehicleSummary                `json:"summary,omitempty"`
}

// GetCatalog handles GET /v1/vehicles/{vehicleID}/catalog.
func (h *CatalogHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleID")

	rec, err := h.catalogs.Get(r.Context(), vehicleID)
	if err != nil {
		h.writeStoreError(w, r, vehicleID, "catalog entry", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetSummary handles GET /v1/vehicles/{vehicleID}/summary.
func (h *CatalogHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleID")

	rec, err := h.summaries.Get(r.Context(), vehicleID)
	if err != nil {
		h.writeStoreError(w, r, vehicleID, "vehicle summary", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Reconcile handles POST /v1/vehicles/{vehicleID}/reconcile. The body is the
// vehicle's section list; ?dry_run=true previews without writing.
func (h *CatalogHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vehicleID := chi.URLParam(r, "vehicleID")
	log := h.logger.WithContext(ctx).WithVehicle(vehicleID)

	dryRun := false
	if v := r.URL.Query().Get("dry_run"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid dry_run", err.Error())
			return
		}
		dryRun = parsed
	}

	sections, err := catalog.DecodeSections(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn().Err(err).Msg("Rejected section payload")
		writeError(w, http.StatusBadRequest, "invalid sections", err.Error())
		return
	}

	lock := h.vehicleLock(vehicleID)
	lock.Lock()
	defer lock.Unlock()

	input := map[string][]catalog.RawSection{vehicleID: sections}
	var result *batch.BatchResult
	if dryRun {
		result, err = h.runner.Preview(ctx, input)
	} else {
		result, err = h.runner.Run(ctx, input)
	}
	if err != nil {
		log.Error().Err(err).Msg("Reconcile failed")
		writeError(w, http.StatusInternalServerError, "reconcile failed", err.Error())
		return
	}

	outcome, ok := result.Vehicle(vehicleID)
	if !ok {
		writeError(w, http.StatusInternalServerError, "reconcile failed", "no outcome for vehicle")
		return
	}

	switch outcome.Outcome {
	case storage.RunOutcomeMissingCatalog:
		writeError(w, http.StatusNotFound, "catalog entry not found", vehicleID)
		return
	case storage.RunOutcomeFailed:
		writeError(w, http.StatusUnprocessableEntity, "reconcile failed", outcome.Error)
		return
	}

	resp := ReconcileResponseDTO{
		BatchID:       result.BatchID.String(),
		VehicleID:     vehicleID,
		DryRun:        result.DryRun,
		Outcome:       outcome.Outcome,
		TrimsAssigned: outcome.TrimsAssigned,
		Diagnostics:   outcome.Diagnostics,
	}
	if resp.Diagnostics == nil {
		resp.Diagnostics = []reconcile.Diagnostic{}
	}
	if res := outcome.Result; res != nil {
		resp.Catalog = &res.Entry
		resp.Summary = &res.Summary
		resp.Strategies = res.Strategies
	}

	log.Info().
		Str("outcome", string(outcome.Outcome)).
		Int("trims_assigned", outcome.TrimsAssigned).
		Bool("dry_run", dryRun).
		Msg("Vehicle reconciled")

	writeJSON(w, http.StatusOK, resp)
}

func (h *CatalogHandler) vehicleLock(vehicleID string) *sync.Mutex {
	v, _ := h.locks.LoadOrStore(vehicleID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (h *CatalogHandler) writeStoreError(w http.ResponseWriter, r *http.Request, vehicleID, what string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found", vehicleID)
		return
	}
	h.logger.WithContext(r.Context()).Error().Err(err).Str("vehicle_id", vehicleID).Msg("Store read failed")
	writeError(w, http.StatusInternalServerError, "store read failed", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}
