package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

// RunReader lists recorded reconcile runs.
type RunReader interface {
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*storage.ReconcileRun, error)
	ListByVehicle(ctx context.Context, vehicleID string, limit int) ([]*storage.ReconcileRun, error)
}

// RunHandler serves the reconcile run history.
type RunHandler struct {
	logger *observability.Logger
	runs   RunReader
}

// NewRunHandler creates a new run handler.
func NewRunHandler(logger *observability.Logger, runs RunReader) *RunHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RunHandler{logger: logger, runs: runs}
}

// ListBatch handles GET /v1/batches/{batchID}/runs.
func (h *RunHandler) ListBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch id", err.Error())
		return
	}

	runs, err := h.runs.ListByBatch(r.Context(), batchID)
	if err != nil {
		h.logger.WithContext(r.Context()).WithBatch(batchID.String()).Error().Err(err).Msg("Run read failed")
		writeError(w, http.StatusInternalServerError, "run read failed", err.Error())
		return
	}
	if len(runs) == 0 {
		writeError(w, http.StatusNotFound, "batch not found", batchID.String())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// ListVehicle handles GET /v1/vehicles/{vehicleID}/runs?limit=n.
func (h *RunHandler) ListVehicle(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleID")

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}

	runs, err := h.runs.ListByVehicle(r.Context(), vehicleID, limit)
	if err != nil {
		h.logger.WithContext(r.Context()).WithVehicle(vehicleID).Error().Err(err).Msg("Run read failed")
		writeError(w, http.StatusInternalServerError, "run read failed", err.Error())
		return
	}
	if runs == nil {
		runs = []*storage.ReconcileRun{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}
