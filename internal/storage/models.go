// Package storage provides the catalog, vehicle summary and reconcile-run
// stores of the catalog engine.
package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/catalog-engine/internal/catalog"
)

// RunOutcome is the per-vehicle result of a batch run.
type RunOutcome string

const (
	RunOutcomeUpdated          RunOutcome = "updated"
	RunOutcomeUnchanged        RunOutcome = "unchanged"
	RunOutcomeSkipped          RunOutcome = "skipped"
	RunOutcomeNoUsableSections RunOutcome = "no_usable_sections"
	RunOutcomeFailed           RunOutcome = "failed"
	RunOutcomeMissingCatalog   RunOutcome = "missing_catalog"
)

// CatalogRecord is one row of catalog_entries.
type CatalogRecord struct {
	VehicleID string               `json:"vehicle_id" db:"vehicle_id"`
	Entry     catalog.CatalogEntry `json:"entry" db:"document"`
	UpdatedAt time.Time            `json:"updated_at" db:"updated_at"`
}

// SummaryRecord is one row of vehicle_summaries.
type SummaryRecord struct {
	VehicleID string                 `json:"vehicle_id" db:"vehicle_id"`
	Summary   catalog.VehicleSummary `json:"summary" db:"document"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// ReconcileRun records what one batch did to one vehicle.
type ReconcileRun struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	BatchID       uuid.UUID       `json:"batch_id" db:"batch_id"`
	VehicleID     string          `json:"vehicle_id" db:"vehicle_id"`
	Outcome       RunOutcome      `json:"outcome" db:"outcome"`
	TrimsAssigned int             `json:"trims_assigned" db:"trims_assigned"`
	Diagnostics   json.RawMessage `json:"diagnostics,omitempty" db:"diagnostics"`
	Error         *string         `json:"error,omitempty" db:"error"`
	OccurredAt    time.Time       `json:"occurred_at" db:"occurred_at"`
}
