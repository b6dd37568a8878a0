package reconcile

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/spherical-ai/catalog-engine/internal/catalog"
	"github.com/spherical-ai/catalog-engine/internal/observability"
)

// Outcome summarizes what a run did to one vehicle.
type Outcome string

const (
	OutcomeUpdated          Outcome = "updated"
	OutcomeUnchanged        Outcome = "unchanged"
	OutcomeNoUsableSections Outcome = "no_usable_sections"
)

// Engine runs the reconcile pipeline for one vehicle at a time. It holds no
// per-vehicle state and is safe for concurrent use.
type Engine struct {
	logger     *observability.Logger
	normalizer *Normalizer
}

// Options configures an Engine.
type Options struct {
	// ExtraSkipKeywords extend the built-in special-purpose listing keywords.
	ExtraSkipKeywords []string
}

// NewEngine creates a new reconcile engine.
func NewEngine(logger *observability.Logger, opts Options) *Engine {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Engine{
		logger:     logger.WithOperation("reconcile"),
		normalizer: NewNormalizer(opts.ExtraSkipKeywords...),
	}
}

// Result is the output of one vehicle's run. Entry and Summary are new values;
// the inputs are never modified.
type Result struct {
	VehicleID  string
	Entry      catalog.CatalogEntry
	Summary    catalog.VehicleSummary
	Outcome    Outcome
	Strategies map[catalog.FuelTag]Strategy
	// Assigned counts trims written per sub-model id.
	Assigned map[string]int
	Report   Report
}

// Changed reports whether the run produced documents that differ from its input.
func (r *Result) Changed() bool {
	return r.Outcome == OutcomeUpdated
}

// TrimsAssigned returns the total number of trims written in this run.
func (r *Result) TrimsAssigned() int {
	total := 0
	for _, n := range r.Assigned {
		total += n
	}
	return total
}

// Reconcile resolves sections onto the vehicle's sub-models. Only malformed
// sections produce an error; every other condition is reported in Result.Report.
func (e *Engine) Reconcile(vehicleID string, entry catalog.CatalogEntry, summary catalog.VehicleSummary, sections []catalog.RawSection) (*Result, error) {
	log := e.logger.WithVehicle(vehicleID)

	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("vehicle %s: catalog entry: %w", vehicleID, err)
	}
	for i, s := range sections {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("vehicle %s: section %d: %w", vehicleID, i, err)
		}
	}

	result := &Result{
		VehicleID:  vehicleID,
		Entry:      entry.Clone(),
		Summary:    summary.Clone(),
		Outcome:    OutcomeUnchanged,
		Strategies: map[catalog.FuelTag]Strategy{},
		Assigned:   map[string]int{},
	}
	report := &result.Report

	normalized, stats, err := e.normalizer.Normalize(sections)
	if stats.Excluded > 0 {
		report.add(Diagnostic{Kind: DiagExcludedListing, Count: stats.Excluded})
	}
	if stats.StaleYear > 0 {
		report.add(Diagnostic{Kind: DiagStaleModelYear, Count: stats.StaleYear})
	}
	if errors.Is(err, ErrNoUsableSections) {
		report.add(Diagnostic{Kind: DiagNoUsableSections, Count: len(sections)})
		result.Outcome = OutcomeNoUsableSections
		log.Info().
			Int("sections", len(sections)).
			Int("excluded", stats.Excluded).
			Msg("No usable sections, catalog left unchanged")
		return result, nil
	}

	classified := ClassifySections(normalized)
	plan := Resolve(entry.SubModels, classified, report)
	result.Strategies = plan.Strategies

	for i, sm := range result.Entry.SubModels {
		assigned := plan.Assigned[sm.ID]
		if len(assigned) == 0 {
			continue
		}
		updated, ok := Materialize(sm, assigned)
		if !ok {
			report.add(Diagnostic{
				Kind:       DiagEmptyMaterialization,
				FuelTag:    sm.FuelTag,
				SubModelID: sm.ID,
				Titles:     titlesOf(assigned),
				Count:      len(assigned),
			})
			continue
		}
		result.Entry.SubModels[i] = updated
		result.Assigned[sm.ID] = len(updated.Trims)
	}

	result.Summary = Propagate(result.Entry, summary)

	if !reflect.DeepEqual(result.Entry, entry) || !reflect.DeepEqual(result.Summary, summary) {
		result.Outcome = OutcomeUpdated
	}

	e.logReport(log, result)
	return result, nil
}

func (e *Engine) logReport(log *observability.Logger, result *Result) {
	for _, d := range result.Report.Diagnostics {
		switch d.Kind {
		case DiagUnmatchedFuelGroup, DiagSurplusDisplacement, DiagSurplusEVSection, DiagEmptyMaterialization:
			log.Warn().
				Str("kind", string(d.Kind)).
				Str("fuel_tag", string(d.FuelTag)).
				Str("sub_model_id", d.SubModelID).
				Strs("titles", d.Titles).
				Int("count", d.Count).
				Msg("Sections dropped during reconciliation")
		case DiagNoUsableSections:
			log.Info().
				Int("count", d.Count).
				Msg("No usable sections, vehicle left as is")
		default:
			log.Debug().
				Str("kind", string(d.Kind)).
				Str("fuel_tag", string(d.FuelTag)).
				Str("sub_model_id", d.SubModelID).
				Int("count", d.Count).
				Msg("Reconcile diagnostic")
		}
	}

	log.Info().
		Str("outcome", string(result.Outcome)).
		Int("trims_assigned", result.TrimsAssigned()).
		Int64("start_price", result.Summary.StartPrice).
		Int("grade_count", result.Summary.GradeCount).
		Msg("Vehicle reconciled")
}
