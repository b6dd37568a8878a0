package reconcile

import "github.com/spherical-ai/catalog-engine/internal/catalog"

// DiagnosticKind names a recoverable condition met during a run.
type DiagnosticKind string

const (
	DiagNoUsableSections     DiagnosticKind = "no_usable_sections"
	DiagExcludedListing      DiagnosticKind = "excluded_listing"
	DiagStaleModelYear       DiagnosticKind = "stale_model_year"
	DiagUnmatchedFuelGroup   DiagnosticKind = "unmatched_fuel_group"
	DiagSurplusDisplacement  DiagnosticKind = "surplus_displacement_group"
	DiagSurplusEVSection     DiagnosticKind = "surplus_ev_section"
	DiagEmptyMaterialization DiagnosticKind = "empty_materialization"
	DiagUnassignedSubModel   DiagnosticKind = "unassigned_sub_model"
)

// Diagnostic describes one recoverable condition. None of them fail a run.
type Diagnostic struct {
	Kind       DiagnosticKind  `json:"kind"`
	FuelTag    catalog.FuelTag `json:"fuel_tag,omitempty"`
	SubModelID string          `json:"sub_model_id,omitempty"`
	Titles     []string        `json:"titles,omitempty"`
	Count      int             `json:"count,omitempty"`
}

// Report collects the diagnostics of one vehicle's run.
type Report struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
}

func (r *Report) add(d Diagnostic) {
	r.Diagnostics = append(r.Diagnostics, d)
}

// Has reports whether a diagnostic of the given kind was recorded.
func (r Report) Has(kind DiagnosticKind) bool {
	return len(r.Filter(kind)) > 0
}

// Filter returns the diagnostics of one kind.
func (r Report) Filter(kind DiagnosticKind) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

func titlesOf(sections []ClassifiedSection) []string {
	titles := make([]string, len(sections))
	for i, s := range sections {
		titles[i] = s.Title
	}
	return titles
}
