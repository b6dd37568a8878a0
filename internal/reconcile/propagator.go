package reconcile

import "github.com/spherical-ai/catalog-engine/internal/catalog"

// Propagate copies the default sub-model's trims onto the vehicle summary and
// recomputes startPrice and gradeCount. prior is not modified.
//
// Sub-models without trims contribute the prior summary trims to the
// aggregates. If the union is empty the prior aggregates are kept.
func Propagate(entry catalog.CatalogEntry, prior catalog.VehicleSummary) catalog.VehicleSummary {
	out := prior.Clone()

	if def, ok := entry.DefaultSubModel(); ok && len(def.Trims) > 0 {
		out.Trims = catalog.CloneTrims(def.Trims)
	}

	var union []catalog.Trim
	for _, sm := range entry.SubModels {
		if len(sm.Trims) > 0 {
			union = append(union, sm.Trims...)
		} else {
			union = append(union, prior.Trims...)
		}
	}
	if len(union) == 0 {
		return out
	}

	start := union[0].Price
	for _, t := range union[1:] {
		if t.Price < start {
			start = t.Price
		}
	}
	out.StartPrice = start
	out.GradeCount = len(union)
	return out
}
