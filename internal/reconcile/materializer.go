package reconcile

import (
	"fmt"

	"github.com/spherical-ai/catalog-engine/internal/catalog"
)

// GradeID returns the synthesized id of the trim at position i.
func GradeID(i int) string {
	return fmt.Sprintf("grade_%d", i)
}

// MaterializeTrims flattens the assigned sections into one trim list, in
// section order and then in-section order.
func MaterializeTrims(sections []ClassifiedSection) []catalog.Trim {
	var trims []catalog.Trim
	for _, s := range sections {
		for _, t := range s.Trims {
			trims = append(trims, catalog.Trim{
				ID:       GradeID(len(trims)),
				Name:     t.Name,
				Price:    t.Price,
				Features: []string{},
			})
		}
	}
	return trims
}

// Materialize returns sm with its trims replaced by the materialized list.
// When the list is empty sm is returned as is and ok is false, so existing
// trims are never overwritten by nothing.
func Materialize(sm catalog.SubModel, sections []ClassifiedSection) (out catalog.SubModel, ok bool) {
	trims := MaterializeTrims(sections)
	if len(trims) == 0 {
		return sm, false
	}
	sm.Trims = trims
	return sm, true
}
