package reconcile

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/spherical-ai/catalog-engine/internal/catalog"
)

// Strategy names how one fuel-tag group was resolved.
type Strategy string

const (
	StrategyTrivial      Strategy = "trivial"
	StrategyDisplacement Strategy = "displacement"
	StrategyEVVariant    Strategy = "ev_variant"
)

// Plan is the resolver's output: which sections each sub-model receives.
type Plan struct {
	// Assigned maps sub-model id to its sections in assignment order.
	Assigned   map[string][]ClassifiedSection
	Strategies map[catalog.FuelTag]Strategy
}

func newPlan() Plan {
	return Plan{
		Assigned:   make(map[string][]ClassifiedSection),
		Strategies: make(map[catalog.FuelTag]Strategy),
	}
}

func (p Plan) assign(subModelID string, sections ...ClassifiedSection) {
	p.Assigned[subModelID] = append(p.Assigned[subModelID], sections...)
}

func (p Plan) has(subModelID string) bool {
	return len(p.Assigned[subModelID]) > 0
}

// displacementGroup holds the sections sharing one primary displacement.
type displacementGroup struct {
	value    float64
	sections []ClassifiedSection
}

// Resolve partitions sub-models and sections by fuel tag and decides, per
// tag, which sections each sub-model receives. It never creates sub-models.
func Resolve(subModels []catalog.SubModel, sections []ClassifiedSection, report *Report) Plan {
	plan := newPlan()

	subOrder, subGroups := groupSubModels(subModels)
	secOrder, secGroups := groupSections(sections)

	for _, tag := range subOrder {
		subs := subGroups[tag]
		secs := secGroups[tag]
		if len(secs) == 0 {
			report.add(Diagnostic{
				Kind:    DiagUnassignedSubModel,
				FuelTag: tag,
				Count:   len(subs),
			})
			continue
		}

		switch {
		case len(subs) == 1:
			plan.Strategies[tag] = StrategyTrivial
			plan.assign(subs[0].ID, secs...)
		case tag == catalog.FuelElectric:
			plan.Strategies[tag] = StrategyEVVariant
			resolveEVVariants(plan, tag, subs, secs, report)
		default:
			plan.Strategies[tag] = StrategyDisplacement
			resolveByDisplacement(plan, tag, subs, secs, report)
		}
	}

	for _, tag := range secOrder {
		if _, ok := subGroups[tag]; ok {
			continue
		}
		report.add(Diagnostic{
			Kind:    DiagUnmatchedFuelGroup,
			FuelTag: tag,
			Titles:  titlesOf(secGroups[tag]),
			Count:   len(secGroups[tag]),
		})
	}

	return plan
}

// resolveByDisplacement pairs sub-models and displacement groups in ascending
// order. Surplus groups are dropped, surplus sub-models keep their trims.
func resolveByDisplacement(plan Plan, tag catalog.FuelTag, subs []catalog.SubModel, secs []ClassifiedSection, report *Report) {
	ordered := make([]catalog.SubModel, len(subs))
	copy(ordered, subs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return subModelDisplacement(ordered[i]) < subModelDisplacement(ordered[j])
	})

	groups := groupByDisplacement(secs)

	for i, sm := range ordered {
		if i >= len(groups) {
			report.add(Diagnostic{
				Kind:       DiagUnassignedSubModel,
				FuelTag:    tag,
				SubModelID: sm.ID,
				Count:      1,
			})
			continue
		}
		plan.assign(sm.ID, groups[i].sections...)
	}

	if len(groups) > len(ordered) {
		for _, g := range groups[len(ordered):] {
			report.add(Diagnostic{
				Kind:    DiagSurplusDisplacement,
				FuelTag: tag,
				Titles:  titlesOf(g.sections),
				Count:   len(g.sections),
			})
		}
	}
}

// groupByDisplacement buckets sections by primary displacement and returns the
// buckets sorted ascending. Sections without a displacement share bucket 0.
func groupByDisplacement(secs []ClassifiedSection) []displacementGroup {
	index := make(map[float64]int)
	var groups []displacementGroup
	for _, s := range secs {
		value, _ := PrimaryDisplacement(s.Title)
		i, ok := index[value]
		if !ok {
			i = len(groups)
			index[value] = i
			groups = append(groups, displacementGroup{value: value})
		}
		groups[i].sections = append(groups[i].sections, s)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].value < groups[j].value
	})
	return groups
}

func subModelDisplacement(sm catalog.SubModel) float64 {
	v, _ := PrimaryDisplacement(sm.Name)
	return v
}

// resolveEVVariants assigns sections by variant keyword first, then hands the
// remaining sections to still-empty sub-models in scan order.
func resolveEVVariants(plan Plan, tag catalog.FuelTag, subs []catalog.SubModel, secs []ClassifiedSection, report *Report) {
	var deferred []ClassifiedSection
	for _, s := range secs {
		variant, kwh := ExtractEVVariant(s.Title)
		if variant == EVVariantNone {
			deferred = append(deferred, s)
			continue
		}
		sm, ok := matchEVSubModel(subs, variant, kwh)
		if !ok {
			deferred = append(deferred, s)
			continue
		}
		plan.assign(sm.ID, s)
	}

	var open []catalog.SubModel
	for _, sm := range subs {
		if !plan.has(sm.ID) {
			open = append(open, sm)
		}
	}

	n := min(len(open), len(deferred))
	for i := 0; i < n; i++ {
		plan.assign(open[i].ID, deferred[i])
	}

	if len(deferred) > n {
		surplus := deferred[n:]
		report.add(Diagnostic{
			Kind:    DiagSurplusEVSection,
			FuelTag: tag,
			Titles:  titlesOf(surplus),
			Count:   len(surplus),
		})
	}
	for _, sm := range open[n:] {
		report.add(Diagnostic{
			Kind:       DiagUnassignedSubModel,
			FuelTag:    tag,
			SubModelID: sm.ID,
			Count:      1,
		})
	}
}

func matchEVSubModel(subs []catalog.SubModel, variant EVVariant, kwh float64) (catalog.SubModel, bool) {
	for _, sm := range subs {
		name := strings.ToLower(sm.Name)
		if variant == EVVariantBattery {
			m := batteryPattern.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && math.Abs(v-kwh) < 1e-6 {
				return sm, true
			}
			continue
		}
		for _, rule := range evRules {
			if rule.variant != variant {
				continue
			}
			for _, kw := range rule.keywords {
				if strings.Contains(name, kw) {
					return sm, true
				}
			}
		}
	}
	return catalog.SubModel{}, false
}

func groupSubModels(subModels []catalog.SubModel) ([]catalog.FuelTag, map[catalog.FuelTag][]catalog.SubModel) {
	var order []catalog.FuelTag
	groups := make(map[catalog.FuelTag][]catalog.SubModel)
	for _, sm := range subModels {
		if _, ok := groups[sm.FuelTag]; !ok {
			order = append(order, sm.FuelTag)
		}
		groups[sm.FuelTag] = append(groups[sm.FuelTag], sm)
	}
	return order, groups
}

func groupSections(sections []ClassifiedSection) ([]catalog.FuelTag, map[catalog.FuelTag][]ClassifiedSection) {
	var order []catalog.FuelTag
	groups := make(map[catalog.FuelTag][]ClassifiedSection)
	for _, s := range sections {
		if _, ok := groups[s.FuelTag]; !ok {
			order = append(order, s.FuelTag)
		}
		groups[s.FuelTag] = append(groups[s.FuelTag], s)
	}
	return order, groups
}
