package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/catalog-engine/internal/catalog"
)

func classified(titles ...string) []ClassifiedSection {
	raw := make([]catalog.RawSection, len(titles))
	for i, title := range titles {
		raw[i] = section(title)
	}
	return ClassifySections(raw)
}

func assignedTitles(plan Plan, subModelID string) []string {
	return titlesOf(plan.Assigned[subModelID])
}

func TestResolve_Trivial(t *testing.T) {
	subs := []catalog.SubModel{{ID: "diesel", Name: "2.2 디젤", FuelTag: catalog.FuelDiesel}}
	var report Report

	plan := Resolve(subs, classified("2026년형 디젤 2.2 2WD", "2026년형 디젤 2.2 4WD"), &report)

	assert.Equal(t, StrategyTrivial, plan.Strategies[catalog.FuelDiesel])
	assert.Equal(t, []string{"2026년형 디젤 2.2 2WD", "2026년형 디젤 2.2 4WD"}, assignedTitles(plan, "diesel"))
	assert.Empty(t, report.Diagnostics)
}

func TestResolve_DisplacementOrdered(t *testing.T) {
	subs := []catalog.SubModel{
		{ID: "g25", Name: "2.5", FuelTag: catalog.FuelGasoline},
		{ID: "g20", Name: "2.0", FuelTag: catalog.FuelGasoline},
	}

	for _, order := range [][]string{
		{"2026년형 가솔린 2.0", "2026년형 가솔린 터보 2.5"},
		{"2026년형 가솔린 터보 2.5", "2026년형 가솔린 2.0"},
	} {
		var report Report
		plan := Resolve(subs, classified(order...), &report)

		assert.Equal(t, StrategyDisplacement, plan.Strategies[catalog.FuelGasoline])
		assert.Equal(t, []string{"2026년형 가솔린 2.0"}, assignedTitles(plan, "g20"))
		assert.Equal(t, []string{"2026년형 가솔린 터보 2.5"}, assignedTitles(plan, "g25"))
		assert.Empty(t, report.Diagnostics)
	}
}

func TestResolve_DisplacementGroupsShareSubModel(t *testing.T) {
	subs := []catalog.SubModel{
		{ID: "g16", Name: "가솔린 1.6 터보", FuelTag: catalog.FuelGasoline},
		{ID: "g20", Name: "가솔린 2.0", FuelTag: catalog.FuelGasoline},
	}
	var report Report
	plan := Resolve(subs, classified(
		"2026년형 가솔린 2.0 2WD",
		"2026년형 가솔린 1.6 터보 2WD",
		"2026년형 가솔린 2.0 AWD",
	), &report)

	assert.Equal(t, []string{"2026년형 가솔린 1.6 터보 2WD"}, assignedTitles(plan, "g16"))
	assert.Equal(t, []string{"2026년형 가솔린 2.0 2WD", "2026년형 가솔린 2.0 AWD"}, assignedTitles(plan, "g20"))
}

func TestResolve_SurplusDisplacementGroupDropped(t *testing.T) {
	subs := []catalog.SubModel{
		{ID: "g20", Name: "2.0", FuelTag: catalog.FuelGasoline},
		{ID: "g25", Name: "2.5", FuelTag: catalog.FuelGasoline},
	}
	var report Report
	plan := Resolve(subs, classified(
		"2026년형 가솔린 3.5",
		"2026년형 가솔린 2.5",
		"2026년형 가솔린 2.0",
	), &report)

	assert.Equal(t, []string{"2026년형 가솔린 2.0"}, assignedTitles(plan, "g20"))
	assert.Equal(t, []string{"2026년형 가솔린 2.5"}, assignedTitles(plan, "g25"))

	surplus := report.Filter(DiagSurplusDisplacement)
	require.Len(t, surplus, 1)
	assert.Equal(t, []string{"2026년형 가솔린 3.5"}, surplus[0].Titles)
}

func TestResolve_SurplusSubModelLeftUnassigned(t *testing.T) {
	subs := []catalog.SubModel{
		{ID: "g20", Name: "2.0", FuelTag: catalog.FuelGasoline},
		{ID: "g25", Name: "2.5", FuelTag: catalog.FuelGasoline},
	}
	var report Report
	plan := Resolve(subs, classified("2026년형 가솔린 2.0"), &report)

	assert.Equal(t, []string{"2026년형 가솔린 2.0"}, assignedTitles(plan, "g20"))
	assert.Empty(t, plan.Assigned["g25"])

	unassigned := report.Filter(DiagUnassignedSubModel)
	require.Len(t, unassigned, 1)
	assert.Equal(t, "g25", unassigned[0].SubModelID)
}

func TestResolve_SubModelWithoutDisplacementSortsFirst(t *testing.T) {
	subs := []catalog.SubModel{
		{ID: "turbo", Name: "가솔린 터보 2.5", FuelTag: catalog.FuelGasoline},
		{ID: "base", Name: "가솔린", FuelTag: catalog.FuelGasoline},
	}
	var report Report
	plan := Resolve(subs, classified("2026년형 가솔린 2.5", "2026년형 가솔린"), &report)

	assert.Equal(t, []string{"2026년형 가솔린"}, assignedTitles(plan, "base"))
	assert.Equal(t, []string{"2026년형 가솔린 2.5"}, assignedTitles(plan, "turbo"))
}

func TestResolve_EVKeywordPriority(t *testing.T) {
	subs := []catalog.SubModel{
		{ID: "std", Name: "전기 스탠다드", FuelTag: catalog.FuelElectric},
		{ID: "long", Name: "전기 롱레인지", FuelTag: catalog.FuelElectric},
	}
	var report Report
	plan := Resolve(subs, classified("2026년형 전기 롱레인지 4WD"), &report)

	assert.Equal(t, StrategyEVVariant, plan.Strategies[catalog.FuelElectric])
	assert.Equal(t, []string{"2026년형 전기 롱레인지 4WD"}, assignedTitles(plan, "long"))
	assert.Empty(t, plan.Assigned["std"])
}

func TestResolve_EVKeywordAccumulates(t *testing.T) {
	subs := []catalog.SubModel{
		{ID: "std", Name: "스탠다드", FuelTag: catalog.FuelElectric},
		{ID: "long", Name: "롱레인지", FuelTag: catalog.FuelElectric},
		{ID: "gt", Name: "GT", FuelTag: catalog.FuelElectric},
	}
	var report Report
	plan := Resolve(subs, classified(
		"2026년형 전기 롱레인지 2WD",
		"2026년형 전기 GT",
		"2026년형 전기 롱레인지 4WD",
		"2026년형 전기 Standard",
	), &report)

	assert.Equal(t, []string{"2026년형 전기 롱레인지 2WD", "2026년형 전기 롱레인지 4WD"}, assignedTitles(plan, "long"))
	assert.Equal(t, []string{"2026년형 전기 GT"}, assignedTitles(plan, "gt"))
	assert.Equal(t, []string{"2026년형 전기 Standard"}, assignedTitles(plan, "std"))
	assert.Empty(t, report.Diagnostics)
}

func TestResolve_EVBatteryCapacity(t *testing.T) {
	subs := []catalog.SubModel{
		{ID: "b63", Name: "63kWh", FuelTag: catalog.FuelElectric},
		{ID: "b84", Name: "84.0 kWh", FuelTag: catalog.FuelElectric},
	}
	var report Report
	plan := Resolve(subs, classified("2026년형 전기 84kWh 2WD", "2026년형 전기 63.0kWh"), &report)

	assert.Equal(t, []string{"2026년형 전기 84kWh 2WD"}, assignedTitles(plan, "b84"))
	assert.Equal(t, []string{"2026년형 전기 63.0kWh"}, assignedTitles(plan, "b63"))
}

func TestResolve_EVPositionalFallback(t *testing.T) {
	subs := []catalog.SubModel{
		{ID: "a", Name: "전기 A", FuelTag: catalog.FuelElectric},
		{ID: "b", Name: "전기 B", FuelTag: catalog.FuelElectric},
	}
	var report Report
	plan := Resolve(subs, classified("2026년형 전기 2WD", "2026년형 전기 4WD"), &report)

	assert.Equal(t, []string{"2026년형 전기 2WD"}, assignedTitles(plan, "a"))
	assert.Equal(t, []string{"2026년형 전기 4WD"}, assignedTitles(plan, "b"))
	assert.Empty(t, report.Diagnostics)
}

func TestResolve_EVFallbackSkipsMatchedSubModels(t *testing.T) {
	subs := []catalog.SubModel{
		{ID: "long", Name: "롱레인지", FuelTag: catalog.FuelElectric},
		{ID: "other", Name: "기본형", FuelTag: catalog.FuelElectric},
	}
	var report Report
	plan := Resolve(subs, classified(
		"2026년형 전기 2WD",
		"2026년형 전기 롱레인지",
		"2026년형 전기 GT", // no GT sub-model: deferred
	), &report)

	assert.Equal(t, []string{"2026년형 전기 롱레인지"}, assignedTitles(plan, "long"))
	assert.Equal(t, []string{"2026년형 전기 2WD"}, assignedTitles(plan, "other"))

	surplus := report.Filter(DiagSurplusEVSection)
	require.Len(t, surplus, 1)
	assert.Equal(t, []string{"2026년형 전기 GT"}, surplus[0].Titles)
}

func TestResolve_UnmatchedFuelGroup(t *testing.T) {
	subs := []catalog.SubModel{{ID: "g", Name: "가솔린", FuelTag: catalog.FuelGasoline}}
	var report Report
	plan := Resolve(subs, classified("2026년형 가솔린 2.5", "2026년형 LPG 3.5"), &report)

	assert.Equal(t, []string{"2026년형 가솔린 2.5"}, assignedTitles(plan, "g"))
	unmatched := report.Filter(DiagUnmatchedFuelGroup)
	require.Len(t, unmatched, 1)
	assert.Equal(t, catalog.FuelLPG, unmatched[0].FuelTag)
	assert.Equal(t, 1, unmatched[0].Count)
}

func TestResolve_SubModelOnlyGroup(t *testing.T) {
	subs := []catalog.SubModel{
		{ID: "g", Name: "가솔린", FuelTag: catalog.FuelGasoline},
		{ID: "h", Name: "하이브리드", FuelTag: catalog.FuelHybrid},
	}
	var report Report
	plan := Resolve(subs, classified("2026년형 가솔린 2.5"), &report)

	assert.Empty(t, plan.Assigned["h"])
	unassigned := report.Filter(DiagUnassignedSubModel)
	require.Len(t, unassigned, 1)
	assert.Equal(t, catalog.FuelHybrid, unassigned[0].FuelTag)
}

func TestGroupByDisplacement_SortedAscending(t *testing.T) {
	groups := groupByDisplacement(classified(
		"2026년형 가솔린 3.5",
		"2026년형 가솔린",
		"2026년형 가솔린 2.5 AWD",
		"2026년형 가솔린 2.5 2WD",
	))

	require.Len(t, groups, 3)
	assert.Equal(t, 0.0, groups[0].value)
	assert.Equal(t, 2.5, groups[1].value)
	assert.Equal(t, []string{"2026년형 가솔린 2.5 AWD", "2026년형 가솔린 2.5 2WD"}, titlesOf(groups[1].sections))
	assert.Equal(t, 3.5, groups[2].value)
}
