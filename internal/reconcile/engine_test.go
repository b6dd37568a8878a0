package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/catalog-engine/internal/catalog"
)

func trims(prices ...int64) []catalog.TrimInput {
	out := make([]catalog.TrimInput, len(prices))
	for i, p := range prices {
		out[i] = catalog.TrimInput{Name: "grade", Price: p}
	}
	return out
}

func materialized(prices ...int64) []catalog.Trim {
	out := make([]catalog.Trim, len(prices))
	for i, p := range prices {
		out[i] = catalog.Trim{ID: GradeID(i), Name: "grade", Price: p, Features: []string{}}
	}
	return out
}

func findSubModel(t *testing.T, entry catalog.CatalogEntry, id string) catalog.SubModel {
	t.Helper()
	for _, sm := range entry.SubModels {
		if sm.ID == id {
			return sm
		}
	}
	t.Fatalf("sub-model %s not found", id)
	return catalog.SubModel{}
}

func grandeurEntry() catalog.CatalogEntry {
	return catalog.CatalogEntry{SubModels: []catalog.SubModel{
		{ID: "g25", Name: "가솔린 2.5", FuelTag: catalog.FuelGasoline, IsDefault: true},
		{ID: "g35", Name: "가솔린 3.5", FuelTag: catalog.FuelGasoline},
		{ID: "hev", Name: "하이브리드 1.6 터보", FuelTag: catalog.FuelHybrid},
		{ID: "lpg", Name: "LPG 3.5", FuelTag: catalog.FuelLPG},
	}}
}

func grandeurSections() []catalog.RawSection {
	return []catalog.RawSection{
		{Title: "2025년형 가솔린 2.5", Trims: trims(1)},
		{Title: "2026년형 가솔린 3.5 AWD", Trims: trims(45000000, 48000000)},
		{Title: "2026년형 가솔린 2.5", Trims: trims(38000000, 41000000, 44000000)},
		{Title: "2026년형 하이브리드 1.6 터보", Trims: trims(43000000)},
		{Title: "2026년형 LPG 3.5 택시 전용", Trims: trims(30000000)},
		{Title: "2026년형 LPG 3.5 장애인용", Trims: trims(33000000)},
	}
}

func TestEngine_Reconcile(t *testing.T) {
	engine := NewEngine(nil, Options{})

	result, err := engine.Reconcile("grandeur", grandeurEntry(), catalog.VehicleSummary{}, grandeurSections())
	require.NoError(t, err)

	assert.Equal(t, OutcomeUpdated, result.Outcome)
	assert.True(t, result.Changed())
	assert.Equal(t, materialized(38000000, 41000000, 44000000), findSubModel(t, result.Entry, "g25").Trims)
	assert.Equal(t, materialized(45000000, 48000000), findSubModel(t, result.Entry, "g35").Trims)
	assert.Equal(t, materialized(43000000), findSubModel(t, result.Entry, "hev").Trims)
	// both LPG sections are special listings
	assert.Nil(t, findSubModel(t, result.Entry, "lpg").Trims)

	assert.Equal(t, StrategyDisplacement, result.Strategies[catalog.FuelGasoline])
	assert.Equal(t, StrategyTrivial, result.Strategies[catalog.FuelHybrid])
	assert.Equal(t, map[string]int{"g25": 3, "g35": 2, "hev": 1}, result.Assigned)
	assert.Equal(t, 6, result.TrimsAssigned())

	assert.Equal(t, materialized(38000000, 41000000, 44000000), result.Summary.Trims)
	assert.Equal(t, int64(38000000), result.Summary.StartPrice)
	// the LPG sub-model has no trims and falls back to the prior (empty) summary trims
	assert.Equal(t, 6, result.Summary.GradeCount)

	assert.True(t, result.Report.Has(DiagExcludedListing))
	assert.True(t, result.Report.Has(DiagStaleModelYear))
	assert.True(t, result.Report.Has(DiagUnassignedSubModel))
}

func TestEngine_Idempotent(t *testing.T) {
	engine := NewEngine(nil, Options{})
	entry := grandeurEntry()
	summary := catalog.VehicleSummary{Extra: map[string]json.RawMessage{"name": json.RawMessage(`"그랜저"`)}}

	first, err := engine.Reconcile("grandeur", entry, summary, grandeurSections())
	require.NoError(t, err)
	second, err := engine.Reconcile("grandeur", entry, summary, grandeurSections())
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("second run differs (-first +second):\n%s", diff)
	}

	// feeding the output back in leaves the catalog as is
	third, err := engine.Reconcile("grandeur", first.Entry, first.Summary, grandeurSections())
	require.NoError(t, err)
	if diff := cmp.Diff(first.Entry, third.Entry); diff != "" {
		t.Fatalf("re-run changed the entry:\n%s", diff)
	}
}

func TestEngine_SecondRunUnchanged(t *testing.T) {
	engine := NewEngine(nil, Options{})
	entry := catalog.CatalogEntry{SubModels: []catalog.SubModel{
		{ID: "g20", Name: "2.0", FuelTag: catalog.FuelGasoline, IsDefault: true},
		{ID: "g25", Name: "2.5", FuelTag: catalog.FuelGasoline},
	}}
	sections := []catalog.RawSection{
		{Title: "2026년형 가솔린 2.5", Trims: trims(30000000)},
		{Title: "2026년형 가솔린 2.0", Trims: trims(25000000, 27000000)},
	}

	first, err := engine.Reconcile("k5", entry, catalog.VehicleSummary{}, sections)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, first.Outcome)

	second, err := engine.Reconcile("k5", first.Entry, first.Summary, sections)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, second.Outcome)
	assert.Equal(t, first.Summary, second.Summary)
}

func TestEngine_DoesNotMutateInput(t *testing.T) {
	engine := NewEngine(nil, Options{})
	entry := grandeurEntry()
	before := entry.Clone()

	_, err := engine.Reconcile("grandeur", entry, catalog.VehicleSummary{}, grandeurSections())
	require.NoError(t, err)
	assert.Equal(t, before, entry)
}

func TestEngine_TrivialConcatenatesInOrder(t *testing.T) {
	engine := NewEngine(nil, Options{})
	entry := catalog.CatalogEntry{SubModels: []catalog.SubModel{
		{ID: "d", Name: "디젤 2.2", FuelTag: catalog.FuelDiesel, IsDefault: true},
	}}
	sections := []catalog.RawSection{
		{Title: "2026년형 디젤 2.2 2WD", Trims: trims(100, 200)},
		{Title: "2026년형 디젤 2.2 4WD", Trims: trims(300)},
	}

	result, err := engine.Reconcile("sorento", entry, catalog.VehicleSummary{}, sections)
	require.NoError(t, err)
	assert.Equal(t, materialized(100, 200, 300), result.Entry.SubModels[0].Trims)
}

func TestEngine_NonRegression(t *testing.T) {
	engine := NewEngine(nil, Options{})
	prior := materialized(1, 2, 3, 4, 5)
	entry := catalog.CatalogEntry{SubModels: []catalog.SubModel{
		{ID: "g", Name: "가솔린", FuelTag: catalog.FuelGasoline, IsDefault: true, Trims: prior},
	}}
	sections := []catalog.RawSection{{Title: "2026년형 가솔린 2.5", Trims: []catalog.TrimInput{}}}

	result, err := engine.Reconcile("avante", entry, catalog.VehicleSummary{}, sections)
	require.NoError(t, err)

	assert.Equal(t, prior, result.Entry.SubModels[0].Trims)
	empty := result.Report.Filter(DiagEmptyMaterialization)
	require.Len(t, empty, 1)
	assert.Equal(t, "g", empty[0].SubModelID)
}

func TestEngine_SpecialListingNeverAssigned(t *testing.T) {
	engine := NewEngine(nil, Options{})
	entry := catalog.CatalogEntry{SubModels: []catalog.SubModel{
		{ID: "g", Name: "가솔린", FuelTag: catalog.FuelGasoline},
		{ID: "x", Name: "기타", FuelTag: catalog.FuelUnknown},
	}}
	sections := []catalog.RawSection{
		{Title: "2026년형 택시 전용", Trims: trims(10)},
		{Title: "2026년형 가솔린 택시 전용", Trims: trims(20)},
		{Title: "2026년형 가솔린", Trims: trims(30)},
	}

	result, err := engine.Reconcile("sonata", entry, catalog.VehicleSummary{}, sections)
	require.NoError(t, err)
	assert.Equal(t, materialized(30), findSubModel(t, result.Entry, "g").Trims)
	assert.Nil(t, findSubModel(t, result.Entry, "x").Trims)
}

func TestEngine_NoUsableSectionsIsNoop(t *testing.T) {
	engine := NewEngine(nil, Options{})
	entry := catalog.CatalogEntry{SubModels: []catalog.SubModel{
		{ID: "g", Name: "가솔린", FuelTag: catalog.FuelGasoline, IsDefault: true, Trims: materialized(10)},
	}}
	summary := catalog.VehicleSummary{Trims: materialized(10), StartPrice: 10, GradeCount: 1}

	for _, sections := range [][]catalog.RawSection{
		nil,
		{{Title: "2026년형 택시 전용", Trims: trims(1)}},
	} {
		result, err := engine.Reconcile("sonata", entry, summary, sections)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoUsableSections, result.Outcome)
		assert.False(t, result.Changed())
		assert.Equal(t, entry, result.Entry)
		assert.Equal(t, summary, result.Summary)
		assert.True(t, result.Report.Has(DiagNoUsableSections))
	}
}

func TestEngine_MalformedSection(t *testing.T) {
	engine := NewEngine(nil, Options{})
	_, err := engine.Reconcile("sonata", grandeurEntry(), catalog.VehicleSummary{}, []catalog.RawSection{
		{Title: "", Trims: trims(1)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrMalformedSection)
	assert.Contains(t, err.Error(), "sonata")
}

func TestEngine_InvalidCatalogEntry(t *testing.T) {
	engine := NewEngine(nil, Options{})
	entry := catalog.CatalogEntry{SubModels: []catalog.SubModel{
		{ID: "g16", Name: "가솔린 1.6", FuelTag: catalog.FuelGasoline, IsDefault: true},
		{ID: "g20", Name: "가솔린 2.0", FuelTag: catalog.FuelGasoline, IsDefault: true},
	}}
	_, err := engine.Reconcile("k5", entry, catalog.VehicleSummary{}, []catalog.RawSection{
		{Title: "2026년형 가솔린 2.0", Trims: trims(1)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "k5")
	assert.Contains(t, err.Error(), "flagged as default")
}

func TestEngine_ExtraSkipKeywords(t *testing.T) {
	engine := NewEngine(nil, Options{ExtraSkipKeywords: []string{"시승용"}})
	entry := catalog.CatalogEntry{SubModels: []catalog.SubModel{
		{ID: "g", Name: "가솔린", FuelTag: catalog.FuelGasoline},
	}}
	result, err := engine.Reconcile("k5", entry, catalog.VehicleSummary{}, []catalog.RawSection{
		{Title: "2026년형 가솔린 시승용", Trims: trims(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoUsableSections, result.Outcome)
}
