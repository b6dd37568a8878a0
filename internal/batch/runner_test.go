package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/catalog"
	"github.com/spherical-ai/catalog-engine/internal/monitoring"
	"github.com/spherical-ai/catalog-engine/internal/reconcile"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

type fixture struct {
	db     *sql.DB
	repos  *storage.Repositories
	cache  *cache.MemoryClient
	runner *Runner
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(ctx, db))

	repos := storage.NewRepositories(db)
	mem := cache.NewMemoryClient(100)
	t.Cleanup(func() { mem.Close() })

	recorder := monitoring.NewRunRecorder(nil, repos.Runs, monitoring.DefaultRecorderConfig())
	engine := reconcile.NewEngine(nil, reconcile.Options{})

	if cfg.EventsChannel == "" {
		cfg.EventsChannel = "reconcile.events"
	}
	cfg.FingerprintTTL = time.Hour

	return &fixture{
		db:     db,
		repos:  repos,
		cache:  mem,
		runner: NewRunner(nil, engine, repos.Catalogs, repos.Summaries, mem, recorder, cfg),
	}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.repos.Catalogs.SaveMany(ctx, map[string]catalog.CatalogEntry{
		"k5": {SubModels: []catalog.SubModel{
			{ID: "g16", Name: "가솔린 1.6 터보", FuelTag: catalog.FuelGasoline, IsDefault: true},
			{ID: "g20", Name: "가솔린 2.0", FuelTag: catalog.FuelGasoline},
			{ID: "hev", Name: "하이브리드 2.0", FuelTag: catalog.FuelHybrid},
		}},
		"ev6": {SubModels: []catalog.SubModel{
			{ID: "std", Name: "스탠다드", FuelTag: catalog.FuelElectric, IsDefault: true},
			{ID: "long", Name: "롱레인지", FuelTag: catalog.FuelElectric},
		}},
	}))
	require.NoError(t, f.repos.Summaries.SaveMany(ctx, map[string]catalog.VehicleSummary{
		"k5": {Extra: map[string]json.RawMessage{"name": json.RawMessage(`"K5"`)}},
	}))
}

func trims(prices ...int64) []catalog.TrimInput {
	out := make([]catalog.TrimInput, len(prices))
	for i, p := range prices {
		out[i] = catalog.TrimInput{Name: "grade", Price: p}
	}
	return out
}

func batchSections() map[string][]catalog.RawSection {
	return map[string][]catalog.RawSection{
		"k5": {
			{Title: "2026년형 가솔린 2.0", Trims: trims(28000000, 31000000)},
			{Title: "2026년형 가솔린 1.6 터보", Trims: trims(27000000)},
			{Title: "2026년형 하이브리드 2.0", Trims: trims(33000000)},
			{Title: "2026년형 LPG 2.0 택시", Trims: trims(20000000)},
		},
		"ev6": {
			{Title: "2026년형 전기 롱레인지 2WD", Trims: trims(52000000)},
			{Title: "2026년형 전기 스탠다드", Trims: trims(48000000)},
		},
		"ioniq9": {
			{Title: "2026년형 전기", Trims: trims(70000000)},
		},
		"bad": {
			{Title: "", Trims: trims(1)},
		},
	}
}

func TestRunner_Run(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Workers: 2, SkipUnchanged: true})
	f.seed(t)

	// "bad" needs a catalog entry to reach the engine
	require.NoError(t, f.repos.Catalogs.Save(ctx, "bad", catalog.CatalogEntry{SubModels: []catalog.SubModel{{ID: "x", Name: "가솔린"}}}))

	events, unsubscribe, err := f.cache.Subscribe(ctx, "reconcile.events")
	require.NoError(t, err)
	defer unsubscribe()

	result, err := f.runner.Run(ctx, batchSections())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Counts[storage.RunOutcomeUpdated])
	assert.Equal(t, 1, result.Counts[storage.RunOutcomeMissingCatalog])
	assert.Equal(t, 1, result.Counts[storage.RunOutcomeFailed])
	assert.Equal(t, 2, result.Written)
	require.Len(t, result.Failed(), 1)
	assert.Equal(t, "bad", result.Failed()[0].VehicleID)
	assert.NotEmpty(t, result.Failed()[0].Error)

	// outcomes are ordered by vehicle id
	var ids []string
	for _, v := range result.Vehicles {
		ids = append(ids, v.VehicleID)
	}
	assert.Equal(t, []string{"bad", "ev6", "ioniq9", "k5"}, ids)

	k5, err := f.repos.Catalogs.Get(ctx, "k5")
	require.NoError(t, err)
	assert.Len(t, k5.Entry.SubModels[0].Trims, 1)
	assert.Len(t, k5.Entry.SubModels[1].Trims, 2)
	assert.Len(t, k5.Entry.SubModels[2].Trims, 1)

	summary, err := f.repos.Summaries.Get(ctx, "k5")
	require.NoError(t, err)
	assert.Equal(t, int64(27000000), summary.Summary.StartPrice)
	assert.Equal(t, 4, summary.Summary.GradeCount)
	assert.JSONEq(t, `"K5"`, string(summary.Summary.Extra["name"]))

	ev6, err := f.repos.Catalogs.Get(ctx, "ev6")
	require.NoError(t, err)
	assert.Equal(t, int64(48000000), ev6.Entry.SubModels[0].Trims[0].Price)
	assert.Equal(t, int64(52000000), ev6.Entry.SubModels[1].Trims[0].Price)

	runs, err := f.repos.Runs.ListByBatch(ctx, result.BatchID)
	require.NoError(t, err)
	assert.Len(t, runs, 4)

	select {
	case msg := <-events:
		var event Event
		require.NoError(t, json.Unmarshal(msg, &event))
		assert.Equal(t, result.BatchID, event.BatchID)
		assert.Equal(t, 2, event.Written)
	case <-time.After(time.Second):
		t.Fatal("no batch event published")
	}
}

func TestRunner_SecondRunSkipsByFingerprint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Workers: 4, SkipUnchanged: true})
	f.seed(t)

	sections := batchSections()
	delete(sections, "bad")

	_, err := f.runner.Run(ctx, sections)
	require.NoError(t, err)

	second, err := f.runner.Run(ctx, sections)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Counts[storage.RunOutcomeSkipped])
	assert.Zero(t, second.Written)

	// changed input is reconciled again
	sections["k5"][0].Trims = trims(29000000, 31000000)
	third, err := f.runner.Run(ctx, sections)
	require.NoError(t, err)
	k5, ok := third.Vehicle("k5")
	require.True(t, ok)
	assert.Equal(t, storage.RunOutcomeUpdated, k5.Outcome)
}

func TestRunner_ResetFingerprints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Workers: 2, SkipUnchanged: true})
	f.seed(t)

	sections := map[string][]catalog.RawSection{"ev6": batchSections()["ev6"]}
	_, err := f.runner.Run(ctx, sections)
	require.NoError(t, err)

	require.NoError(t, f.runner.ResetFingerprints(ctx))
	_, err = f.cache.Get(ctx, cache.FingerprintKey("ev6"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	_, err = f.runner.Run(ctx, sections)
	require.NoError(t, err)
	require.NoError(t, f.runner.ForgetFingerprint(ctx, "ev6"))
	_, err = f.cache.Get(ctx, cache.FingerprintKey("ev6"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	// the vehicle is reconciled again and found unchanged
	again, err := f.runner.Run(ctx, sections)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Counts[storage.RunOutcomeUnchanged])
}

func TestRunner_SecondRunUnchangedWithoutCacheSkip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Workers: 1, SkipUnchanged: false})
	f.seed(t)

	sections := map[string][]catalog.RawSection{"ev6": batchSections()["ev6"]}
	_, err := f.runner.Run(ctx, sections)
	require.NoError(t, err)

	second, err := f.runner.Run(ctx, sections)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Counts[storage.RunOutcomeUnchanged])
	assert.Zero(t, second.Written)
}

func TestRunner_PreviewWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Workers: 2, SkipUnchanged: true})
	f.seed(t)

	result, err := f.runner.Preview(ctx, map[string][]catalog.RawSection{"ev6": batchSections()["ev6"]})
	require.NoError(t, err)
	assert.True(t, result.DryRun)

	ev6, ok := result.Vehicle("ev6")
	require.True(t, ok)
	assert.Equal(t, storage.RunOutcomeUpdated, ev6.Outcome)
	require.NotNil(t, ev6.Result)
	assert.Len(t, ev6.Result.Entry.SubModels[1].Trims, 1)
	assert.Zero(t, result.Written)

	stored, err := f.repos.Catalogs.Get(ctx, "ev6")
	require.NoError(t, err)
	assert.Nil(t, stored.Entry.SubModels[1].Trims)

	_, err = f.cache.Get(ctx, cache.FingerprintKey("ev6"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestRunner_NoUsableSections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Workers: 1})
	f.seed(t)

	result, err := f.runner.Run(ctx, map[string][]catalog.RawSection{
		"k5": {{Title: "2026년형 택시 전용", Trims: trims(1)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Counts[storage.RunOutcomeNoUsableSections])
	assert.Zero(t, result.Written)
}

func TestRunner_OnVehicleCallback(t *testing.T) {
	ctx := context.Background()
	var (
		mu   sync.Mutex
		seen []string
	)
	f := newFixture(t, Config{Workers: 3, OnVehicle: func(o VehicleOutcome) {
		mu.Lock()
		seen = append(seen, o.VehicleID)
		mu.Unlock()
	}})
	f.seed(t)

	_, err := f.runner.Run(ctx, batchSections())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bad", "ev6", "ioniq9", "k5"}, seen)
}

type failingCatalogs struct {
	CatalogStore
	err error
}

func (s failingCatalogs) SaveMany(ctx context.Context, entries map[string]catalog.CatalogEntry) error {
	return s.err
}

func TestRunner_StoreFailureAborts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Workers: 2})
	f.seed(t)

	boom := errors.New("disk full")
	runner := NewRunner(nil, reconcile.NewEngine(nil, reconcile.Options{}),
		failingCatalogs{CatalogStore: f.repos.Catalogs, err: boom}, f.repos.Summaries, nil, nil, Config{})

	_, err := runner.Run(ctx, map[string][]catalog.RawSection{"ev6": batchSections()["ev6"]})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunner_Cancelled(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	f.seed(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner.Run(ctx, batchSections())
	require.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	entry := catalog.CatalogEntry{SubModels: []catalog.SubModel{{ID: "g"}}}
	sections := []catalog.RawSection{{Title: "2026년형 가솔린", Trims: trims(1)}}

	a, err := Fingerprint(sections, entry)
	require.NoError(t, err)
	b, err := Fingerprint(sections, entry.Clone())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	sections[0].Trims[0].Price = 2
	c, err := Fingerprint(sections, entry)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestRunner_InvalidStoredEntryFailsAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Workers: 2})
	f.seed(t)

	// SaveMany refuses this document, so it goes in as a raw row
	doc, err := json.Marshal(catalog.CatalogEntry{SubModels: []catalog.SubModel{
		{ID: "g16", Name: "가솔린 1.6", FuelTag: catalog.FuelGasoline, IsDefault: true},
		{ID: "g20", Name: "가솔린 2.0", FuelTag: catalog.FuelGasoline, IsDefault: true},
	}})
	require.NoError(t, err)
	_, err = f.db.ExecContext(ctx,
		`INSERT INTO catalog_entries (vehicle_id, document, updated_at) VALUES ($1, $2, $3)`,
		"dup", string(doc), time.Now().UTC())
	require.NoError(t, err)

	sections := batchSections()
	delete(sections, "bad")
	sections["dup"] = []catalog.RawSection{{Title: "2026년형 가솔린 2.0", Trims: trims(25000000)}}

	result, err := f.runner.Run(ctx, sections)
	require.NoError(t, err)

	dup, ok := result.Vehicle("dup")
	require.True(t, ok)
	assert.Equal(t, storage.RunOutcomeFailed, dup.Outcome)
	assert.Contains(t, dup.Error, "flagged as default")
	assert.Equal(t, 2, result.Written)

	k5, err := f.repos.Catalogs.Get(ctx, "k5")
	require.NoError(t, err)
	assert.Len(t, k5.Entry.SubModels[0].Trims, 1)
}

func TestRunner_RunBatchReportsRejectedVehicles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Workers: 2})
	f.seed(t)

	sections := batchSections()
	delete(sections, "bad")
	delete(sections, "ioniq9")
	result, err := f.runner.RunBatch(ctx, catalog.SectionBatch{
		Sections: sections,
		Rejected: map[string]error{"sonata": catalog.ErrMalformedSection},
	})
	require.NoError(t, err)

	var ids []string
	for _, v := range result.Vehicles {
		ids = append(ids, v.VehicleID)
	}
	assert.Equal(t, []string{"ev6", "k5", "sonata"}, ids)

	sonata, ok := result.Vehicle("sonata")
	require.True(t, ok)
	assert.Equal(t, storage.RunOutcomeFailed, sonata.Outcome)
	assert.Equal(t, catalog.ErrMalformedSection.Error(), sonata.Error)
	assert.Equal(t, 2, result.Counts[storage.RunOutcomeUpdated])
	assert.Equal(t, 2, result.Written)

	runs, err := f.repos.Runs.ListByBatch(ctx, result.BatchID)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}
