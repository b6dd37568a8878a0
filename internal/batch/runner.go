// Package batch orchestrates reconcile runs over many vehicles: the stores are
// read once, vehicles are reconciled on a bounded worker pool, and every
// changed document is written once at the end.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/catalog"
	"github.com/spherical-ai/catalog-engine/internal/monitoring"
	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/reconcile"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

// CatalogStore reads and writes catalog entries.
type CatalogStore interface {
	GetMany(ctx context.Context, vehicleIDs []string) (map[string]*storage.CatalogRecord, error)
	SaveMany(ctx context.Context, entries map[string]catalog.CatalogEntry) error
}

// SummaryStore reads and writes vehicle summaries.
type SummaryStore interface {
	GetMany(ctx context.Context, vehicleIDs []string) (map[string]*storage.SummaryRecord, error)
	SaveMany(ctx context.Context, summaries map[string]catalog.VehicleSummary) error
}

// Config configures a Runner.
type Config struct {
	Workers int
	// SkipUnchanged skips vehicles whose input fingerprint matches the cache.
	SkipUnchanged  bool
	FingerprintTTL time.Duration
	EventsChannel  string
	// OnVehicle is called once per vehicle as soon as its outcome is known.
	// It may be called concurrently.
	OnVehicle func(VehicleOutcome)
}

// Runner reconciles batches of vehicles.
type Runner struct {
	logger    *observability.Logger
	engine    *reconcile.Engine
	catalogs  CatalogStore
	summaries SummaryStore
	cache     cache.Client
	recorder  *monitoring.RunRecorder
	config    Config
}

// NewRunner creates a batch runner. cache and recorder may be nil.
func NewRunner(
	logger *observability.Logger,
	engine *reconcile.Engine,
	catalogs CatalogStore,
	summaries SummaryStore,
	cacheClient cache.Client,
	recorder *monitoring.RunRecorder,
	config Config,
) *Runner {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	return &Runner{
		logger:    logger.WithOperation("batch"),
		engine:    engine,
		catalogs:  catalogs,
		summaries: summaries,
		cache:     cacheClient,
		recorder:  recorder,
		config:    config,
	}
}

// VehicleOutcome is the per-vehicle part of a BatchResult.
type VehicleOutcome struct {
	VehicleID     string                 `json:"vehicle_id"`
	Outcome       storage.RunOutcome     `json:"outcome"`
	TrimsAssigned int                    `json:"trims_assigned"`
	Diagnostics   []reconcile.Diagnostic `json:"diagnostics,omitempty"`
	Error         string                 `json:"error,omitempty"`

	// Result is set when the engine ran.
	Result      *reconcile.Result `json:"-"`
	fingerprint string
}

// BatchResult summarizes one batch.
type BatchResult struct {
	BatchID  uuid.UUID                  `json:"batch_id"`
	DryRun   bool                       `json:"dry_run"`
	Vehicles []VehicleOutcome           `json:"vehicles"`
	Counts   map[storage.RunOutcome]int `json:"counts"`
	Written  int                        `json:"written"`
	Duration time.Duration              `json:"duration"`
}

// Failed returns the vehicles whose run failed.
func (b *BatchResult) Failed() []VehicleOutcome {
	var out []VehicleOutcome
	for _, v := range b.Vehicles {
		if v.Outcome == storage.RunOutcomeFailed {
			out = append(out, v)
		}
	}
	return out
}

// Vehicle returns the outcome of one vehicle.
func (b *BatchResult) Vehicle(vehicleID string) (VehicleOutcome, bool) {
	for _, v := range b.Vehicles {
		if v.VehicleID == vehicleID {
			return v, true
		}
	}
	return VehicleOutcome{}, false
}

// Event is published on the events channel after a batch is written.
type Event struct {
	BatchID  uuid.UUID                  `json:"batch_id"`
	Counts   map[storage.RunOutcome]int `json:"counts"`
	Written  int                        `json:"written"`
	Finished time.Time                  `json:"finished_at"`
}

// Run reconciles every vehicle in sections and writes the changed documents.
// Per-vehicle failures are reported in the result; only store failures and
// cancellation return an error.
func (r *Runner) Run(ctx context.Context, sections map[string][]catalog.RawSection) (*BatchResult, error) {
	return r.run(ctx, catalog.SectionBatch{Sections: sections}, false)
}

// Preview reconciles like Run but writes nothing.
func (r *Runner) Preview(ctx context.Context, sections map[string][]catalog.RawSection) (*BatchResult, error) {
	return r.run(ctx, catalog.SectionBatch{Sections: sections}, true)
}

// RunBatch is Run over a decoded batch. Vehicles the decoder rejected are
// reported as failed next to the reconciled ones.
func (r *Runner) RunBatch(ctx context.Context, batch catalog.SectionBatch) (*BatchResult, error) {
	return r.run(ctx, batch, false)
}

// PreviewBatch is Preview over a decoded batch.
func (r *Runner) PreviewBatch(ctx context.Context, batch catalog.SectionBatch) (*BatchResult, error) {
	return r.run(ctx, batch, true)
}

// ResetFingerprints forgets every stored input fingerprint so the next run
// reconciles all vehicles again.
func (r *Runner) ResetFingerprints(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.DeleteByPrefix(ctx, cache.FingerprintPrefix); err != nil {
		return fmt.Errorf("reset fingerprints: %w", err)
	}
	r.logger.Info().Msg("Fingerprints reset")
	return nil
}

// ForgetFingerprint forgets one vehicle's stored input fingerprint.
func (r *Runner) ForgetFingerprint(ctx context.Context, vehicleID string) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.Delete(ctx, cache.FingerprintKey(vehicleID)); err != nil {
		return fmt.Errorf("forget fingerprint of %s: %w", vehicleID, err)
	}
	return nil
}

func (r *Runner) run(ctx context.Context, batch catalog.SectionBatch, dryRun bool) (*BatchResult, error) {
	start := time.Now()
	batchID := uuid.New()
	log := r.logger.WithBatch(batchID.String())
	sections := batch.Sections

	loadIDs := make([]string, 0, len(sections))
	for id := range sections {
		loadIDs = append(loadIDs, id)
	}
	sort.Strings(loadIDs)

	ids := append([]string(nil), loadIDs...)
	for id := range batch.Rejected {
		if _, ok := sections[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	log.Info().
		Int("vehicles", len(ids)).
		Int("rejected", len(batch.Rejected)).
		Bool("dry_run", dryRun).
		Msg("Starting batch")

	entries, err := r.catalogs.GetMany(ctx, loadIDs)
	if err != nil {
		return nil, fmt.Errorf("load catalog entries: %w", err)
	}
	summaries, err := r.summaries.GetMany(ctx, loadIDs)
	if err != nil {
		return nil, fmt.Errorf("load vehicle summaries: %w", err)
	}

	outcomes := make([]VehicleOutcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if rejectErr, ok := batch.Rejected[id]; ok {
				log.Warn().Err(rejectErr).Str("vehicle_id", id).Msg("Rejected malformed sections")
				outcomes[i] = VehicleOutcome{VehicleID: id, Outcome: storage.RunOutcomeFailed, Error: rejectErr.Error()}
			} else {
				outcomes[i] = r.reconcileOne(gctx, log, id, sections[id], entries[id], summaries[id])
			}
			if r.config.OnVehicle != nil {
				r.config.OnVehicle(outcomes[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &BatchResult{
		BatchID:  batchID,
		DryRun:   dryRun,
		Vehicles: outcomes,
		Counts:   make(map[storage.RunOutcome]int),
	}
	for _, o := range outcomes {
		result.Counts[o.Outcome]++
	}

	if !dryRun {
		if err := r.write(ctx, result); err != nil {
			return nil, err
		}
		r.storeFingerprints(ctx, log, outcomes)
		r.recordRuns(ctx, log, result)
		r.publish(ctx, log, result)
	}

	result.Duration = time.Since(start)
	log.Info().
		Int("vehicles", len(ids)).
		Int("updated", result.Counts[storage.RunOutcomeUpdated]).
		Int("unchanged", result.Counts[storage.RunOutcomeUnchanged]).
		Int("skipped", result.Counts[storage.RunOutcomeSkipped]).
		Int("failed", result.Counts[storage.RunOutcomeFailed]).
		Int("missing_catalog", result.Counts[storage.RunOutcomeMissingCatalog]).
		Int("written", result.Written).
		Dur("duration", result.Duration).
		Msg("Batch complete")
	return result, nil
}

func (r *Runner) reconcileOne(
	ctx context.Context,
	log *observability.Logger,
	vehicleID string,
	sections []catalog.RawSection,
	entry *storage.CatalogRecord,
	summary *storage.SummaryRecord,
) VehicleOutcome {
	out := VehicleOutcome{VehicleID: vehicleID}

	if entry == nil {
		log.Warn().Str("vehicle_id", vehicleID).Msg("No catalog entry for vehicle")
		out.Outcome = storage.RunOutcomeMissingCatalog
		return out
	}

	fp, err := Fingerprint(sections, entry.Entry)
	if err != nil {
		out.Outcome = storage.RunOutcomeFailed
		out.Error = err.Error()
		return out
	}
	out.fingerprint = fp

	if r.config.SkipUnchanged && r.cache != nil {
		cached, err := r.cache.Get(ctx, cache.FingerprintKey(vehicleID))
		switch {
		case err == nil && string(cached) == fp:
			out.Outcome = storage.RunOutcomeSkipped
			return out
		case err != nil && !errors.Is(err, cache.ErrCacheMiss):
			log.Warn().Err(err).Str("vehicle_id", vehicleID).Msg("Fingerprint lookup failed")
		}
	}

	var prior catalog.VehicleSummary
	if summary != nil {
		prior = summary.Summary
	}

	result, err := r.engine.Reconcile(vehicleID, entry.Entry, prior, sections)
	if err != nil {
		log.Error().Err(err).Str("vehicle_id", vehicleID).Msg("Reconcile failed")
		out.Outcome = storage.RunOutcomeFailed
		out.Error = err.Error()
		return out
	}

	out.Result = result
	out.TrimsAssigned = result.TrimsAssigned()
	out.Diagnostics = result.Report.Diagnostics
	switch result.Outcome {
	case reconcile.OutcomeUpdated:
		out.Outcome = storage.RunOutcomeUpdated
		// the next run sees the entry as written
		if out.fingerprint, err = Fingerprint(sections, result.Entry); err != nil {
			out.fingerprint = ""
		}
	case reconcile.OutcomeNoUsableSections:
		out.Outcome = storage.RunOutcomeNoUsableSections
	default:
		out.Outcome = storage.RunOutcomeUnchanged
	}
	return out
}

// write saves every updated entry and summary, each store in one transaction.
func (r *Runner) write(ctx context.Context, result *BatchResult) error {
	entries := make(map[string]catalog.CatalogEntry)
	summaries := make(map[string]catalog.VehicleSummary)
	for _, o := range result.Vehicles {
		if o.Outcome != storage.RunOutcomeUpdated {
			continue
		}
		entries[o.VehicleID] = o.Result.Entry
		summaries[o.VehicleID] = o.Result.Summary
	}
	if len(entries) == 0 {
		return nil
	}

	if err := r.catalogs.SaveMany(ctx, entries); err != nil {
		return fmt.Errorf("write catalog entries: %w", err)
	}
	if err := r.summaries.SaveMany(ctx, summaries); err != nil {
		return fmt.Errorf("write vehicle summaries: %w", err)
	}
	result.Written = len(entries)
	return nil
}

func (r *Runner) storeFingerprints(ctx context.Context, log *observability.Logger, outcomes []VehicleOutcome) {
	if r.cache == nil {
		return
	}
	for _, o := range outcomes {
		if o.Result == nil || o.fingerprint == "" {
			continue
		}
		if err := r.cache.Set(ctx, cache.FingerprintKey(o.VehicleID), []byte(o.fingerprint), r.config.FingerprintTTL); err != nil {
			log.Warn().Err(err).Str("vehicle_id", o.VehicleID).Msg("Failed to store fingerprint")
		}
	}
}

func (r *Runner) recordRuns(ctx context.Context, log *observability.Logger, result *BatchResult) {
	if r.recorder == nil {
		return
	}
	for _, o := range result.Vehicles {
		var err error
		if o.Result != nil {
			err = r.recorder.RecordResult(ctx, result.BatchID, o.Outcome, o.Result)
		} else {
			var runErr error
			if o.Error != "" {
				runErr = errors.New(o.Error)
			}
			err = r.recorder.RecordOutcome(ctx, result.BatchID, o.VehicleID, o.Outcome, runErr)
		}
		if err != nil {
			log.Warn().Err(err).Str("vehicle_id", o.VehicleID).Msg("Failed to record run")
		}
	}
	if err := r.recorder.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to persist run records")
	}
}

func (r *Runner) publish(ctx context.Context, log *observability.Logger, result *BatchResult) {
	if r.cache == nil || r.config.EventsChannel == "" {
		return
	}
	event := Event{
		BatchID:  result.BatchID,
		Counts:   result.Counts,
		Written:  result.Written,
		Finished: time.Now().UTC(),
	}
	if err := r.cache.Publish(ctx, r.config.EventsChannel, event); err != nil {
		log.Warn().Err(err).Msg("Failed to publish batch event")
	}
}
