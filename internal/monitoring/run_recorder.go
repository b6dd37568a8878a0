// Package monitoring records the per-vehicle outcome of reconcile runs.
package monitoring

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/reconcile"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

// RunStore persists run records.
type RunStore interface {
	BatchSave(ctx context.Context, runs []storage.ReconcileRun) error
}

// RecorderConfig configures the run recorder.
type RecorderConfig struct {
	BufferSize         int
	FlushInterval      time.Duration
	EnableAsync        bool
	IncludeDiagnostics bool
}

// DefaultRecorderConfig returns the configuration used by batch runs: records
// are held until Flush.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		BufferSize:         1000,
		FlushInterval:      5 * time.Second,
		EnableAsync:        false,
		IncludeDiagnostics: true,
	}
}

// RunRecorder buffers run records and writes them in batches.
type RunRecorder struct {
	logger *observability.Logger
	store  RunStore
	config RecorderConfig

	mu      sync.Mutex
	pending []storage.ReconcileRun

	buffer chan storage.ReconcileRun
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewRunRecorder creates a new run recorder. A nil store logs records instead
// of persisting them.
func NewRunRecorder(logger *observability.Logger, store RunStore, config RecorderConfig) *RunRecorder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	r := &RunRecorder{
		logger: logger.WithOperation("run_recorder"),
		store:  store,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if config.EnableAsync {
		r.buffer = make(chan storage.ReconcileRun, config.BufferSize)
		go r.runFlushLoop()
	} else {
		close(r.doneCh)
	}
	return r
}

// RecordResult records the outcome of a completed engine run.
func (r *RunRecorder) RecordResult(ctx context.Context, batchID uuid.UUID, outcome storage.RunOutcome, result *reconcile.Result) error {
	run := storage.ReconcileRun{
		BatchID:       batchID,
		VehicleID:     result.VehicleID,
		Outcome:       outcome,
		TrimsAssigned: result.TrimsAssigned(),
	}
	if r.config.IncludeDiagnostics && len(result.Report.Diagnostics) > 0 {
		data, err := json.Marshal(result.Report.Diagnostics)
		if err != nil {
			r.logger.Warn().Err(err).Str("vehicle_id", result.VehicleID).Msg("Failed to encode diagnostics")
		} else {
			run.Diagnostics = data
		}
	}
	return r.record(ctx, run)
}

// RecordOutcome records a vehicle that produced no engine result: skipped,
// missing its catalog, or failed with err.
func (r *RunRecorder) RecordOutcome(ctx context.Context, batchID uuid.UUID, vehicleID string, outcome storage.RunOutcome, err error) error {
	run := storage.ReconcileRun{
		BatchID:   batchID,
		VehicleID: vehicleID,
		Outcome:   outcome,
	}
	if err != nil {
		msg := err.Error()
		run.Error = &msg
	}
	return r.record(ctx, run)
}

// record queues a run for writing.
func (r *RunRecorder) record(ctx context.Context, run storage.ReconcileRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.OccurredAt.IsZero() {
		run.OccurredAt = time.Now().UTC()
	}

	if r.config.EnableAsync {
		select {
		case r.buffer <- run:
			return nil
		default:
			r.logger.Warn().Msg("Run buffer full, writing synchronously")
			return r.write(ctx, []storage.ReconcileRun{run})
		}
	}

	r.mu.Lock()
	r.pending = append(r.pending, run)
	r.mu.Unlock()
	return nil
}

// Pending returns the number of records held for the next Flush.
func (r *RunRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush writes all held records in one batch.
func (r *RunRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := r.write(ctx, batch); err != nil {
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return err
	}
	return nil
}

// write persists a batch of runs.
func (r *RunRecorder) write(ctx context.Context, batch []storage.ReconcileRun) error {
	if r.store == nil {
		for _, run := range batch {
			r.logger.Info().
				Str("batch_id", run.BatchID.String()).
				Str("vehicle_id", run.VehicleID).
				Str("outcome", string(run.Outcome)).
				Int("trims_assigned", run.TrimsAssigned).
				Msg("Reconcile run (no store)")
		}
		return nil
	}

	if err := r.store.BatchSave(ctx, batch); err != nil {
		r.logger.Error().Err(err).Int("count", len(batch)).Msg("Failed to write run batch")
		return err
	}
	r.logger.Debug().Int("count", len(batch)).Msg("Wrote run batch")
	return nil
}

// runFlushLoop periodically writes buffered runs.
func (r *RunRecorder) runFlushLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	var batch []storage.ReconcileRun
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = r.write(ctx, batch)
		batch = nil
	}

	for {
		select {
		case run := <-r.buffer:
			batch = append(batch, run)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.stopCh:
			for {
				select {
				case run := <-r.buffer:
					batch = append(batch, run)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Stop drains the recorder: buffered records are written before it returns.
func (r *RunRecorder) Stop(ctx context.Context) error {
	r.once.Do(func() { close(r.stopCh) })
	select {
	case <-r.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.Flush(ctx)
}
