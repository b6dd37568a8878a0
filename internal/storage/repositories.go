package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/catalog-engine/internal/catalog"
	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// maxInArgs bounds the number of placeholders in one IN (...) list.
const maxInArgs = 500

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TxDB is a DB that can open transactions. *sql.DB satisfies it.
type TxDB interface {
	DB
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// CatalogRepository reads and writes whole catalog documents.
type CatalogRepository struct {
	db TxDB
}

// NewCatalogRepository creates a new catalog repository.
func NewCatalogRepository(db TxDB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Get retrieves the catalog entry of one vehicle.
func (r *CatalogRepository) Get(ctx context.Context, vehicleID string) (*CatalogRecord, error) {
	query := `
		SELECT vehicle_id, document, updated_at
		FROM catalog_entries WHERE vehicle_id = $1
	`
	var doc []byte
	record := &CatalogRecord{}
	err := r.db.QueryRowContext(ctx, query, vehicleID).Scan(&record.VehicleID, &doc, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageError("get catalog entry", err)
	}
	if err := json.Unmarshal(doc, &record.Entry); err != nil {
		return nil, domain.StorageError(fmt.Sprintf("decode catalog entry %s", vehicleID), err)
	}
	return record, nil
}

// GetMany retrieves the catalog entries of the given vehicles, keyed by
// vehicle id. Vehicles without an entry are absent from the map.
func (r *CatalogRepository) GetMany(ctx context.Context, vehicleIDs []string) (map[string]*CatalogRecord, error) {
	out := make(map[string]*CatalogRecord, len(vehicleIDs))
	err := forEachChunk(vehicleIDs, func(ids []string) error {
		query := `
			SELECT vehicle_id, document, updated_at
			FROM catalog_entries WHERE vehicle_id IN (` + placeholders(len(ids)) + `)
		`
		rows, err := r.db.QueryContext(ctx, query, stringArgs(ids)...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			record, err := scanCatalog(rows)
			if err != nil {
				return err
			}
			out[record.VehicleID] = record
		}
		return rows.Err()
	})
	if err != nil {
		return nil, domain.StorageError("get catalog entries", err)
	}
	return out, nil
}

// List returns every catalog entry ordered by vehicle id.
func (r *CatalogRepository) List(ctx context.Context) ([]*CatalogRecord, error) {
	query := `
		SELECT vehicle_id, document, updated_at
		FROM catalog_entries
		ORDER BY vehicle_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.StorageError("list catalog entries", err)
	}
	defer rows.Close()

	var records []*CatalogRecord
	for rows.Next() {
		record, err := scanCatalog(rows)
		if err != nil {
			return nil, domain.StorageError("list catalog entries", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ListVehicleIDs returns the ids of all vehicles with a catalog entry.
func (r *CatalogRepository) ListVehicleIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT vehicle_id FROM catalog_entries ORDER BY vehicle_id`)
	if err != nil {
		return nil, domain.StorageError("list vehicle ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.StorageError("list vehicle ids", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Save writes one catalog entry.
func (r *CatalogRepository) Save(ctx context.Context, vehicleID string, entry catalog.CatalogEntry) error {
	return r.SaveMany(ctx, map[string]catalog.CatalogEntry{vehicleID: entry})
}

// SaveMany upserts all entries in a single transaction.
func (r *CatalogRepository) SaveMany(ctx context.Context, entries map[string]catalog.CatalogEntry) error {
	docs := make(map[string]string, len(entries))
	for id, entry := range entries {
		if err := entry.Validate(); err != nil {
			return domain.ValidationError(fmt.Sprintf("catalog entry %s", id), err)
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return domain.StorageError(fmt.Sprintf("encode catalog entry %s", id), err)
		}
		docs[id] = string(data)
	}
	return upsertDocuments(ctx, r.db, "catalog_entries", docs)
}

// SummaryRepository reads and writes whole vehicle summary documents.
type SummaryRepository struct {
	db TxDB
}

// NewSummaryRepository creates a new summary repository.
func NewSummaryRepository(db TxDB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Get retrieves the summary of one vehicle.
func (r *SummaryRepository) Get(ctx context.Context, vehicleID string) (*SummaryRecord, error) {
	query := `
		SELECT vehicle_id, document, updated_at
		FROM vehicle_summaries WHERE vehicle_id = $1
	`
	var doc []byte
	record := &SummaryRecord{}
	err := r.db.QueryRowContext(ctx, query, vehicleID).Scan(&record.VehicleID, &doc, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageError("get vehicle summary", err)
	}
	if err := json.Unmarshal(doc, &record.Summary); err != nil {
		return nil, domain.StorageError(fmt.Sprintf("decode vehicle summary %s", vehicleID), err)
	}
	return record, nil
}

// GetMany retrieves the summaries of the given vehicles, keyed by vehicle id.
func (r *SummaryRepository) GetMany(ctx context.Context, vehicleIDs []string) (map[string]*SummaryRecord, error) {
	out := make(map[string]*SummaryRecord, len(vehicleIDs))
	err := forEachChunk(vehicleIDs, func(ids []string) error {
		query := `
			SELECT vehicle_id, document, updated_at
			FROM vehicle_summaries WHERE vehicle_id IN (` + placeholders(len(ids)) + `)
		`
		rows, err := r.db.QueryContext(ctx, query, stringArgs(ids)...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			record, err := scanSummary(rows)
			if err != nil {
				return err
			}
			out[record.VehicleID] = record
		}
		return rows.Err()
	})
	if err != nil {
		return nil, domain.StorageError("get vehicle summaries", err)
	}
	return out, nil
}

// List returns every summary ordered by vehicle id.
func (r *SummaryRepository) List(ctx context.Context) ([]*SummaryRecord, error) {
	query := `
		SELECT vehicle_id, document, updated_at
		FROM vehicle_summaries
		ORDER BY vehicle_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.StorageError("list vehicle summaries", err)
	}
	defer rows.Close()

	var records []*SummaryRecord
	for rows.Next() {
		record, err := scanSummary(rows)
		if err != nil {
			return nil, domain.StorageError("list vehicle summaries", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// SaveMany upserts all summaries in a single transaction. Display fields the
// engine does not own are written back as they were read.
func (r *SummaryRepository) SaveMany(ctx context.Context, summaries map[string]catalog.VehicleSummary) error {
	docs := make(map[string]string, len(summaries))
	for id, summary := range summaries {
		data, err := json.Marshal(summary)
		if err != nil {
			return domain.StorageError(fmt.Sprintf("encode vehicle summary %s", id), err)
		}
		docs[id] = string(data)
	}
	return upsertDocuments(ctx, r.db, "vehicle_summaries", docs)
}

// RunRepository persists reconcile run records.
type RunRepository struct {
	db TxDB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db TxDB) *RunRepository {
	return &RunRepository{db: db}
}

// BatchSave inserts all runs in a single transaction.
func (r *RunRepository) BatchSave(ctx context.Context, runs []ReconcileRun) error {
	if len(runs) == 0 {
		return nil
	}
	return withRetry(ctx, DefaultRetryConfig, func() error {
		return r.batchSaveTx(ctx, runs)
	})
}

func (r *RunRepository) batchSaveTx(ctx context.Context, runs []ReconcileRun) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError("begin run batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO reconcile_runs (id, batch_id, vehicle_id, outcome, trims_assigned,
			diagnostics, error, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for i := range runs {
		run := &runs[i]
		if run.ID == uuid.Nil {
			run.ID = uuid.New()
		}
		if run.OccurredAt.IsZero() {
			run.OccurredAt = time.Now().UTC()
		}
		var diagnostics *string
		if len(run.Diagnostics) > 0 {
			s := string(run.Diagnostics)
			diagnostics = &s
		}
		if _, err := tx.ExecContext(ctx, query,
			run.ID.String(), run.BatchID.String(), run.VehicleID, string(run.Outcome),
			run.TrimsAssigned, diagnostics, run.Error, run.OccurredAt,
		); err != nil {
			return domain.StorageError(fmt.Sprintf("insert run for %s", run.VehicleID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.StorageError("commit run batch", err)
	}
	return nil
}

// ListByBatch returns the runs of one batch ordered by vehicle id.
func (r *RunRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*ReconcileRun, error) {
	query := `
		SELECT id, batch_id, vehicle_id, outcome, trims_assigned, diagnostics, error, occurred_at
		FROM reconcile_runs
		WHERE batch_id = $1
		ORDER BY vehicle_id
	`
	return r.list(ctx, query, batchID.String())
}

// ListByVehicle returns the most recent runs of one vehicle, newest first.
func (r *RunRepository) ListByVehicle(ctx context.Context, vehicleID string, limit int) ([]*ReconcileRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, batch_id, vehicle_id, outcome, trims_assigned, diagnostics, error, occurred_at
		FROM reconcile_runs
		WHERE vehicle_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	return r.list(ctx, query, vehicleID, limit)
}

func (r *RunRepository) list(ctx context.Context, query string, args ...interface{}) ([]*ReconcileRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StorageError("list runs", err)
	}
	defer rows.Close()

	var runs []*ReconcileRun
	for rows.Next() {
		var (
			id, batchID, outcome string
			diagnostics          sql.NullString
		)
		run := &ReconcileRun{}
		if err := rows.Scan(
			&id, &batchID, &run.VehicleID, &outcome, &run.TrimsAssigned,
			&diagnostics, &run.Error, &run.OccurredAt,
		); err != nil {
			return nil, domain.StorageError("scan run", err)
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, domain.StorageError("parse run id", err)
		}
		if run.BatchID, err = uuid.Parse(batchID); err != nil {
			return nil, domain.StorageError("parse batch id", err)
		}
		run.Outcome = RunOutcome(outcome)
		if diagnostics.Valid {
			run.Diagnostics = json.RawMessage(diagnostics.String)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Repositories bundles all repositories over one database.
type Repositories struct {
	Catalogs  *CatalogRepository
	Summaries *SummaryRepository
	Runs      *RunRepository
}

// NewRepositories creates all repositories.
func NewRepositories(db TxDB) *Repositories {
	return &Repositories{
		Catalogs:  NewCatalogRepository(db),
		Summaries: NewSummaryRepository(db),
		Runs:      NewRunRepository(db),
	}
}

// upsertDocuments writes vehicle_id/document rows into table in one transaction.
func upsertDocuments(ctx context.Context, db TxDB, table string, docs map[string]string) error {
	if len(docs) == 0 {
		return nil
	}
	return withRetry(ctx, DefaultRetryConfig, func() error {
		return upsertDocumentsTx(ctx, db, table, docs)
	})
}

func upsertDocumentsTx(ctx context.Context, db TxDB, table string, docs map[string]string) error {

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError("begin "+table, err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO ` + table + ` (vehicle_id, document, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	for id, doc := range docs {
		if _, err := tx.ExecContext(ctx, query, id, doc, now); err != nil {
			return domain.StorageError(fmt.Sprintf("upsert %s %s", table, id), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.StorageError("commit "+table, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCatalog(rows rowScanner) (*CatalogRecord, error) {
	var doc []byte
	record := &CatalogRecord{}
	if err := rows.Scan(&record.VehicleID, &doc, &record.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, &record.Entry); err != nil {
		return nil, fmt.Errorf("decode catalog entry %s: %w", record.VehicleID, err)
	}
	return record, nil
}

func scanSummary(rows rowScanner) (*SummaryRecord, error) {
	var doc []byte
	record := &SummaryRecord{}
	if err := rows.Scan(&record.VehicleID, &doc, &record.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, &record.Summary); err != nil {
		return nil, fmt.Errorf("decode vehicle summary %s: %w", record.VehicleID, err)
	}
	return record, nil
}

func forEachChunk(ids []string, fn func([]string) error) error {
	for start := 0; start < len(ids); start += maxInArgs {
		end := start + maxInArgs
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}

func stringArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
