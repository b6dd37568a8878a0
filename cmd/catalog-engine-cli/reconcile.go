package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/catalog-engine/internal/batch"
	"github.com/spherical-ai/catalog-engine/internal/catalog"
	"github.com/spherical-ai/catalog-engine/internal/monitoring"
	"github.com/spherical-ai/catalog-engine/internal/reconcile"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

// newReconcileCmd creates the reconcile subcommand.
func newReconcileCmd() *cobra.Command {
	var (
		sectionsFile string
		vehicleID    string
		dryRun       bool
		force        bool
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Apply collected sections to the catalog",
		Long: `Reconcile reads collected price-list sections and writes the resolved
trims into each vehicle's sub-models, then refreshes the vehicle summary.

The sections file is either a JSON object keyed by vehicle id, or a JSON
array of sections for the single vehicle named by --vehicle.

Use --dry-run to see what would change without writing anything.`,
		Example: `  catalog-engine-cli reconcile --sections batch.json
  catalog-engine-cli reconcile --sections k5.json --vehicle k5 --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sectionsFile == "" {
				return fmt.Errorf("--sections is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			ui := NewUI(outputJSON, false)

			sections, err := readSections(sectionsFile, vehicleID)
			if err != nil {
				return err
			}
			for id, rejectErr := range sections.Rejected {
				logger.Warn().Err(rejectErr).Str("vehicle_id", id).Msg("Malformed sections, vehicle will fail")
			}

			logger.Info().
				Str("file", sectionsFile).
				Int("vehicles", sections.Len()).
				Bool("dry_run", dryRun).
				Msg("Starting reconcile")

			spin := ui.Spinner("Opening catalog store...")
			spin.Start()
			db, err := openDatabase(ctx)
			spin.Stop()
			if err != nil {
				return err
			}
			defer db.Close()

			cacheClient := openCache()
			defer cacheClient.Close()

			repos := storage.NewRepositories(db)
			recorder := monitoring.NewRunRecorder(logger, repos.Runs, monitoring.DefaultRecorderConfig())
			engine := reconcile.NewEngine(logger, reconcile.Options{
				ExtraSkipKeywords: cfg.Reconcile.SkipKeywords,
			})

			bar := ui.ProgressBar("Reconciling", sections.Len())
			runner := batch.NewRunner(logger, engine, repos.Catalogs, repos.Summaries, cacheClient, recorder, batch.Config{
				Workers:        cfg.Reconcile.Workers,
				SkipUnchanged:  cfg.Reconcile.SkipUnchanged,
				FingerprintTTL: cfg.Cache.TTL,
				EventsChannel:  cfg.Reconcile.EventsChannel,
				OnVehicle:      func(batch.VehicleOutcome) { bar.Add() },
			})

			if force && !dryRun {
				if vehicleID != "" {
					err = runner.ForgetFingerprint(ctx, vehicleID)
				} else {
					err = runner.ResetFingerprints(ctx)
				}
				if err != nil {
					return err
				}
			}

			var result *batch.BatchResult
			if dryRun {
				result, err = runner.PreviewBatch(ctx, *sections)
			} else {
				result, err = runner.RunBatch(ctx, *sections)
			}
			bar.Finish()
			if err != nil {
				ui.Error("Reconcile failed: %v", err)
				return err
			}

			if outputJSON {
				return writeJSON(result)
			}
			printBatchResult(ui, result)

			if failed := result.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d vehicle(s) failed", len(failed))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sectionsFile, "sections", "s", "", "path to the collected sections JSON (- for stdin)")
	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "reconcile only this vehicle")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would change without writing")
	cmd.Flags().BoolVar(&force, "force", false, "forget stored fingerprints and reconcile every vehicle")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall timeout")

	return cmd
}

// readSections loads a sections file. An array is one vehicle's sections and
// needs vehicleID; an object is a batch, filtered to vehicleID when set. In a
// batch, vehicles with malformed sections come back in Rejected.
func readSections(path, vehicleID string) (*catalog.SectionBatch, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(bufio.NewReader(os.Stdin))
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read sections: %w", err)
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if vehicleID == "" {
			return nil, fmt.Errorf("%s holds a single section list; --vehicle is required", path)
		}
		sections, err := catalog.DecodeSections(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("vehicle %s: %w", vehicleID, err)
		}
		return &catalog.SectionBatch{Sections: map[string][]catalog.RawSection{vehicleID: sections}}, nil
	}

	all, err := catalog.DecodeSectionBatch(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if vehicleID == "" {
		return all, nil
	}
	if rejectErr, ok := all.Rejected[vehicleID]; ok {
		return &catalog.SectionBatch{Rejected: map[string]error{vehicleID: rejectErr}}, nil
	}
	sections, ok := all.Sections[vehicleID]
	if !ok {
		return nil, fmt.Errorf("vehicle %s not found in %s", vehicleID, path)
	}
	return &catalog.SectionBatch{Sections: map[string][]catalog.RawSection{vehicleID: sections}}, nil
}

func printBatchResult(ui *UI, result *batch.BatchResult) {
	title := "Reconcile"
	if result.DryRun {
		title = "Reconcile (dry run)"
	}
	ui.Section(title)
	ui.KeyValue("Batch", result.BatchID)
	ui.KeyValue("Vehicles", len(result.Vehicles))
	ui.KeyValue("Written", result.Written)
	ui.KeyValue("Duration", FormatDuration(result.Duration))
	ui.Newline()

	rows := make([][]string, 0, len(result.Vehicles))
	for _, v := range result.Vehicles {
		note := v.Error
		if note == "" {
			note = diagnosticSummary(v.Diagnostics)
		}
		rows = append(rows, []string{
			v.VehicleID,
			string(v.Outcome),
			strconv.Itoa(v.TrimsAssigned),
			note,
		})
	}
	ui.Table([]string{"VEHICLE", "OUTCOME", "TRIMS", "NOTES"}, rows)
	ui.Newline()

	switch {
	case len(result.Failed()) > 0:
		ui.Error("%d failed", len(result.Failed()))
	case result.DryRun:
		ui.Info("%d vehicle(s) would change", result.Counts[storage.RunOutcomeUpdated])
	default:
		ui.Success("%d vehicle(s) updated", result.Counts[storage.RunOutcomeUpdated])
	}
}

// diagnosticSummary renders diagnostics as "kind×n" pairs in name order.
func diagnosticSummary(diags []reconcile.Diagnostic) string {
	counts := make(map[reconcile.DiagnosticKind]int)
	for _, d := range diags {
		counts[d.Kind]++
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	parts := make([]string, len(kinds))
	for i, k := range kinds {
		n := counts[reconcile.DiagnosticKind(k)]
		if n == 1 {
			parts[i] = k
		} else {
			parts[i] = fmt.Sprintf("%s×%d", k, n)
		}
	}
	return strings.Join(parts, ", ")
}
