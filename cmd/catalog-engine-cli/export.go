package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/catalog-engine/internal/export"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

// newExportCmd creates the export subcommand.
func newExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the catalog to an Excel workbook",
		Long: `Export writes every stored catalog entry and vehicle summary to an .xlsx
workbook: one row per grade on the catalog sheet, one row per vehicle on the
summary sheet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			ui := NewUI(outputJSON, false)

			db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			repos := storage.NewRepositories(db)

			spin := ui.Spinner("Loading catalog...")
			spin.Start()
			entries, err := repos.Catalogs.List(ctx)
			if err != nil {
				spin.Stop()
				return err
			}
			summaries, err := repos.Summaries.List(ctx)
			spin.Stop()
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}

			exporter := export.NewExporter(export.Options{
				CatalogSheet: cfg.Export.CatalogSheet,
				SummarySheet: cfg.Export.SummarySheet,
			})
			if err := exporter.WriteCatalog(f, entries, summaries); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", out, err)
			}

			logger.Info().
				Str("file", out).
				Int("vehicles", len(entries)).
				Msg("Catalog exported")

			if outputJSON {
				return writeJSON(map[string]interface{}{
					"file":      out,
					"vehicles":  len(entries),
					"summaries": len(summaries),
				})
			}
			ui.Success("Exported %d vehicle(s) to %s", len(entries), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output .xlsx path")

	return cmd
}
