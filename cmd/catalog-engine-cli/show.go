package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/catalog-engine/internal/storage"
)

// newShowCmd creates the show subcommand.
func newShowCmd() *cobra.Command {
	var (
		vehicleID string
		runLimit  int
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a vehicle's catalog, summary and recent runs",
		Long: `Show prints one vehicle's stored catalog entry, summary and recent
reconcile runs. Without --vehicle it lists the vehicles in the catalog.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			ui := NewUI(outputJSON, false)

			db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			repos := storage.NewRepositories(db)

			if vehicleID == "" {
				return listVehicles(ctx, ui, repos)
			}

			entry, err := repos.Catalogs.Get(ctx, vehicleID)
			if errors.Is(err, storage.ErrNotFound) {
				ui.Error("Vehicle %s has no catalog entry", vehicleID)
				return err
			}
			if err != nil {
				return err
			}

			summary, err := repos.Summaries.Get(ctx, vehicleID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}

			runs, err := repos.Runs.ListByVehicle(ctx, vehicleID, runLimit)
			if err != nil {
				return err
			}

			if outputJSON {
				return writeJSON(map[string]interface{}{
					"catalog": entry,
					"summary": summary,
					"runs":    runs,
				})
			}

			ui.Section("Catalog: " + vehicleID)
			ui.KeyValue("Updated", entry.UpdatedAt.Format(time.RFC3339))
			ui.Newline()
			var rows [][]string
			for _, sm := range entry.Entry.SubModels {
				def := ""
				if sm.IsDefault {
					def = "*"
				}
				if len(sm.Trims) == 0 {
					rows = append(rows, []string{sm.ID, sm.Name, string(sm.FuelTag), def, "-", "-"})
					continue
				}
				for _, t := range sm.Trims {
					rows = append(rows, []string{sm.ID, sm.Name, string(sm.FuelTag), def, t.Name, FormatWon(t.Price)})
				}
			}
			ui.Table([]string{"SUB-MODEL", "NAME", "FUEL", "DEFAULT", "GRADE", "PRICE"}, rows)

			ui.Section("Summary")
			if summary == nil {
				ui.Warning("No summary stored")
			} else {
				ui.KeyValue("Start price", FormatWon(summary.Summary.StartPrice))
				ui.KeyValue("Grade count", summary.Summary.GradeCount)
				ui.KeyValue("Default grades", len(summary.Summary.Trims))
			}

			ui.Section("Recent runs")
			if len(runs) == 0 {
				ui.Info("No runs recorded")
				return nil
			}
			runRows := make([][]string, 0, len(runs))
			for _, r := range runs {
				note := ""
				if r.Error != nil {
					note = *r.Error
				}
				runRows = append(runRows, []string{
					r.OccurredAt.Local().Format("2006-01-02 15:04:05"),
					string(r.Outcome),
					strconv.Itoa(r.TrimsAssigned),
					note,
				})
			}
			ui.Table([]string{"WHEN", "OUTCOME", "TRIMS", "ERROR"}, runRows)
			return nil
		},
	}

	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "vehicle id (omit to list vehicles)")
	cmd.Flags().IntVar(&runLimit, "runs", 10, "number of recent runs to show")

	return cmd
}

func listVehicles(ctx context.Context, ui *UI, repos *storage.Repositories) error {
	ids, err := repos.Catalogs.ListVehicleIDs(ctx)
	if err != nil {
		return err
	}
	if outputJSON {
		if ids == nil {
			ids = []string{}
		}
		return writeJSON(map[string]interface{}{"vehicles": ids})
	}
	if len(ids) == 0 {
		ui.Info("Catalog is empty")
		return nil
	}
	ui.Section(fmt.Sprintf("%d vehicles", len(ids)))
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
