// Package main provides the catalog engine CLI entrypoint.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/config"
	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

const version = "0.3.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	verbose    bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "catalog-engine-cli",
	Short: "Catalog engine CLI for trim reconciliation and review",
	Long: `Catalog engine CLI reconciles collected price-list sections into the
lease catalog.

Use this tool to:
- Apply collected sections to catalog entries and vehicle summaries
- Preview a run without writing anything (--dry-run)
- Inspect a vehicle's stored catalog, summary and run history
- Export the catalog to an Excel workbook for review

All commands support --json for automation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		if outputJSON {
			logFormat = "json"
		}
		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      logFormat,
			Output:      os.Stderr,
			ServiceName: "catalog-engine-cli",
		})

		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newReconcileCmd())
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the catalog tables",
		Long: `Create the catalog_entries, vehicle_summaries and reconcile_runs tables
on the configured database. Safe to run repeatedly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			ui := NewUI(outputJSON, false)

			db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := storage.Migrate(ctx, db); err != nil {
				return err
			}

			logger.Info().
				Str("driver", cfg.Database.Driver).
				Msg("Migrations applied")

			if outputJSON {
				return writeJSON(map[string]string{"status": "ok", "driver": cfg.Database.Driver})
			}
			ui.Success("Migrations applied on %s", cfg.Database.Driver)
			return nil
		},
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// version needs neither config nor logger
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputJSON {
				return writeJSON(map[string]string{
					"version": version,
					"go":      runtime.Version(),
				})
			}
			fmt.Printf("catalog-engine-cli v%s\n", version)
			return nil
		},
	}
}

// openDatabase connects to the configured database.
func openDatabase(ctx context.Context) (*sql.DB, error) {
	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Debug().
		Str("driver", cfg.Database.Driver).
		Msg("Database opened")
	return db, nil
}

// openCache builds the fingerprint cache, falling back to memory when redis
// cannot be reached.
func openCache() cache.Client {
	client, err := cache.New(cfg.Cache)
	if err != nil {
		logger.Warn().Err(err).Msg("Cache unavailable, using in-memory cache")
		return cache.NewMemoryClient(cfg.Cache.MaxEntries)
	}
	return client
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
