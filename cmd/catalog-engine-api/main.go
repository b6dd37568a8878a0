// Package main provides the catalog engine API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/spherical-ai/catalog-engine/internal/batch"
	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/config"
	"github.com/spherical-ai/catalog-engine/internal/monitoring"
	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/reconcile"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Msg("Starting catalog engine API")

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Server exited")
		os.Exit(1)
	}
	logger.Info().Msg("Server stopped")
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.Migrate(ctx, db); err != nil {
		return err
	}

	cacheClient, err := cache.New(cfg.Cache)
	if err != nil {
		return err
	}
	defer cacheClient.Close()

	repos := storage.NewRepositories(db)
	recorder := monitoring.NewRunRecorder(logger, repos.Runs, monitoring.RecorderConfig{
		BufferSize:         1000,
		FlushInterval:      cfg.Server.GracefulShutdown / 2,
		EnableAsync:        true,
		IncludeDiagnostics: true,
	})

	engine := reconcile.NewEngine(logger, reconcile.Options{
		ExtraSkipKeywords: cfg.Reconcile.SkipKeywords,
	})
	runner := batch.NewRunner(logger, engine, repos.Catalogs, repos.Summaries, cacheClient, recorder, batch.Config{
		Workers:        cfg.Reconcile.Workers,
		SkipUnchanged:  cfg.Reconcile.SkipUnchanged,
		FingerprintTTL: cfg.Cache.TTL,
		EventsChannel:  cfg.Reconcile.EventsChannel,
	})

	router := NewRouter(logger, Deps{
		Catalogs:       repos.Catalogs,
		Summaries:      repos.Summaries,
		Runner:         runner,
		Runs:           repos.Runs,
		DB:             db,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	// Wait for interrupt or error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case err := <-serverErrors:
		serveErr = err
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	if err := recorder.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Run records not fully written")
	}

	if serveErr != nil && serveErr != http.ErrServerClosed {
		return serveErr
	}
	return nil
}
