package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical-ai/catalog-engine/internal/config"
	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// Open connects to the database selected by cfg and pings it.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case "sqlite":
		db, err = sql.Open("sqlite3", cfg.SQLite.Path+"?_foreign_keys=on&_busy_timeout=5000")
		if err != nil {
			return nil, domain.StorageError("open sqlite", err)
		}
		maxOpen := cfg.SQLite.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 1
		}
		db.SetMaxOpenConns(maxOpen)
	case "postgres":
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, domain.StorageError("open postgres", err)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown database driver %q", cfg.Driver), nil)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, domain.StorageError("ping "+cfg.Driver, err)
	}
	return db, nil
}
