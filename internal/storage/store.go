package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"farewatch/internal/config"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// StatusStore keeps the single "current status" record.
type StatusStore interface {
	// LoadStatus returns nil without error when nothing was saved yet.
	LoadStatus(ctx context.Context) (*CheckResult, error)
	SaveStatus(ctx context.Context, result CheckResult) error
}

// HistoryStore keeps the append-only price history, oldest first.
type HistoryStore interface {
	LoadHistory(ctx context.Context) ([]HistoryEntry, error)
	AppendHistory(ctx context.Context, entry HistoryEntry) error
}

// ResultStore aggregates status and history persistence.
type ResultStore interface {
	StatusStore
	HistoryStore
	Close() error
}

// Open builds the result store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (ResultStore, error) {
	switch cfg.Driver {
	case config.DriverFile, "":
		return NewFileStore(cfg.DataDir)
	case config.DriverSQLite:
		return NewSQLite(cfg.SQLitePath)
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		store := NewPostgres(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
