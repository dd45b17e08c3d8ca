package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// SQLite implements ResultStore on an embedded SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates the database at dbPath and migrates it.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dbPath == "" {
		return nil, ErrNotConfigured
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) LoadStatus(ctx context.Context) (*CheckResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM check_status WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load status: %w", err)
	}

	var result CheckResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &result, nil
}

func (s *SQLite) SaveStatus(ctx context.Context, result CheckResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO check_status (id, payload, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   payload = excluded.payload,
		   updated_at = excluded.updated_at`,
		string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

func (s *SQLite) LoadHistory(ctx context.Context) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT checked_at, price, currency, airlines FROM price_history ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	history := make([]HistoryEntry, 0)
	for rows.Next() {
		var checkedAt, price string
		var entry HistoryEntry
		if err := rows.Scan(&checkedAt, &price, &entry.Currency, &entry.Airlines); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if entry.Timestamp, err = time.Parse(time.RFC3339Nano, checkedAt); err != nil {
			return nil, fmt.Errorf("parse checked_at: %w", err)
		}
		if entry.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		history = append(history, entry)
	}
	return history, rows.Err()
}

func (s *SQLite) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_history (checked_at, price, currency, airlines) VALUES (?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.Price.String(), entry.Currency, entry.Airlines,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ ResultStore = (*SQLite)(nil)
