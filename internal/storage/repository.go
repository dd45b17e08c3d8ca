package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS check_status (
        id         SMALLINT PRIMARY KEY CHECK (id = 1),
        payload    JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS price_history (
        id         BIGSERIAL PRIMARY KEY,
        checked_at TIMESTAMPTZ NOT NULL,
        price      NUMERIC NOT NULL,
        currency   TEXT NOT NULL DEFAULT '',
        airlines   TEXT NOT NULL DEFAULT ''
    );
    CREATE INDEX IF NOT EXISTS idx_price_history_checked_at ON price_history (checked_at);`

	upsertStatusSQL = `INSERT INTO check_status (id, payload, updated_at)
    VALUES (1, $1, now())
    ON CONFLICT (id) DO UPDATE
    SET payload    = EXCLUDED.payload,
        updated_at = EXCLUDED.updated_at;`

	selectStatusSQL = `SELECT payload FROM check_status WHERE id = 1;`

	insertHistorySQL = `INSERT INTO price_history (
        checked_at,
        price,
        currency,
        airlines
    ) VALUES (
        $1,$2,$3,$4
    );`

	listHistorySQL = `SELECT
        checked_at,
        price::text,
        currency,
        airlines
    FROM price_history
    ORDER BY id;`
)

// Postgres persists results in PostgreSQL, which survives stateless
// deployments where the local filesystem does not.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables when they are missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// LoadStatus reads the current status row.
func (s *Postgres) LoadStatus(ctx context.Context) (*CheckResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var payload []byte
	if scanErr := pool.QueryRow(ctx, selectStatusSQL).Scan(&payload); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load status: %w", scanErr)
	}

	var result CheckResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &result, nil
}

// SaveStatus upserts the current status row.
func (s *Postgres) SaveStatus(ctx context.Context, result CheckResult) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	if _, execErr := pool.Exec(ctx, upsertStatusSQL, payload); execErr != nil {
		return fmt.Errorf("save status: %w", execErr)
	}
	return nil
}

// AppendHistory inserts one history row.
func (s *Postgres) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertHistorySQL,
		entry.Timestamp.UTC(),
		entry.Price.String(),
		entry.Currency,
		entry.Airlines,
	)
	if execErr != nil {
		return fmt.Errorf("append history: %w", execErr)
	}
	return nil
}

// LoadHistory lists every history row, oldest first.
func (s *Postgres) LoadHistory(ctx context.Context) ([]HistoryEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistorySQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load history: %w", queryErr)
	}
	defer rows.Close()

	history := make([]HistoryEntry, 0)
	for rows.Next() {
		entry, scanErr := scanHistoryEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		history = append(history, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return history, nil
}

func scanHistoryEntry(rows pgx.Rows) (HistoryEntry, error) {
	var (
		entry    HistoryEntry
		priceStr string
	)

	if err := rows.Scan(
		&entry.Timestamp,
		&priceStr,
		&entry.Currency,
		&entry.Airlines,
	); err != nil {
		return HistoryEntry{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("parse price: %w", err)
	}
	entry.Price = price
	return entry, nil
}

var _ ResultStore = (*Postgres)(nil)
