// Package store provides the Postgres-backed market store.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polywatch/marketd/internal/clock"
	"github.com/polywatch/marketd/internal/model"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MarketStore is the persistence contract shared by the scrape loop and the
// read API. Upsert must be atomic per key; it must not assume a single caller.
type MarketStore interface {
	Upsert(ctx context.Context, m model.Market) (isNew bool, err error)
	GetByID(ctx context.Context, id string) (*model.Market, error)
	List(ctx context.Context, limit, offset int) ([]model.Market, int64, error)
	ListSince(ctx context.Context, since time.Time) ([]model.Market, error)
	CountMarkets(ctx context.Context) (int64, error)
}

// Config controls the Postgres connection pool used for market rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store reads and writes market rows in Postgres.
type Store struct {
	pool  dbPool
	table string
	clock clock.Clock
}

// New creates a Postgres-backed Store using the provided config. The
// connection is verified with a ping so startup fails fast when the database
// is unreachable.
func New(ctx context.Context, cfg Config, clk clock.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "markets"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, table: table, clock: clk}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool, table string, clk clock.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "markets"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table, clock: clk}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the markets table and its index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	current_price DOUBLE PRECISION,
	volume DOUBLE PRECISION,
	end_date TEXT,
	discovered_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	idx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_discovered_at ON %s (discovered_at DESC)`,
		s.table, s.table,
	)
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Upsert inserts the market or updates the existing row for its id. The
// insert-or-update is a single statement, so concurrent callers for the same
// id cannot race a duplicate insert. discovered_at is written only on first
// insert and preserved on every update; updated_at is set on both paths.
// Returns whether the row was newly inserted (xmax is zero only for rows the
// inserting transaction created).
func (s *Store) Upsert(ctx context.Context, m model.Market) (bool, error) {
	if !m.Valid() {
		return false, fmt.Errorf("market id is required")
	}
	now := s.clock.Now()
	query := fmt.Sprintf(`
INSERT INTO %s (id, title, description, current_price, volume, end_date, discovered_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	current_price = EXCLUDED.current_price,
	volume = EXCLUDED.volume,
	end_date = EXCLUDED.end_date,
	updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0)`, s.table)

	var isNew bool
	err := s.pool.QueryRow(ctx, query,
		m.ID,
		m.Title,
		m.Description,
		m.CurrentPrice,
		m.Volume,
		m.EndDate,
		now,
		now,
	).Scan(&isNew)
	if err != nil {
		return false, fmt.Errorf("upsert market %s: %w", m.ID, err)
	}
	return isNew, nil
}

// GetByID returns the market for id, or nil when no row exists.
func (s *Store) GetByID(ctx context.Context, id string) (*model.Market, error) {
	query := fmt.Sprintf(`
SELECT id, title, description, current_price, volume, end_date, discovered_at, updated_at
FROM %s
WHERE id = $1`, s.table)

	m, err := scanMarket(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return &m, nil
}

// List returns a page of markets ordered by discovery time descending, along
// with the total row count.
func (s *Store) List(ctx context.Context, limit, offset int) ([]model.Market, int64, error) {
	query := fmt.Sprintf(`
SELECT id, title, description, current_price, volume, end_date, discovered_at, updated_at
FROM %s
ORDER BY discovered_at DESC
LIMIT $1 OFFSET $2`, s.table)

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list markets: %w", err)
	}
	markets, err := collectMarkets(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list markets: %w", err)
	}

	total, err := s.CountMarkets(ctx)
	if err != nil {
		return nil, 0, err
	}
	return markets, total, nil
}

// ListSince returns markets discovered at or after since, newest first.
func (s *Store) ListSince(ctx context.Context, since time.Time) ([]model.Market, error) {
	query := fmt.Sprintf(`
SELECT id, title, description, current_price, volume, end_date, discovered_at, updated_at
FROM %s
WHERE discovered_at >= $1
ORDER BY discovered_at DESC`, s.table)

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("list markets since: %w", err)
	}
	markets, err := collectMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("list markets since: %w", err)
	}
	return markets, nil
}

// CountMarkets returns the total number of stored markets.
func (s *Store) CountMarkets(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)
	var total int64
	if err := s.pool.QueryRow(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("count markets: %w", err)
	}
	return total, nil
}

func scanMarket(row pgx.Row) (model.Market, error) {
	var (
		m            model.Market
		discoveredAt time.Time
		updatedAt    time.Time
	)
	err := row.Scan(
		&m.ID,
		&m.Title,
		&m.Description,
		&m.CurrentPrice,
		&m.Volume,
		&m.EndDate,
		&discoveredAt,
		&updatedAt,
	)
	if err != nil {
		return model.Market{}, err
	}
	m.DiscoveredAt = &discoveredAt
	m.UpdatedAt = &updatedAt
	return m, nil
}

func collectMarkets(rows pgx.Rows) ([]model.Market, error) {
	defer rows.Close()
	markets := []model.Market{}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return markets, nil
}
