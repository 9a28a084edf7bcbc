// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names.
const (
	DefaultSitesTable = "sites"
	DefaultPagesTable = "pages"
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	SitesTable      string
	PagesTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store persists site and page records in Postgres.
type Store struct {
	pool  pool
	sites string
	pages string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pgPool, cfg.SitesTable, cfg.PagesTable)
	if err != nil {
		pgPool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, sitesTable, pagesTable string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if sitesTable == "" {
		sitesTable = DefaultSitesTable
	}
	if pagesTable == "" {
		pagesTable = DefaultPagesTable
	}
	for _, table := range []string{sitesTable, pagesTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{pool: p, sites: sitesTable, pages: pagesTable}, nil
}

// Migrate creates the site and page tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	status_time TIMESTAMPTZ NOT NULL,
	last_error  TEXT NOT NULL DEFAULT ''
)`, s.sites),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id      BIGSERIAL PRIMARY KEY,
	site_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
	path    TEXT NOT NULL,
	code    INTEGER NOT NULL,
	content TEXT NOT NULL
)`, s.pages, s.sites),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_site_id_idx ON %s (site_id)`, s.pages, s.pages),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
