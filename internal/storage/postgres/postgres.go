// Package postgres implements the pipeline stores on Postgres through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Pool is the subset of pgxpool.Pool used by the stores. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Tables names the tables used by each store.
type Tables struct {
	Domains     string `mapstructure:"domains"`
	Tokens      string `mapstructure:"tokens"`
	Feed        string `mapstructure:"feed"`
	WarningFeed string `mapstructure:"warning_feed"`
}

// DefaultTables matches the embedded migrations.
func DefaultTables() Tables {
	return Tables{
		Domains:     "domains",
		Tokens:      "tokens",
		Feed:        "feed",
		WarningFeed: "domain_warning_feed",
	}
}

func (t Tables) withDefaults() Tables {
	d := DefaultTables()
	if t.Domains == "" {
		t.Domains = d.Domains
	}
	if t.Tokens == "" {
		t.Tokens = d.Tokens
	}
	if t.Feed == "" {
		t.Feed = d.Feed
	}
	if t.WarningFeed == "" {
		t.WarningFeed = d.WarningFeed
	}
	return t
}

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Tables          Tables
}

// Connect opens a pgx pool for cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
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
	return pool, nil
}

// Stores bundles every store over one pool.
type Stores struct {
	Domains  *DomainStore
	Tokens   *TokenStore
	Feed     *FeedStore
	Warnings *WarningFeedStore

	pool Pool
}

// Open connects and builds all stores.
func Open(ctx context.Context, cfg Config) (*Stores, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	stores, err := NewStores(pool, cfg.Tables)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return stores, nil
}

// NewStores builds all stores on an existing pool.
func NewStores(pool Pool, tables Tables) (*Stores, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	tables = tables.withDefaults()
	for _, name := range []string{tables.Domains, tables.Tokens, tables.Feed, tables.WarningFeed} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &Stores{
		Domains:  &DomainStore{pool: pool, table: tables.Domains},
		Tokens:   &TokenStore{pool: pool, table: tables.Tokens},
		Feed:     &FeedStore{pool: pool, table: tables.Feed},
		Warnings: &WarningFeedStore{pool: pool, table: tables.WarningFeed},
		pool:     pool,
	}, nil
}

// Ping checks connectivity.
func (s *Stores) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Stores) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func count(ctx context.Context, pool Pool, table string) (int, error) {
	var n int64
	if err := pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return int(n), nil
}

// Migrate applies the embedded migrations when the pool supports transactions.
func (s *Stores) Migrate(ctx context.Context, logger *zap.Logger) ([]string, error) {
	m, ok := s.pool.(Migrator)
	if !ok {
		return nil, errors.New("pool cannot run migrations")
	}
	return Migrate(ctx, m, logger)
}
