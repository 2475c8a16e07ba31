package postgres

import (
	"context"
	"fmt"

	"ledger-mirror/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Pool is the part of *pgxpool.Pool the adapters use. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ Pool = (*pgxpool.Pool)(nil)

// NewPool creates a PostgreSQL connection pool using pgx.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("dbname", cfg.DBName).
		Int32("max_conns", cfg.MaxConns).
		Msg("PostgreSQL connection pool established")

	return pool, nil
}

const schema = `CREATE TABLE IF NOT EXISTS ledger_entries (
	contract    TEXT           NOT NULL,
	sequence    BIGINT         NOT NULL,
	sender      TEXT           NOT NULL,
	amount      NUMERIC(78, 0) NOT NULL,
	created_at  BIGINT         NOT NULL,
	text        TEXT           NOT NULL,
	source      TEXT           NOT NULL,
	archived_at TIMESTAMPTZ    NOT NULL DEFAULT now(),
	PRIMARY KEY (contract, sequence)
)`

// EnsureSchema creates the archive table if it does not exist.
func EnsureSchema(ctx context.Context, pool Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating ledger_entries: %w", err)
	}
	return nil
}
