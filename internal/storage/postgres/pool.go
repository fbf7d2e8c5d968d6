// Package postgres persists runs and result records in Postgres. The stores
// assume tables shaped like:
//
//	CREATE TABLE runs (
//		id           TEXT PRIMARY KEY,
//		status       TEXT NOT NULL,
//		request      JSONB NOT NULL,
//		submitted_at TIMESTAMPTZ NOT NULL,
//		started_at   TIMESTAMPTZ,
//		finished_at  TIMESTAMPTZ,
//		counters     JSONB NOT NULL DEFAULT '{}',
//		error_text   TEXT NOT NULL DEFAULT '',
//		export_uri   TEXT NOT NULL DEFAULT ''
//	);
//
//	CREATE TABLE results (
//		id                 BIGSERIAL PRIMARY KEY,
//		run_id             TEXT NOT NULL REFERENCES runs(id),
//		roll_no            TEXT NOT NULL,
//		name               TEXT NOT NULL,
//		branch             TEXT NOT NULL,
//		grades             JSONB NOT NULL,
//		sgpa               TEXT NOT NULL,
//		cgpa               TEXT NOT NULL,
//		result_description TEXT NOT NULL,
//		UNIQUE (run_id, roll_no)
//	);
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

// Config controls the connection pool shared by the stores.
type Config struct {
	DSN             string
	ResultsTable    string
	RunsTable       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of *pgxpool.Pool the stores use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Connect opens a pgx pool from cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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

func tableName(name, fallback string) (string, error) {
	if name == "" {
		name = fallback
	}
	if !validTableName.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}
