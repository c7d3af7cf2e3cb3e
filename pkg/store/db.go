package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// DB wraps *bun.DB and the underlying *sql.DB, mirroring the teacher's
// database.Client pairing of a generated client with its connection pool
// (pkg/database/client.go). The two must share a single pool: closing the
// inner *sql.DB independently of DB.Close would orphan in-flight bun
// queries the same way the teacher warns against closing the migrate
// source's db handle separately.
type DB struct {
	Bun *bun.DB
	sql *sql.DB
}

// NewDB opens the connection pool, wraps it with bun's Postgres dialect and
// runs embedded migrations, matching the teacher's NewClient control flow:
// build DSN -> open *sql.DB -> configure pool -> wrap with the ORM -> run
// migrations -> return.
func NewDB(ctx context.Context, cfg *Config, debug bool) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN())))
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqldb.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	bundb := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		bundb.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	d := &DB{Bun: bundb, sql: sqldb}

	if err := d.runMigrations(cfg); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("connected to database", "host", cfg.Host, "database", cfg.Database)
	return d, nil
}

// Close shuts down the shared connection pool. Do not close the *sql.DB
// obtained from migrate's source separately — see runMigrations.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Health runs a cheap round-trip query, used by the /health endpoint.
func (d *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var one int
	return d.Bun.NewSelect().ColumnExpr("1").Scan(ctx, &one)
}
