package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// runMigrations applies the embedded SQL migrations, following the
// teacher's pkg/database/client.go pattern exactly: build an iofs source
// over the embedded directory, a postgres database instance over the
// *already open* pool, then Up(). The migrate instance's own db handle must
// not be closed here (that would close d.sql out from under bun).
func (d *DB) runMigrations(cfg *Config) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(d.sql, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	// Intentionally do not call m.Close(): it would close d.sql, which is
	// shared with the bun.DB returned to the rest of the process.
	return nil
}
