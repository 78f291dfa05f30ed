package sqlitedb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var currentMigrations embed.FS

//go:embed migrations_history/*.sql
var historyMigrations embed.FS

// Migrate applies every pending schema migration to both current.db and
// history.db. It is idempotent; re-running against an up-to-date database
// is a no-op.
func (d *DB) Migrate() error {
	if err := applyEmbedded(d.Write, currentMigrations, "migrations"); err != nil {
		return fmt.Errorf("migrate current.db: %w", err)
	}
	if err := applyEmbedded(d.History, historyMigrations, "migrations_history"); err != nil {
		return fmt.Errorf("migrate history.db: %w", err)
	}
	return nil
}

func applyEmbedded(db *sql.DB, fsys embed.FS, dir string) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("build sqlite3 migration driver: %w", err)
	}

	source, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("open embedded migration source %q: %w", dir, err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
