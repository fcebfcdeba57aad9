// Package migrations applies the embedded SQLite schema for the task store.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"photopipe/internal/logging"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

// Migrator runs schema migrations against an open database handle.
type Migrator struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewMigrator creates a migrator for db.
func NewMigrator(db *sql.DB, logger *slog.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Migrator{db: db, logger: logger}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	inst, closeSource, err := m.instance()
	defer closeSource()
	if err != nil {
		return err
	}
	if err := inst.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := inst.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty; restore the database from backup or delete it", version)
	}
	m.logger.Debug("task store schema ready", logging.Int("version", int(version)))
	return nil
}

// Down reverts every migration.
func (m *Migrator) Down() error {
	inst, closeSource, err := m.instance()
	defer closeSource()
	if err != nil {
		return err
	}
	if err := inst.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("revert migrations: %w", err)
	}
	return nil
}

func (m *Migrator) instance() (*migrate.Migrate, func(), error) {
	closeSource := func() {}

	driver, err := sqlite3.WithInstance(m.db, &sqlite3.Config{})
	if err != nil {
		return nil, closeSource, fmt.Errorf("create migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "sql")
	if err != nil {
		return nil, closeSource, fmt.Errorf("open embedded migrations: %w", err)
	}
	closeSource = func() {
		if err := src.Close(); err != nil {
			m.logger.Warn("close migration source failed", logging.Error(err))
		}
	}

	inst, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, closeSource, fmt.Errorf("create migration instance: %w", err)
	}
	return inst, closeSource, nil
}
