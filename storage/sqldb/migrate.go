package sqldb

import (
	"embed"
	"errors"
	"fmt"

	"github.com/RogueTeam/8ball/storage"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrations embed.FS

func newMigrate(db *sqlx.DB, driver storage.Driver) (m *migrate.Migrate, err error) {
	source, err := iofs.New(migrations, "migrations/"+string(driver))
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}

	var instance database.Driver
	switch driver {
	case storage.DriverPostgres:
		instance, err = postgres.WithInstance(db.DB, &postgres.Config{})
	case storage.DriverSqlite:
		instance, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err = migrate.NewWithInstance("iofs", source, string(driver), instance)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migration instance: %w", err)
	}
	return m, nil
}

// Migrate applies every pending migration. It reports whether anything changed
func Migrate(db *sqlx.DB, driver storage.Driver) (applied bool, err error) {
	m, err := newMigrate(db, driver)
	if err != nil {
		return false, err
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return true, nil
}

// Rollback reverts the last applied migration
func Rollback(db *sqlx.DB, driver storage.Driver) (err error) {
	m, err := newMigrate(db, driver)
	if err != nil {
		return err
	}

	err = m.Steps(-1)
	if err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	return nil
}
