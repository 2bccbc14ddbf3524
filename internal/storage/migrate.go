package storage

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Schema migrations are embedded per backend so deployment needs no external
// files. The two directories carry the same logical schema expressed in each
// dialect; filenames follow golang-migrate's NNN_name.(up|down).sql pairing.
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies all pending embedded migrations for the connection's
// backend. Already-applied migrations are a no-op.
func Migrate(conn *Connection) error {
	var (
		driver database.Driver
		err    error
	)

	switch conn.driver {
	case driverPostgres:
		driver, err = migratepg.WithInstance(conn.DB, &migratepg.Config{})
	case driverSQLite:
		driver, err = migratesqlite.WithInstance(conn.DB, &migratesqlite.Config{})
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDriver, conn.driver)
	}

	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+conn.driver)
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, conn.driver, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
