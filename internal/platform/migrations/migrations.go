// Package migrations applies embedded SQL migrations with golang-migrate.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// PlatformTable records the platform schema version.
const PlatformTable = "ajax_schema_migrations"

//go:embed sql
var platformFS embed.FS

// Platform returns the users, api key and tag tables for driver.
func Platform(driver string) (fs.FS, string) {
	return platformFS, path.Join("sql", driver)
}

// ApplyPlatform migrates the platform tables.
func ApplyPlatform(ctx context.Context, db *sql.DB, driver string) error {
	fsys, dir := Platform(driver)
	return Apply(ctx, db, driver, fsys, dir, PlatformTable)
}

// Apply runs every pending up migration found in dir of fsys. The version is
// tracked in table so independent migration sets can share a database.
// The database handle stays open and no connection is held after return.
func Apply(ctx context.Context, db *sql.DB, driver string, fsys fs.FS, dir, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("migration source %s: %w", dir, err)
	}

	var target database.Driver
	switch driver {
	case "postgres":
		// The postgres driver pins a connection for its advisory lock; own it
		// so it goes back to the pool when the run ends.
		conn, cerr := db.Conn(ctx)
		if cerr != nil {
			return fmt.Errorf("migration connection: %w", cerr)
		}
		defer conn.Close()
		target, err = postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: table})
	case "sqlite":
		target, err = sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: table})
	default:
		return fmt.Errorf("migrations: unsupported driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("migration driver %s: %w", driver, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply %s migrations: %w", table, err)
	}
	return nil
}
