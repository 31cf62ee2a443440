package infra

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed schema
var schemaFS embed.FS

// Schema names accepted by Migrate. Each one owns a directory of versioned
// migrations under schema/ and its own migrations table, so both services can
// share a database.
const (
	SchemaLedger   = "ledger"
	SchemaTransfer = "transfer"
)

// MigrationsTable returns the golang-migrate bookkeeping table for a schema.
func MigrationsTable(name string) string {
	return "schema_migrations_" + name
}

// Migrate brings the named schema up to its latest version. An up-to-date
// schema is not an error. A dirty schema needs manual repair and is reported.
func Migrate(ctx context.Context, db *pgxpool.Pool, name string) error {
	dir := "schema/" + name
	if _, err := fs.ReadDir(schemaFS, dir); err != nil {
		return fmt.Errorf("read schema %s: %w", name, err)
	}
	if db == nil {
		return fmt.Errorf("migrate %s: database is required", name)
	}

	src, err := iofs.New(schemaFS, dir)
	if err != nil {
		return fmt.Errorf("read schema %s: %w", name, err)
	}

	sqlDB := stdlib.OpenDBFromPool(db)
	driver, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{MigrationsTable: MigrationsTable(name)})
	if err != nil {
		_ = src.Close()
		_ = sqlDB.Close()
		return fmt.Errorf("migrate %s: open driver: %w", name, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()
		return fmt.Errorf("migrate %s: %w", name, err)
	}
	defer m.Close() // nolint:errcheck

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("migrate %s: schema is dirty at version %d: %w", name, dirty.Version, err)
		}
		return fmt.Errorf("migrate %s: %w", name, err)
	}
	return nil
}
