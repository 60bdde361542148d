package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql

	"github.com/marmos91/ckptfs/internal/logger"
	"github.com/marmos91/ckptfs/pkg/backup/ledger/migrations"
)

// migrateTimeout bounds connecting to postgres and applying migrations.
const migrateTimeout = time.Minute

// migrationsTable keeps ckptfs migrations apart from other schemas in a
// shared database.
const migrationsTable = "ckptfs_schema_migrations"

// runMigrations brings the postgres schema up to date. golang-migrate takes
// an advisory lock, so hosts sharing the database can start together.
func runMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open ledger database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach ledger database: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to load ledger migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Debug("ledger schema up to date")
	case err != nil:
		return fmt.Errorf("ledger migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read ledger schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("ledger schema version %d is dirty", version)
	}
	logger.Info("ledger schema ready", "version", version)
	return nil
}
