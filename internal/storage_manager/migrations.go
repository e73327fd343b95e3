package storage_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations brings the storage schema up to date on pool.
func RunMigrations(pool *pgxpool.Pool, log logger.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("create embedded migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "storage_schema_migrations"})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = migrator.Close() }()

	log.Info("Applying storage migrations")
	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("Storage schema already current")
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("Storage migrations applied")
	return nil
}
