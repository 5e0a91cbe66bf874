package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// registers the "pgx" database/sql driver used by the migration handle
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite.sql
var sqliteSchema string

// MigratePostgres applies every pending up migration to the database behind dsn.
func MigratePostgres(ctx context.Context, dsn string) error {
	if dsn == "" {
		return persistErr("migrate", errors.New("database.dsn is required"))
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return persistErr("migrate", fmt.Errorf("open migration connection: %w", err))
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return persistErr("migrate", fmt.Errorf("ping database: %w", err))
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return persistErr("migrate", fmt.Errorf("create postgres driver: %w", err))
	}

	source, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return persistErr("migrate", fmt.Errorf("load embedded migrations: %w", err))
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return persistErr("migrate", fmt.Errorf("create migrate instance: %w", err))
	}

	upErr := m.Up()
	sourceErr, dbErr := m.Close()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return persistErr("migrate", fmt.Errorf("apply migrations: %w", upErr))
	}
	if sourceErr != nil {
		return persistErr("migrate", fmt.Errorf("migration source: %w", sourceErr))
	}
	if dbErr != nil {
		return persistErr("migrate", fmt.Errorf("migration database: %w", dbErr))
	}
	return nil
}
