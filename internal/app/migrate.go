package app

import (
	"context"
	"fmt"

	"fxreport/internal/storage"
)

// Migrate applies the schema for the configured backend.
func (a *App) Migrate(ctx context.Context) error {
	db := a.Config.Database
	switch db.Driver {
	case "sqlite", "sqlite3":
		store, err := storage.OpenSQLite(ctx, db.DSN)
		if err != nil {
			return err
		}
		store.Close()
	default:
		if db.DSN == "" {
			return fmt.Errorf("database.dsn: %w", storage.ErrNotConfigured)
		}
		if err := storage.MigratePostgres(ctx, db.DSN); err != nil {
			return err
		}
	}
	a.Logger.Info().Str("driver", db.Driver).Msg("schema up to date")
	return nil
}
