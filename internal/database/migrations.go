package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/001_init_schema.sql
var migrationSQL string

// RunMigrations applies the schema on every startup. Each statement is
// IF NOT EXISTS, so reruns only add what is missing.
func RunMigrations(ctx context.Context, db *pgxpool.Pool, log *zap.Logger) error {
	log.Info("running database migrations")

	if _, err := db.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("database migrations completed")
	return nil
}
