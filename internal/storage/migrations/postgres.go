package migrations

import (
	"context"
	"fmt"

	"squeeze-discovery/internal/storage/postgres"
)

const createVersionTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// RunPostgresMigrations applies embedded migrations not yet recorded in
// schema_migrations. Each file and its version row commit together.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	migs, err := load(PostgresFS, "postgres")
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createVersionTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migs {
		if err := applyPostgres(ctx, pool, m); err != nil {
			return err
		}
	}
	return nil
}

func applyPostgres(ctx context.Context, pool *postgres.Pool, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.Version, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`, m.Version)
	if err != nil {
		return fmt.Errorf("record migration %s: %w", m.Version, err)
	}
	if tag.RowsAffected() == 0 {
		return nil // already applied
	}
	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.Version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.Version, err)
	}
	return nil
}
