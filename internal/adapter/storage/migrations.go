// internal/adapter/storage/migrations.go

package storage

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v4/pgxpool"
)

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "create documents table",
		sql: `
			CREATE TABLE IF NOT EXISTS documents (
				seq BIGSERIAL PRIMARY KEY,
				id UUID NOT NULL UNIQUE,
				collection TEXT NOT NULL,
				fields JSONB NOT NULL DEFAULT '{}'::jsonb,
				created_at TIMESTAMPTZ
			)
		`,
	},
	{
		name: "index documents by collection and time",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_documents_collection_created
			ON documents (collection, created_at DESC NULLS FIRST, seq DESC)
		`,
	},
}

// Migrate applies pending schema migrations
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for i, m := range migrations {
		version := i + 1
		var count int
		if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if count > 0 {
			continue
		}

		log.Printf("Running migration %d: %s", version, m.name)
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", version, m.name, err)
		}
		if _, err := db.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			return fmt.Errorf("record migration %d: %w", version, err)
		}
	}

	return nil
}
