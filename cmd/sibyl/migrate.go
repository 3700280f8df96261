package main

import (
	"fmt"
	"log"

	"github.com/sibylhq/sibyl/internal/adapters/postgres"
	"github.com/spf13/cobra"
)

// migrateCmd applies the database schema
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the database schema.

Creates the pgvector extension, the relational tables and the two
vector collections (document chunks and the QA cache). Migrations are
idempotent; running twice is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pool, err := initDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			log.Printf("Applying migrations (collections %q and %q, %d dims)...",
				cfg.Vector.DocsCollection, cfg.Vector.QACollection, cfg.Vector.Dimensions)

			if err := postgres.Migrate(ctx, pool, cfg.Vector.DocsCollection, cfg.Vector.QACollection, cfg.Vector.Dimensions); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Println("Migrations applied")
			return nil
		},
	}
}
