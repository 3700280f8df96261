package postgres

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements is the full document-store schema. Statements are
// idempotent so Migrate can run on every deploy.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sibyl_users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		nickname TEXT NOT NULL,
		avatar TEXT,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sibyl_documents (
		uuid TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		content TEXT,
		page_count INTEGER NOT NULL DEFAULT 0,
		url TEXT,
		size_bytes BIGINT,
		permission INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL DEFAULT 0,
		extra JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sibyl_documents_status_idx ON sibyl_documents (status)`,
	`CREATE TABLE IF NOT EXISTS sibyl_sessions (
		uuid TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		last_message TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS sibyl_sessions_user_idx ON sibyl_sessions (user_id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS sibyl_messages (
		uuid TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		content TEXT NOT NULL,
		send_type INTEGER NOT NULL,
		send_id TEXT NOT NULL,
		send_name TEXT,
		send_avatar TEXT,
		receive_id TEXT,
		file_type TEXT,
		file_name TEXT,
		file_size BIGINT,
		extra JSONB,
		status INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		send_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sibyl_messages_session_idx ON sibyl_messages (session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS sibyl_thought_chains (
		uuid TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		steps JSONB,
		documents_used JSONB,
		user_id TEXT NOT NULL,
		model_name TEXT,
		total_steps INTEGER NOT NULL DEFAULT 0,
		like_count INTEGER NOT NULL DEFAULT 0 CHECK (like_count >= 0),
		dislike_count INTEGER NOT NULL DEFAULT 0 CHECK (dislike_count >= 0),
		is_cached BOOLEAN NOT NULL DEFAULT FALSE,
		qa_vector_id BIGINT,
		user_feedbacks JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sibyl_thought_chains_session_idx ON sibyl_thought_chains (session_id, created_at DESC)`,
}

// Migrate applies the document-store schema and creates the two vector
// collections, pinning their schema (documents and QA cache share the
// same row shape but live in separate tables).
func Migrate(ctx context.Context, pool *pgxpool.Pool, docsCollection, qaCollection string, dim int) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	store := NewVectorStore(pool)
	if err := store.EnsureCollection(ctx, docsCollection, dim); err != nil {
		return err
	}
	if err := store.EnsureCollection(ctx, qaCollection, dim); err != nil {
		return err
	}

	log.Printf("schema migrated, collections %s and %s ready (dim=%d)", docsCollection, qaCollection, dim)
	return nil
}
