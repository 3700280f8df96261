package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/sibylhq/sibyl/internal/domain/models"
)

// VectorStore implements ports.VectorStore over pgvector. A collection is
// one table of (id, embedding, text, metadata) rows with an HNSW cosine
// index; rows are searchable as soon as Insert commits.
type VectorStore struct {
	BaseRepository
}

func NewVectorStore(pool *pgxpool.Pool) *VectorStore {
	return &VectorStore{
		BaseRepository: NewBaseRepository(pool),
	}
}

var collectionNamePattern = regexp.MustCompile(`[^a-z0-9_]+`)

// tableName maps a collection name onto a safe table identifier.
func tableName(collection string) string {
	name := collectionNamePattern.ReplaceAllString(strings.ToLower(collection), "_")
	return "sibyl_vec_" + name
}

// EnsureCollection creates the collection table and its cosine index if
// they do not exist yet. Safe to call on every startup and from the
// ingestion path.
func (s *VectorStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	table := tableName(name)

	if _, err := s.conn(ctx).Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to ensure vector extension: %w", err)
	}

	create := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			text TEXT NOT NULL,
			metadata JSONB
		)`, table, dim)
	if _, err := s.conn(ctx).Exec(ctx, create); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	index := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s USING hnsw (embedding vector_cosine_ops)`, table, table)
	if _, err := s.conn(ctx).Exec(ctx, index); err != nil {
		return fmt.Errorf("failed to create index on %s: %w", name, err)
	}

	return nil
}

// Insert writes all rows in one transaction and returns their assigned
// ids in input order.
func (s *VectorStore) Insert(ctx context.Context, collection string, rows []models.VectorRow) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	table := tableName(collection)
	query := fmt.Sprintf(`
		INSERT INTO %s (embedding, text, metadata)
		VALUES ($1, $2, $3)
		RETURNING id`, table)

	ids := make([]int64, 0, len(rows))

	insert := func(ctx context.Context) error {
		conn := s.conn(ctx)
		for _, row := range rows {
			metadata, err := marshalMap(row.Metadata)
			if err != nil {
				return err
			}
			var id int64
			if err := conn.QueryRow(ctx, query, pgvector.NewVector(row.Embedding), row.Text, metadata).Scan(&id); err != nil {
				return fmt.Errorf("failed to insert vector row: %w", err)
			}
			ids = append(ids, id)
		}
		return nil
	}

	// All rows of one batch land together or not at all.
	if GetTx(ctx) != nil {
		if err := insert(ctx); err != nil {
			return nil, err
		}
		return ids, nil
	}

	tx, err := s.Pool().Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) // Rollback is safe to call even after commit

	if err := insert(context.WithValue(ctx, txKey, tx)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return ids, nil
}

// Search returns the k nearest rows by cosine distance. Score is the
// monotone 1/(1+distance) transform callers rank on.
func (s *VectorStore) Search(ctx context.Context, collection string, vector []float32, k int) ([]models.Hit, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, text, metadata, embedding <=> $1 AS distance
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, tableName(collection))

	rows, err := s.conn(ctx).Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []models.Hit
	for rows.Next() {
		var hit models.Hit
		var metadata []byte
		if err := rows.Scan(&hit.ID, &hit.Text, &metadata, &hit.Distance); err != nil {
			return nil, err
		}
		if hit.Metadata, err = unmarshalMap(metadata); err != nil {
			return nil, err
		}
		hit.Score = 1 / (1 + hit.Distance)
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// Query returns rows matching the metadata filter, no ranking.
func (s *VectorStore) Query(ctx context.Context, collection string, filter map[string]any, limit int) ([]models.Hit, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where, args := buildFilter(filter)
	query := fmt.Sprintf(`
		SELECT id, text, metadata
		FROM %s
		%s
		ORDER BY id
		LIMIT $%d`, tableName(collection), where, len(args)+1)
	args = append(args, limit)

	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []models.Hit
	for rows.Next() {
		var hit models.Hit
		var metadata []byte
		if err := rows.Scan(&hit.ID, &hit.Text, &metadata); err != nil {
			return nil, err
		}
		if hit.Metadata, err = unmarshalMap(metadata); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (s *VectorStore) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where, args := buildFilter(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, tableName(collection), where)

	var count int64
	err := s.conn(ctx).QueryRow(ctx, query, args...).Scan(&count)
	return count, err
}

// DeleteByFilter removes every row matching the metadata filter and
// returns how many went away. An empty filter is rejected rather than
// truncating the collection by accident.
func (s *VectorStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("refusing to delete with empty filter")
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where, args := buildFilter(filter)
	query := fmt.Sprintf(`DELETE FROM %s %s`, tableName(collection), where)

	tag, err := s.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// buildFilter compiles metadata equality predicates into a WHERE clause.
// Values are compared through their JSON text form.
func buildFilter(filter map[string]any) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	// Deterministic order keeps queries stable for tests and plan caches.
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}

	var conditions []string
	var args []any
	for _, key := range keys {
		args = append(args, fmt.Sprintf("%v", filter[key]))
		conditions = append(conditions, fmt.Sprintf("metadata->>'%s' = $%d", key, len(args)))
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}
