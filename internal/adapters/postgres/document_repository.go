package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sibylhq/sibyl/internal/domain/models"
)

type DocumentRepository struct {
	BaseRepository
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *DocumentRepository) Create(ctx context.Context, document *models.Document) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	extra, err := marshalMap(document.Extra)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sibyl_documents (
			uuid, name, content, page_count, url, size_bytes, permission, status, extra, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err = r.conn(ctx).Exec(ctx, query,
		document.UUID,
		document.Name,
		nullString(document.Content),
		document.PageCount,
		nullString(document.URL),
		nullInt64(document.SizeBytes),
		document.Permission,
		document.Status,
		extra,
		document.CreatedAt,
		document.UpdatedAt,
	)

	return err
}

func (r *DocumentRepository) GetByUUID(ctx context.Context, uuid string) (*models.Document, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT uuid, name, content, page_count, url, size_bytes, permission, status, extra, created_at, updated_at
		FROM sibyl_documents
		WHERE uuid = $1`

	return r.scanDocument(r.conn(ctx).QueryRow(ctx, query, uuid))
}

func (r *DocumentRepository) List(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT uuid, name, content, page_count, url, size_bytes, permission, status, extra, created_at, updated_at
		FROM sibyl_documents
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.conn(ctx).Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanDocuments(rows)
}

// UpdateStatus flips the ingestion status. Terminal statuses are sticky:
// the row is only touched when it is not already DONE or FAILED, which
// makes redeliveries of the same task idempotent. reset is the operator
// escape hatch that moves a stuck document back to PENDING.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, uuid string, status models.DocumentStatus, reset bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE sibyl_documents
		SET status = $2, updated_at = NOW()
		WHERE uuid = $1 AND ($3 OR status NOT IN ($4, $5))`

	_, err := r.conn(ctx).Exec(ctx, query,
		uuid,
		status,
		reset,
		models.DocumentStatusDone,
		models.DocumentStatusFailed,
	)
	return err
}

// SetCompleted stamps the terminal DONE status together with the page
// count and processing extras in one atomic statement.
func (r *DocumentRepository) SetCompleted(ctx context.Context, uuid string, pageCount int, extra map[string]any) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	data, err := marshalMap(extra)
	if err != nil {
		return err
	}

	query := `
		UPDATE sibyl_documents
		SET status = $2, page_count = $3, extra = $4, updated_at = NOW()
		WHERE uuid = $1 AND status NOT IN ($5, $6)`

	_, err = r.conn(ctx).Exec(ctx, query,
		uuid,
		models.DocumentStatusDone,
		pageCount,
		data,
		models.DocumentStatusDone,
		models.DocumentStatusFailed,
	)
	return err
}

func (r *DocumentRepository) SetExtra(ctx context.Context, uuid string, extra map[string]any) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	data, err := marshalMap(extra)
	if err != nil {
		return err
	}

	query := `
		UPDATE sibyl_documents
		SET extra = $2, updated_at = NOW()
		WHERE uuid = $1`

	_, err = r.conn(ctx).Exec(ctx, query, uuid, data)
	return err
}

func (r *DocumentRepository) Delete(ctx context.Context, uuid string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `DELETE FROM sibyl_documents WHERE uuid = $1`

	_, err := r.conn(ctx).Exec(ctx, query, uuid)
	return err
}

func (r *DocumentRepository) scanDocument(row pgx.Row) (*models.Document, error) {
	var doc models.Document
	var content, url sql.NullString
	var sizeBytes sql.NullInt64
	var extra []byte

	err := row.Scan(
		&doc.UUID,
		&doc.Name,
		&content,
		&doc.PageCount,
		&url,
		&sizeBytes,
		&doc.Permission,
		&doc.Status,
		&extra,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Content = getString(content)
	doc.URL = getString(url)
	doc.SizeBytes = getInt64(sizeBytes)

	if doc.Extra, err = unmarshalMap(extra); err != nil {
		return nil, err
	}

	return &doc, nil
}

func (r *DocumentRepository) scanDocuments(rows pgx.Rows) ([]*models.Document, error) {
	var documents []*models.Document
	for rows.Next() {
		doc, err := r.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}
	return documents, rows.Err()
}
