package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sibylhq/sibyl/internal/domain/models"
)

type SessionRepository struct {
	BaseRepository
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO sibyl_sessions (
			uuid, user_id, name, last_message, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)`

	_, err := r.conn(ctx).Exec(ctx, query,
		session.UUID,
		session.UserID,
		session.Name,
		nullString(session.LastMessage),
		session.CreatedAt,
		session.UpdatedAt,
	)

	return err
}

func (r *SessionRepository) GetByUUID(ctx context.Context, uuid string) (*models.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT uuid, user_id, name, last_message, created_at, updated_at, deleted_at
		FROM sibyl_sessions
		WHERE uuid = $1 AND deleted_at IS NULL`

	return r.scanSession(r.conn(ctx).QueryRow(ctx, query, uuid))
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT uuid, user_id, name, last_message, created_at, updated_at, deleted_at
		FROM sibyl_sessions
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.conn(ctx).Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanSessions(rows)
}

func (r *SessionRepository) UpdateName(ctx context.Context, uuid, name string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE sibyl_sessions
		SET name = $2, updated_at = NOW()
		WHERE uuid = $1 AND deleted_at IS NULL`

	_, err := r.conn(ctx).Exec(ctx, query, uuid, name)
	return err
}

func (r *SessionRepository) UpdateLastMessage(ctx context.Context, uuid, lastMessage string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE sibyl_sessions
		SET last_message = $2, updated_at = NOW()
		WHERE uuid = $1 AND deleted_at IS NULL`

	_, err := r.conn(ctx).Exec(ctx, query, uuid, lastMessage)
	return err
}

func (r *SessionRepository) Delete(ctx context.Context, uuid string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE sibyl_sessions
		SET deleted_at = NOW()
		WHERE uuid = $1 AND deleted_at IS NULL`

	_, err := r.conn(ctx).Exec(ctx, query, uuid)
	return err
}

func (r *SessionRepository) scanSession(row pgx.Row) (*models.Session, error) {
	var session models.Session
	var lastMessage sql.NullString
	var deletedAt sql.NullTime

	err := row.Scan(
		&session.UUID,
		&session.UserID,
		&session.Name,
		&lastMessage,
		&session.CreatedAt,
		&session.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	session.LastMessage = getString(lastMessage)
	session.DeletedAt = getTimePtr(deletedAt)

	return &session, nil
}

func (r *SessionRepository) scanSessions(rows pgx.Rows) ([]*models.Session, error) {
	var sessions []*models.Session
	for rows.Next() {
		session, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}
