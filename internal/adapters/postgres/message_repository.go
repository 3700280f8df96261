package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sibylhq/sibyl/internal/domain/models"
)

const messageColumns = `uuid, session_id, content, send_type, send_id, send_name, send_avatar,
	       receive_id, file_type, file_name, file_size, extra, status, created_at, send_at`

type MessageRepository struct {
	BaseRepository
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *MessageRepository) Create(ctx context.Context, message *models.Message) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	extra, err := marshalMap(message.Extra)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sibyl_messages (
			uuid, session_id, content, send_type, send_id, send_name, send_avatar,
			receive_id, file_type, file_name, file_size, extra, status, created_at, send_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)`

	_, err = r.conn(ctx).Exec(ctx, query,
		message.UUID,
		message.SessionID,
		message.Content,
		message.SendType,
		message.SendID,
		nullString(message.SendName),
		nullString(message.SendAvatar),
		nullString(message.ReceiveID),
		nullString(message.FileType),
		nullString(message.FileName),
		nullInt64(message.FileSize),
		extra,
		message.Status,
		message.CreatedAt,
		message.SendAt,
	)

	return err
}

func (r *MessageRepository) GetByUUID(ctx context.Context, uuid string) (*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + messageColumns + `
		FROM sibyl_messages
		WHERE uuid = $1`

	return r.scanMessage(r.conn(ctx).QueryRow(ctx, query, uuid))
}

func (r *MessageRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + messageColumns + `
		FROM sibyl_messages
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`

	rows, err := r.conn(ctx).Query(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanMessages(rows)
}

// LatestSummary returns the newest SUMMARY message of the session. The
// caller treats pgx.ErrNoRows as "no summary yet".
func (r *MessageRepository) LatestSummary(ctx context.Context, sessionID string) (*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + messageColumns + `
		FROM sibyl_messages
		WHERE session_id = $1 AND send_type = $2
		ORDER BY created_at DESC
		LIMIT 1`

	return r.scanMessage(r.conn(ctx).QueryRow(ctx, query, sessionID, models.SendTypeSummary))
}

func (r *MessageRepository) ListAfter(ctx context.Context, sessionID string, after time.Time) ([]*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + messageColumns + `
		FROM sibyl_messages
		WHERE session_id = $1 AND send_type <> $2 AND created_at > $3
		ORDER BY created_at ASC`

	rows, err := r.conn(ctx).Query(ctx, query, sessionID, models.SendTypeSummary, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanMessages(rows)
}

// CountSince counts non-SUMMARY messages created strictly after the given
// instant. A zero time counts every non-SUMMARY message of the session.
func (r *MessageRepository) CountSince(ctx context.Context, sessionID string, after time.Time) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM sibyl_messages
		WHERE session_id = $1 AND send_type <> $2 AND created_at > $3`

	var count int
	err := r.conn(ctx).QueryRow(ctx, query, sessionID, models.SendTypeSummary, after).Scan(&count)
	return count, err
}

func (r *MessageRepository) CountBySession(ctx context.Context, sessionID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM sibyl_messages
		WHERE session_id = $1 AND send_type <> $2`

	var count int
	err := r.conn(ctx).QueryRow(ctx, query, sessionID, models.SendTypeSummary).Scan(&count)
	return count, err
}

func (r *MessageRepository) UpdateExtra(ctx context.Context, uuid string, extra map[string]any) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	data, err := marshalMap(extra)
	if err != nil {
		return err
	}

	query := `
		UPDATE sibyl_messages
		SET extra = $2
		WHERE uuid = $1`

	_, err = r.conn(ctx).Exec(ctx, query, uuid, data)
	return err
}

func (r *MessageRepository) DeleteBySession(ctx context.Context, sessionID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `DELETE FROM sibyl_messages WHERE session_id = $1`

	_, err := r.conn(ctx).Exec(ctx, query, sessionID)
	return err
}

func (r *MessageRepository) scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	var sendName, sendAvatar, receiveID, fileType, fileName sql.NullString
	var fileSize sql.NullInt64
	var extra []byte

	err := row.Scan(
		&msg.UUID,
		&msg.SessionID,
		&msg.Content,
		&msg.SendType,
		&msg.SendID,
		&sendName,
		&sendAvatar,
		&receiveID,
		&fileType,
		&fileName,
		&fileSize,
		&extra,
		&msg.Status,
		&msg.CreatedAt,
		&msg.SendAt,
	)
	if err != nil {
		return nil, err
	}

	msg.SendName = getString(sendName)
	msg.SendAvatar = getString(sendAvatar)
	msg.ReceiveID = getString(receiveID)
	msg.FileType = getString(fileType)
	msg.FileName = getString(fileName)
	msg.FileSize = getInt64(fileSize)

	if msg.Extra, err = unmarshalMap(extra); err != nil {
		return nil, err
	}

	return &msg, nil
}

func (r *MessageRepository) scanMessages(rows pgx.Rows) ([]*models.Message, error) {
	var messages []*models.Message
	for rows.Next() {
		msg, err := r.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
