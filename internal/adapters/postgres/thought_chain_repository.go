package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sibylhq/sibyl/internal/domain/models"
)

const thoughtChainColumns = `uuid, session_id, message_id, question, answer, steps, documents_used,
	       user_id, model_name, total_steps, like_count, dislike_count, is_cached, qa_vector_id,
	       user_feedbacks, created_at`

type ThoughtChainRepository struct {
	BaseRepository
}

func NewThoughtChainRepository(pool *pgxpool.Pool) *ThoughtChainRepository {
	return &ThoughtChainRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

func (r *ThoughtChainRepository) Create(ctx context.Context, chain *models.ThoughtChain) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	steps, err := json.Marshal(chain.Steps)
	if err != nil {
		return err
	}
	documents, err := json.Marshal(chain.DocumentsUsed)
	if err != nil {
		return err
	}
	feedbacks, err := json.Marshal(chain.UserFeedbacks)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sibyl_thought_chains (
			uuid, session_id, message_id, question, answer, steps, documents_used,
			user_id, model_name, total_steps, like_count, dislike_count, is_cached,
			qa_vector_id, user_feedbacks, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)`

	_, err = r.conn(ctx).Exec(ctx, query,
		chain.UUID,
		chain.SessionID,
		chain.MessageID,
		chain.Question,
		chain.Answer,
		steps,
		documents,
		chain.UserID,
		nullString(chain.ModelName),
		chain.TotalSteps,
		chain.LikeCount,
		chain.DislikeCount,
		chain.IsCached,
		chain.QAVectorID,
		feedbacks,
		chain.CreatedAt,
	)

	return err
}

func (r *ThoughtChainRepository) GetByUUID(ctx context.Context, uuid string) (*models.ThoughtChain, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + thoughtChainColumns + `
		FROM sibyl_thought_chains
		WHERE uuid = $1`

	return r.scanChain(r.conn(ctx).QueryRow(ctx, query, uuid))
}

func (r *ThoughtChainRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.ThoughtChain, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + thoughtChainColumns + `
		FROM sibyl_thought_chains
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.conn(ctx).Query(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chains []*models.ThoughtChain
	for rows.Next() {
		chain, err := r.scanChain(rows)
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
	}
	return chains, rows.Err()
}

// ApplyFeedback records one user's vote under a per-chain advisory lock.
// Counters and the user_feedbacks map are read and written inside the same
// transaction, so they always agree: a duplicate identical vote is
// rejected with models.ErrDuplicateFeedback, a switched vote decrements
// the old counter before incrementing the new one.
func (r *ThoughtChainRepository) ApplyFeedback(ctx context.Context, uuid, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if tx := GetTx(ctx); tx != nil {
		return r.applyFeedbackWithConn(ctx, tx, uuid, userID, kind)
	}

	tx, err := r.Pool().Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) // Rollback is safe to call even after commit

	chain, err := r.applyFeedbackWithConn(ctx, tx, uuid, userID, kind)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return chain, nil
}

func (r *ThoughtChainRepository) applyFeedbackWithConn(ctx context.Context, conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, uuid, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error) {
	// Transaction-scoped advisory lock serializes concurrent votes on the
	// same chain; released automatically at commit/rollback.
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", hashChainID(uuid)); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + thoughtChainColumns + `
		FROM sibyl_thought_chains
		WHERE uuid = $1`

	chain, err := r.scanChain(conn.QueryRow(ctx, query, uuid))
	if err != nil {
		return nil, err
	}

	previous, voted := chain.UserFeedbacks[userID]
	if voted && previous == kind {
		return nil, models.ErrDuplicateFeedback
	}
	if voted {
		switch previous {
		case models.FeedbackLike:
			chain.LikeCount--
		case models.FeedbackDislike:
			chain.DislikeCount--
		}
	}
	switch kind {
	case models.FeedbackLike:
		chain.LikeCount++
	case models.FeedbackDislike:
		chain.DislikeCount++
	}
	chain.UserFeedbacks[userID] = kind

	feedbacks, err := json.Marshal(chain.UserFeedbacks)
	if err != nil {
		return nil, err
	}

	update := `
		UPDATE sibyl_thought_chains
		SET like_count = $2, dislike_count = $3, user_feedbacks = $4
		WHERE uuid = $1`

	if _, err := conn.Exec(ctx, update, uuid, chain.LikeCount, chain.DislikeCount, feedbacks); err != nil {
		return nil, err
	}

	return chain, nil
}

// SetCacheRef marks the chain cached, pointing at its QA vector row.
func (r *ThoughtChainRepository) SetCacheRef(ctx context.Context, uuid string, vectorID int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE sibyl_thought_chains
		SET is_cached = TRUE, qa_vector_id = $2
		WHERE uuid = $1`

	_, err := r.conn(ctx).Exec(ctx, query, uuid, vectorID)
	return err
}

// ClearCacheRef clears is_cached and qa_vector_id together, keeping the
// invariant that they change as one.
func (r *ThoughtChainRepository) ClearCacheRef(ctx context.Context, uuid string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE sibyl_thought_chains
		SET is_cached = FALSE, qa_vector_id = NULL
		WHERE uuid = $1`

	_, err := r.conn(ctx).Exec(ctx, query, uuid)
	return err
}

func (r *ThoughtChainRepository) scanChain(row pgx.Row) (*models.ThoughtChain, error) {
	var chain models.ThoughtChain
	var modelName sql.NullString
	var qaVectorID sql.NullInt64
	var steps, documents, feedbacks []byte

	err := row.Scan(
		&chain.UUID,
		&chain.SessionID,
		&chain.MessageID,
		&chain.Question,
		&chain.Answer,
		&steps,
		&documents,
		&chain.UserID,
		&modelName,
		&chain.TotalSteps,
		&chain.LikeCount,
		&chain.DislikeCount,
		&chain.IsCached,
		&qaVectorID,
		&feedbacks,
		&chain.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	chain.ModelName = getString(modelName)
	if qaVectorID.Valid {
		chain.QAVectorID = &qaVectorID.Int64
	}

	if chain.Steps, err = unmarshalJSONSlice[models.ThoughtStep](steps); err != nil {
		return nil, err
	}
	if chain.Steps == nil {
		chain.Steps = []models.ThoughtStep{}
	}
	if chain.DocumentsUsed, err = unmarshalJSONSlice[models.DocumentRef](documents); err != nil {
		return nil, err
	}
	if chain.DocumentsUsed == nil {
		chain.DocumentsUsed = []models.DocumentRef{}
	}

	chain.UserFeedbacks = map[string]models.FeedbackKind{}
	if len(feedbacks) > 0 {
		if err := json.Unmarshal(feedbacks, &chain.UserFeedbacks); err != nil {
			return nil, err
		}
	}

	return &chain, nil
}

// hashChainID generates a 64-bit advisory lock key from a chain UUID.
func hashChainID(uuid string) int64 {
	h := fnv.New64a()
	h.Write([]byte(uuid))
	return int64(h.Sum64())
}
