package ports

import (
	"context"
	"time"

	"github.com/sibylhq/sibyl/internal/domain/models"
)

// DocumentRepository defines operations for document persistence
type DocumentRepository interface {
	Create(ctx context.Context, document *models.Document) error
	GetByUUID(ctx context.Context, uuid string) (*models.Document, error)
	List(ctx context.Context, limit, offset int) ([]*models.Document, error)
	// UpdateStatus flips the pipeline status. The write is atomic and
	// idempotent: a document already in a terminal status is left alone
	// unless reset is true (operator-initiated re-enqueue).
	UpdateStatus(ctx context.Context, uuid string, status models.DocumentStatus, reset bool) error
	// SetCompleted stamps page count and processing extras together with
	// the terminal DONE status in a single statement.
	SetCompleted(ctx context.Context, uuid string, pageCount int, extra map[string]any) error
	SetExtra(ctx context.Context, uuid string, extra map[string]any) error
	Delete(ctx context.Context, uuid string) error
}

// SessionRepository defines operations for session persistence
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByUUID(ctx context.Context, uuid string) (*models.Session, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error)
	UpdateName(ctx context.Context, uuid, name string) error
	UpdateLastMessage(ctx context.Context, uuid, lastMessage string) error
	Delete(ctx context.Context, uuid string) error
}

// MessageRepository defines operations for message persistence
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	GetByUUID(ctx context.Context, uuid string) (*models.Message, error)
	// ListBySession returns messages in created_at order, oldest first.
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, error)
	// LatestSummary returns the most recent SUMMARY message of the
	// session, or pgx.ErrNoRows when none exists.
	LatestSummary(ctx context.Context, sessionID string) (*models.Message, error)
	// ListAfter returns non-SUMMARY messages created strictly after the
	// given instant, in created_at order.
	ListAfter(ctx context.Context, sessionID string, after time.Time) ([]*models.Message, error)
	// CountSince counts non-SUMMARY messages created strictly after the
	// given instant. A zero time counts all non-SUMMARY messages.
	CountSince(ctx context.Context, sessionID string, after time.Time) (int, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
	UpdateExtra(ctx context.Context, uuid string, extra map[string]any) error
	DeleteBySession(ctx context.Context, sessionID string) error
}

// ThoughtChainRepository defines operations for reasoning-trace persistence
type ThoughtChainRepository interface {
	Create(ctx context.Context, chain *models.ThoughtChain) error
	GetByUUID(ctx context.Context, uuid string) (*models.ThoughtChain, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.ThoughtChain, error)
	// ApplyFeedback records one user's vote and adjusts the counters under
	// a per-chain advisory lock so counters always agree with the
	// user_feedbacks map. Returns the updated chain.
	ApplyFeedback(ctx context.Context, uuid, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error)
	// SetCacheRef marks the chain cached, referencing its QA vector row.
	SetCacheRef(ctx context.Context, uuid string, vectorID int64) error
	// ClearCacheRef clears is_cached and qa_vector_id together.
	ClearCacheRef(ctx context.Context, uuid string) error
}

// UserRepository defines operations for user persistence
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// TransactionManager provides transaction support for repositories
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// IDGenerator generates prefixed unique identifiers
type IDGenerator interface {
	GenerateDocumentID() string
	GenerateSessionID() string
	GenerateUserMessageID() string
	GenerateAIMessageID() string
	GenerateSummaryMessageID() string
	GenerateThoughtChainID() string
}
