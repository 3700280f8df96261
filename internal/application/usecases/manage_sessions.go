package usecases

import (
	"context"
	"errors"
	"fmt"

	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

// ErrForbidden rejects access to another user's session.
var ErrForbidden = errors.New("forbidden")

const (
	defaultSessionPageSize = 20
	defaultMessagePageSize = 50
)

// ManageSessions covers listing, reading and deleting sessions. Every
// read checks ownership; admins may read any session.
type ManageSessions struct {
	sessions ports.SessionRepository
	messages ports.MessageRepository
	tx       ports.TransactionManager
	kv       ports.KVStore
}

func NewManageSessions(sessions ports.SessionRepository, messages ports.MessageRepository, tx ports.TransactionManager, kv ports.KVStore) *ManageSessions {
	return &ManageSessions{sessions: sessions, messages: messages, tx: tx, kv: kv}
}

func (uc *ManageSessions) List(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = defaultSessionPageSize
	}
	sessions, err := uc.sessions.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (uc *ManageSessions) Get(ctx context.Context, sessionID, userID string, isAdmin bool) (*models.Session, error) {
	session, err := uc.sessions.GetByUUID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.UserID != userID && !isAdmin {
		return nil, ErrForbidden
	}
	return session, nil
}

func (uc *ManageSessions) Messages(ctx context.Context, sessionID, userID string, isAdmin bool, limit, offset int) ([]*models.Message, error) {
	if _, err := uc.Get(ctx, sessionID, userID, isAdmin); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMessagePageSize
	}
	messages, err := uc.messages.ListBySession(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// LastAnswer returns the cached final answer of the session's most recent
// turn, for clients that lost the stream before the done event. The cache
// entry expires, so nil means the client has to page through Messages.
func (uc *ManageSessions) LastAnswer(ctx context.Context, sessionID, userID string, isAdmin bool) (*models.Message, error) {
	if _, err := uc.Get(ctx, sessionID, userID, isAdmin); err != nil {
		return nil, err
	}
	msg, err := uc.kv.GetLastAnswer(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read last answer: %w", err)
	}
	return msg, nil
}

// Delete removes the session and its messages in one transaction, so a
// failed session delete never leaves a gutted but listed session.
func (uc *ManageSessions) Delete(ctx context.Context, sessionID, userID string, isAdmin bool) error {
	if _, err := uc.Get(ctx, sessionID, userID, isAdmin); err != nil {
		return err
	}
	return uc.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := uc.messages.DeleteBySession(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to delete session messages: %w", err)
		}
		if err := uc.sessions.Delete(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}
