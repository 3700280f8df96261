package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/sibylhq/sibyl/internal/adapters/http/dto"
	"github.com/sibylhq/sibyl/internal/adapters/http/middleware"
	"github.com/sibylhq/sibyl/internal/application/usecases"
	"github.com/sibylhq/sibyl/internal/domain/models"
)

// SessionManager is implemented by usecases.ManageSessions.
type SessionManager interface {
	List(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error)
	Get(ctx context.Context, sessionID, userID string, isAdmin bool) (*models.Session, error)
	Messages(ctx context.Context, sessionID, userID string, isAdmin bool, limit, offset int) ([]*models.Message, error)
	LastAnswer(ctx context.Context, sessionID, userID string, isAdmin bool) (*models.Message, error)
	Delete(ctx context.Context, sessionID, userID string, isAdmin bool) error
}

type SessionsHandler struct {
	manager SessionManager
}

func NewSessionsHandler(manager SessionManager) *SessionsHandler {
	return &SessionsHandler{manager: manager}
}

// List handles GET /api/v1/sessions. Only the caller's own sessions are
// returned; admins see no more here.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity.UserID == "" {
		respondError(w, "auth_error", "User ID not found in context", http.StatusUnauthorized)
		return
	}

	limit := parseIntQuery(r, "limit", 20)
	offset := parseIntQuery(r, "offset", 0)

	sessions, err := h.manager.List(r.Context(), identity.UserID, limit, offset)
	if err != nil {
		log.Printf("Failed to list sessions for user %s: %v", identity.UserID, err)
		respondError(w, "internal_error", "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	respondJSON(w, &dto.SessionListResponse{
		Sessions: dto.FromSessionModelList(sessions),
		Limit:    limit,
		Offset:   offset,
	}, http.StatusOK)
}

// Get handles GET /api/v1/sessions/{id}.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	sessionID, ok := validateURLParam(r, w, "id", "Session ID")
	if !ok {
		return
	}

	session, err := h.manager.Get(r.Context(), sessionID, identity.UserID, identity.IsAdmin)
	if err != nil {
		h.respondSessionError(w, sessionID, err)
		return
	}

	respondJSON(w, (&dto.SessionResponse{}).FromModel(session), http.StatusOK)
}

// Messages handles GET /api/v1/sessions/{id}/messages.
func (h *SessionsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	sessionID, ok := validateURLParam(r, w, "id", "Session ID")
	if !ok {
		return
	}

	limit := parseIntQuery(r, "limit", 50)
	offset := parseIntQuery(r, "offset", 0)

	messages, err := h.manager.Messages(r.Context(), sessionID, identity.UserID, identity.IsAdmin, limit, offset)
	if err != nil {
		h.respondSessionError(w, sessionID, err)
		return
	}

	respondJSON(w, &dto.MessageListResponse{
		Messages: dto.FromMessageModelList(messages),
		Limit:    limit,
		Offset:   offset,
	}, http.StatusOK)
}

// LastAnswer handles GET /api/v1/sessions/{id}/last-answer. It serves the
// cached final answer of the newest turn so a client whose stream dropped
// can recover it without paging; 404 once the cache entry expires.
func (h *SessionsHandler) LastAnswer(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	sessionID, ok := validateURLParam(r, w, "id", "Session ID")
	if !ok {
		return
	}

	msg, err := h.manager.LastAnswer(r.Context(), sessionID, identity.UserID, identity.IsAdmin)
	if err != nil {
		h.respondSessionError(w, sessionID, err)
		return
	}
	if msg == nil {
		respondError(w, "not_found", "No cached answer for this session", http.StatusNotFound)
		return
	}

	respondJSON(w, (&dto.MessageResponse{}).FromModel(msg), http.StatusOK)
}

// Delete handles DELETE /api/v1/sessions/{id}.
func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	sessionID, ok := validateURLParam(r, w, "id", "Session ID")
	if !ok {
		return
	}

	if err := h.manager.Delete(r.Context(), sessionID, identity.UserID, identity.IsAdmin); err != nil {
		h.respondSessionError(w, sessionID, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) respondSessionError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, usecases.ErrForbidden):
		respondError(w, "forbidden", "Session belongs to another user", http.StatusForbidden)
	case errors.Is(err, pgx.ErrNoRows):
		respondError(w, "not_found", "Session not found", http.StatusNotFound)
	default:
		log.Printf("Session %s request failed: %v", sessionID, err)
		respondError(w, "internal_error", "Failed to access session", http.StatusInternalServerError)
	}
}
