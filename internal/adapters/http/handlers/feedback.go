package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/sibylhq/sibyl/internal/adapters/http/dto"
	"github.com/sibylhq/sibyl/internal/adapters/http/middleware"
	"github.com/sibylhq/sibyl/internal/domain/models"
)

// FeedbackSubmitter is implemented by usecases.SubmitFeedback.
type FeedbackSubmitter interface {
	Execute(ctx context.Context, thoughtChainID, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error)
}

type FeedbackHandler struct {
	feedback FeedbackSubmitter
}

func NewFeedbackHandler(feedback FeedbackSubmitter) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback}
}

// Submit handles POST /api/v1/feedback. A dislike on a cached answer
// also evicts it from the QA cache.
func (h *FeedbackHandler) Submit(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity.UserID == "" {
		respondError(w, "auth_error", "User ID not found in context", http.StatusUnauthorized)
		return
	}

	req, ok := decodeJSON[dto.FeedbackRequest](r, w)
	if !ok {
		return
	}

	chain, err := h.feedback.Execute(r.Context(), req.ThoughtChainID, identity.UserID, models.FeedbackKind(req.Kind))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrDuplicateFeedback):
			respondError(w, "duplicate_feedback", "Feedback already recorded", http.StatusConflict)
		case errors.Is(err, pgx.ErrNoRows):
			respondError(w, "not_found", "Thought chain not found", http.StatusNotFound)
		case errors.Is(err, models.ErrInvalidFeedback):
			respondError(w, "validation_error", err.Error(), http.StatusBadRequest)
		default:
			log.Printf("Failed to record feedback from user %s: %v", identity.UserID, err)
			respondError(w, "internal_error", "Failed to record feedback", http.StatusInternalServerError)
		}
		return
	}

	respondJSON(w, (&dto.FeedbackResponse{}).FromModel(chain), http.StatusOK)
}
