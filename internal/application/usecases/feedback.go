package usecases

import (
	"context"
	"fmt"
	"log"

	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

// SubmitFeedback records a like or dislike on an answer's reasoning
// chain. The cache service applies the vote and handles eviction; the
// message row's counters are refreshed afterwards for client display.
type SubmitFeedback struct {
	qaCache  ports.QACacheService
	messages ports.MessageRepository
}

func NewSubmitFeedback(qaCache ports.QACacheService, messages ports.MessageRepository) *SubmitFeedback {
	return &SubmitFeedback{qaCache: qaCache, messages: messages}
}

func (uc *SubmitFeedback) Execute(ctx context.Context, thoughtChainID, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error) {
	if kind != models.FeedbackLike && kind != models.FeedbackDislike {
		return nil, fmt.Errorf("%w: unknown kind %q", models.ErrInvalidFeedback, kind)
	}
	if thoughtChainID == "" {
		return nil, fmt.Errorf("%w: thought chain id is required", models.ErrInvalidFeedback)
	}

	chain, err := uc.qaCache.UpdateFeedback(ctx, thoughtChainID, userID, kind)
	if err != nil {
		return nil, err
	}

	if chain.MessageID != "" {
		extra := map[string]any{
			"thought_chain_id": chain.UUID,
			"like_count":       chain.LikeCount,
			"dislike_count":    chain.DislikeCount,
		}
		if err := uc.messages.UpdateExtra(ctx, chain.MessageID, extra); err != nil {
			log.Printf("warning: failed to refresh feedback counters on message %s: %v", chain.MessageID, err)
		}
	}
	return chain, nil
}
