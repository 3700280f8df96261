package dto

import (
	"github.com/sibylhq/sibyl/internal/domain/models"
)

// FeedbackRequest votes on the reasoning trace behind an answer. Kind is
// "like" or "dislike".
type FeedbackRequest struct {
	ThoughtChainID string `json:"thought_chain_id"`
	Kind           string `json:"kind"`
}

type FeedbackResponse struct {
	ThoughtChainID string `json:"thought_chain_id"`
	LikeCount      int    `json:"like_count"`
	DislikeCount   int    `json:"dislike_count"`
	IsCached       bool   `json:"is_cached"`
}

func (r *FeedbackResponse) FromModel(chain *models.ThoughtChain) *FeedbackResponse {
	return &FeedbackResponse{
		ThoughtChainID: chain.UUID,
		LikeCount:      chain.LikeCount,
		DislikeCount:   chain.DislikeCount,
		IsCached:       chain.IsCached,
	}
}
