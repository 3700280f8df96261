package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

// answerPreviewLimit bounds the answer excerpt stored in cache entry
// metadata. The full answer lives on the chain row.
const answerPreviewLimit = 200

// TraceStore implements ports.TraceService. Every completed turn persists
// its reasoning chain; approved question/answer pairs additionally land in
// the QA cache collection.
type TraceStore struct {
	chains       ports.ThoughtChainRepository
	messages     ports.MessageRepository
	embedder     ports.EmbeddingService
	store        ports.VectorStore
	collection   string
	cacheEnabled bool
}

func NewTraceStore(chains ports.ThoughtChainRepository, messages ports.MessageRepository, embedder ports.EmbeddingService, store ports.VectorStore, collection string, cacheEnabled bool) *TraceStore {
	return &TraceStore{
		chains:       chains,
		messages:     messages,
		embedder:     embedder,
		store:        store,
		collection:   collection,
		cacheEnabled: cacheEnabled,
	}
}

// SaveChain persists the chain unconditionally, then caches the question
// iff shouldCache is set and caching is enabled. Cache insertion and the
// message back-reference are best effort: the chain row is the record of
// truth and is never rolled back for them.
func (t *TraceStore) SaveChain(ctx context.Context, chain *models.ThoughtChain, shouldCache bool) error {
	if chain == nil {
		return fmt.Errorf("chain is nil")
	}
	if err := t.chains.Create(ctx, chain); err != nil {
		return fmt.Errorf("saving thought chain: %w", err)
	}

	if shouldCache && t.cacheEnabled {
		if err := t.insertCacheEntry(ctx, chain); err != nil {
			log.Printf("trace: caching question for chain %s failed: %v", chain.UUID, err)
		}
	}

	if chain.MessageID != "" {
		extra := map[string]any{
			"thought_chain_id": chain.UUID,
			"like_count":       chain.LikeCount,
			"dislike_count":    chain.DislikeCount,
		}
		if err := t.messages.UpdateExtra(ctx, chain.MessageID, extra); err != nil {
			log.Printf("trace: linking chain %s to message %s failed: %v", chain.UUID, chain.MessageID, err)
		}
	}
	return nil
}

// insertCacheEntry embeds the question with the query prefix, matching how
// probes embed theirs, and records the assigned vector id on the chain.
func (t *TraceStore) insertCacheEntry(ctx context.Context, chain *models.ThoughtChain) error {
	vector, err := t.embedder.EmbedQuery(ctx, chain.Question)
	if err != nil {
		return fmt.Errorf("embedding question: %w", err)
	}

	row := models.VectorRow{
		Embedding: vector,
		Text:      chain.Question,
		Metadata: map[string]any{
			"thought_chain_id": chain.UUID,
			"session_id":       chain.SessionID,
			"user_id":          chain.UserID,
			"answer_preview":   previewAnswer(chain.Answer),
			"created_at":       time.Now().UTC().Format(time.RFC3339),
		},
	}
	ids, err := t.store.Insert(ctx, t.collection, []models.VectorRow{row})
	if err != nil {
		return fmt.Errorf("inserting cache vector: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("insert returned no vector id")
	}

	if err := t.chains.SetCacheRef(ctx, chain.UUID, ids[0]); err != nil {
		return fmt.Errorf("setting cache ref: %w", err)
	}
	chain.IsCached = true
	chain.QAVectorID = &ids[0]
	return nil
}

func previewAnswer(answer string) string {
	runes := []rune(answer)
	if len(runes) <= answerPreviewLimit {
		return answer
	}
	return string(runes[:answerPreviewLimit])
}
