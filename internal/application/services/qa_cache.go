package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sibylhq/sibyl/internal/adapters/metrics"
	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

const (
	// cacheProbeTopK is how many nearest cached questions one probe
	// considers before scoring.
	cacheProbeTopK = 5

	// Feedback weighting on top of raw similarity: every like adds a
	// small bonus up to likeBonusCap, every dislike subtracts a larger
	// penalty, so contested answers lose to clean ones.
	similarityWeight = 0.6
	likeBonusStep    = 0.05
	likeBonusCap     = 0.2
	dislikePenalty   = 0.1
)

// QACache implements ports.QACacheService over the QA vector collection.
// Cached questions are embedded with the query prefix on both the insert
// and the probe side, so similarity is symmetric.
type QACache struct {
	embedder   ports.EmbeddingService
	store      ports.VectorStore
	chains     ports.ThoughtChainRepository
	collection string
	enabled    bool
	threshold  float64
	ttl        time.Duration
}

func NewQACache(embedder ports.EmbeddingService, store ports.VectorStore, chains ports.ThoughtChainRepository, collection string, enabled bool, threshold float64, ttl time.Duration) *QACache {
	return &QACache{
		embedder:   embedder,
		store:      store,
		chains:     chains,
		collection: collection,
		enabled:    enabled,
		threshold:  threshold,
		ttl:        ttl,
	}
}

// FindSimilar probes the cache for an answer to a semantically similar
// past question. A miss is (nil, nil); lookup failures are logged and
// degrade to a miss so the caller falls through to the agent.
func (c *QACache) FindSimilar(ctx context.Context, question, userID string, skipCache bool) (*models.CacheAnswer, error) {
	if !c.enabled || skipCache {
		metrics.QACacheProbesTotal.WithLabelValues("skip").Inc()
		return nil, nil
	}

	vector, err := c.embedder.EmbedQuery(ctx, question)
	if err != nil {
		log.Printf("qacache: embedding probe failed: %v", err)
		metrics.QACacheProbesTotal.WithLabelValues("error").Inc()
		return nil, nil
	}

	hits, err := c.store.Search(ctx, c.collection, vector, cacheProbeTopK)
	if err != nil {
		log.Printf("qacache: vector search failed: %v", err)
		metrics.QACacheProbesTotal.WithLabelValues("error").Inc()
		return nil, nil
	}

	best := c.pickBest(ctx, hits)
	if best == nil {
		metrics.QACacheProbesTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}
	metrics.QACacheProbesTotal.WithLabelValues("hit").Inc()
	return best, nil
}

// pickBest scores the surviving candidates and returns the highest one.
// Candidates are dropped when below the similarity threshold, when their
// chain is gone, expired, or disliked past the eviction margin.
func (c *QACache) pickBest(ctx context.Context, hits []models.Hit) *models.CacheAnswer {
	var best *models.CacheAnswer
	var bestCombined float64
	now := time.Now()

	for _, hit := range hits {
		// Cosine similarity on unit vectors; hit.Score uses a different
		// transform and is not comparable to the threshold.
		similarity := 1 - hit.Distance
		if similarity < c.threshold {
			continue
		}
		chainID, _ := hit.Metadata["thought_chain_id"].(string)
		if chainID == "" {
			continue
		}
		chain, err := c.chains.GetByUUID(ctx, chainID)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				log.Printf("qacache: loading chain %s failed: %v", chainID, err)
			}
			continue
		}
		if chain.Expired(c.ttl, now) || chain.EvictionDue() {
			continue
		}

		likeBonus := float64(chain.LikeCount) * likeBonusStep
		if likeBonus > likeBonusCap {
			likeBonus = likeBonusCap
		}
		combined := similarityWeight*similarity + likeBonus - dislikePenalty*float64(chain.DislikeCount)

		if best == nil || combined > bestCombined {
			bestCombined = combined
			best = &models.CacheAnswer{
				Question:       hit.Text,
				Answer:         chain.Answer,
				ThoughtChainID: chain.UUID,
				ThoughtChain:   chain,
				Similarity:     similarity,
				Documents:      chain.DocumentsUsed,
				LikeCount:      chain.LikeCount,
				DislikeCount:   chain.DislikeCount,
			}
		}
	}
	return best
}

// UpdateFeedback records one user's like or dislike on a chain and evicts
// the cache entry once dislikes outrun likes by the eviction margin.
// Duplicate feedback from the same user surfaces models.ErrDuplicateFeedback.
func (c *QACache) UpdateFeedback(ctx context.Context, thoughtChainID, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error) {
	chain, err := c.chains.ApplyFeedback(ctx, thoughtChainID, userID, kind)
	if err != nil {
		return nil, err
	}

	// Eviction is retried on every later feedback while the chain still
	// carries a cache reference, which also repairs entries whose vector
	// was already deleted.
	if chain.IsCached && chain.EvictionDue() {
		if err := c.evict(ctx, chain); err != nil {
			log.Printf("qacache: evicting chain %s failed: %v", chain.UUID, err)
		}
	}
	return chain, nil
}

// Evict removes the chain's cache entry unconditionally. Missing chains
// and already-evicted entries are not errors.
func (c *QACache) Evict(ctx context.Context, thoughtChainID string) error {
	chain, err := c.chains.GetByUUID(ctx, thoughtChainID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("loading chain: %w", err)
	}
	return c.evict(ctx, chain)
}

// evict deletes the cache vector before clearing the chain's cache
// reference. A crash in between leaves is_cached=true pointing at a
// missing vector; the next eviction attempt clears it.
func (c *QACache) evict(ctx context.Context, chain *models.ThoughtChain) error {
	if _, err := c.store.DeleteByFilter(ctx, c.collection, map[string]any{"thought_chain_id": chain.UUID}); err != nil {
		return fmt.Errorf("deleting cache vector: %w", err)
	}
	if err := c.chains.ClearCacheRef(ctx, chain.UUID); err != nil {
		return fmt.Errorf("clearing cache ref: %w", err)
	}
	chain.IsCached = false
	chain.QAVectorID = nil
	return nil
}
