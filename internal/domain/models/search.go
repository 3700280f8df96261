package models

// VectorRow is one row written to a vector collection. Embeddings are
// unit-norm; normalization is the caller's responsibility.
type VectorRow struct {
	Embedding []float32
	Text      string
	Metadata  map[string]any
}

// Hit is one raw vector search result. Distance is cosine distance;
// Score = 1 / (1 + Distance).
type Hit struct {
	ID       int64          `json:"id"`
	Distance float64        `json:"distance"`
	Score    float64        `json:"score"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// Permission reads the chunk's permission level out of its metadata.
// A missing or malformed field is treated as PUBLIC.
func (h Hit) Permission() Permission {
	v, ok := h.Metadata["permission"]
	if !ok {
		return PermissionPublic
	}
	switch p := v.(type) {
	case float64:
		return Permission(int(p))
	case int:
		return Permission(p)
	case int64:
		return Permission(int(p))
	default:
		return PermissionPublic
	}
}

// RetrievedPassage is a retriever result after permission filtering,
// optional reranking and near-duplicate pruning.
type RetrievedPassage struct {
	ID          int64          `json:"id"`
	Text        string         `json:"text"`
	Metadata    map[string]any `json:"metadata"`
	Score       float64        `json:"score"`
	RerankScore *float64       `json:"rerank_score,omitempty"`
}

// ActiveScore is the score duplicates are pruned on: the rerank score when
// the reranker ran, the vector score otherwise.
func (p RetrievedPassage) ActiveScore() float64 {
	if p.RerankScore != nil {
		return *p.RerankScore
	}
	return p.Score
}

// CacheAnswer is a QA cache hit: the cached answer plus the chain it came
// from and the feedback counters at lookup time.
type CacheAnswer struct {
	Question       string        `json:"question"`
	Answer         string        `json:"answer"`
	ThoughtChainID string        `json:"thought_chain_id"`
	ThoughtChain   *ThoughtChain `json:"-"`
	Similarity     float64       `json:"similarity"`
	Documents      []DocumentRef `json:"documents"`
	LikeCount      int           `json:"like_count"`
	DislikeCount   int           `json:"dislike_count"`
}
