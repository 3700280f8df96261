package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

const (
	// DefaultTopK is used when a caller leaves SearchInput.TopK unset.
	DefaultTopK = 5

	// nearDuplicateDelta is the minimum active-score gap between two kept
	// passages. Chunks scoring within this band of an already kept chunk
	// are treated as near-duplicates and dropped.
	nearDuplicateDelta = 0.02

	// defaultRerankThreshold keeps every reranked passage. Callers that
	// want a cut pass an explicit threshold.
	defaultRerankThreshold = -100
)

// Retriever implements ports.RetrievalService: embed the query, over-fetch
// from the vector store, filter by permission, optionally rerank, then
// deduplicate down to top-k.
type Retriever struct {
	embedder   ports.EmbeddingService
	store      ports.VectorStore
	reranker   ports.RerankService // nil disables reranking
	collection string
}

func NewRetriever(embedder ports.EmbeddingService, store ports.VectorStore, reranker ports.RerankService, collection string) *Retriever {
	return &Retriever{
		embedder:   embedder,
		store:      store,
		reranker:   reranker,
		collection: collection,
	}
}

// Search runs one retrieval pass. Results are sorted by active score
// descending, contain at most input.TopK passages, and never include
// admin-only chunks for public callers.
func (r *Retriever) Search(ctx context.Context, input ports.SearchInput) ([]models.RetrievedPassage, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	topK := input.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// Over-fetch so permission filtering and deduplication still leave
	// enough candidates to fill topK.
	hits, err := r.store.Search(ctx, r.collection, vector, 2*topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	passages := make([]models.RetrievedPassage, 0, len(hits))
	for _, hit := range hits {
		if len(input.Filter) > 0 && !matchesFilter(hit.Metadata, input.Filter) {
			continue
		}
		// Chunks without a permission tag are treated as public. Admin
		// chunks are invisible to public callers.
		if hit.Permission() == models.PermissionAdminOnly && input.UserPermission != models.PermissionAdminOnly {
			continue
		}
		passages = append(passages, models.RetrievedPassage{
			ID:       hit.ID,
			Text:     hit.Text,
			Metadata: hit.Metadata,
			Score:    hit.Score,
		})
	}
	if len(passages) == 0 {
		return nil, nil
	}

	if input.UseReranker && r.reranker != nil {
		threshold := input.RerankScoreThreshold
		if threshold == 0 {
			threshold = defaultRerankThreshold
		}
		reranked, err := r.reranker.Rerank(ctx, query, passages, 2*topK, threshold)
		if err != nil {
			// Reranking refines ordering but is not load-bearing; fall
			// back to the vector order instead of failing the search.
			log.Printf("retriever: rerank failed, keeping vector order: %v", err)
		} else {
			passages = reranked
		}
	}

	return dedupeByScore(passages, topK), nil
}

// GetContext formats the top passages into numbered blocks and stops
// before the first block that would push the output past maxContextChars.
func (r *Retriever) GetContext(ctx context.Context, query string, topK, maxContextChars int) (string, error) {
	passages, err := r.Search(ctx, ports.SearchInput{
		Query:          query,
		TopK:           topK,
		UserPermission: models.PermissionPublic,
		UseReranker:    r.reranker != nil,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i, p := range passages {
		block := formatContextBlock(i+1, p)
		if b.Len()+len(block) > maxContextChars {
			break
		}
		b.WriteString(block)
	}
	return strings.TrimSpace(b.String()), nil
}

func formatContextBlock(n int, p models.RetrievedPassage) string {
	label := fmt.Sprintf("score: %.2f", p.Score)
	if p.RerankScore != nil {
		label = fmt.Sprintf("rerank score: %.2f", *p.RerankScore)
	}
	return fmt.Sprintf("[Doc %d - %s (%s)]\n%s\n\n", n, passageFilename(p.Metadata), label, p.Text)
}

func passageFilename(metadata map[string]any) string {
	if name, ok := metadata["filename"].(string); ok && name != "" {
		return name
	}
	return "unknown"
}

// matchesFilter compares metadata values by their printed form, matching
// how the store compiles filters against JSONB text.
func matchesFilter(metadata, filter map[string]any) bool {
	for key, want := range filter {
		got, ok := metadata[key]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// dedupeByScore sorts passages by active score descending and keeps a
// passage only when its score sits more than nearDuplicateDelta away from
// every passage already kept. Near-identical chunks embed at
// near-identical distances, so the score gap stands in for a text diff.
func dedupeByScore(passages []models.RetrievedPassage, topK int) []models.RetrievedPassage {
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].ActiveScore() > passages[j].ActiveScore()
	})

	kept := make([]models.RetrievedPassage, 0, topK)
	for _, p := range passages {
		if len(kept) >= topK {
			break
		}
		duplicate := false
		for _, k := range kept {
			if math.Abs(p.ActiveScore()-k.ActiveScore()) <= nearDuplicateDelta {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, p)
		}
	}
	return kept
}
