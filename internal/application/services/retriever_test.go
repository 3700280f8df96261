package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

func docHit(id int64, text string, score float64, metadata map[string]any) models.Hit {
	return models.Hit{ID: id, Text: text, Score: score, Metadata: metadata}
}

func TestRetrieverSearchFiltersPermission(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(ctx context.Context, collection string, vector []float32, k int) ([]models.Hit, error) {
			return []models.Hit{
				docHit(1, "public chunk", 0.95, map[string]any{"filename": "a.txt", "permission": float64(0)}),
				docHit(2, "admin chunk", 0.90, map[string]any{"filename": "b.txt", "permission": float64(1)}),
				docHit(3, "untagged chunk", 0.80, map[string]any{"filename": "c.txt"}),
			}, nil
		},
	}
	r := NewRetriever(&fakeEmbedder{}, store, nil, "documents")

	got, err := r.Search(context.Background(), ports.SearchInput{Query: "q", TopK: 5, UserPermission: models.PermissionPublic})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("public search returned %d passages, want 2", len(got))
	}
	for _, p := range got {
		if p.Text == "admin chunk" {
			t.Errorf("admin chunk leaked to public caller")
		}
	}

	got, err = r.Search(context.Background(), ports.SearchInput{Query: "q", TopK: 5, UserPermission: models.PermissionAdminOnly})
	if err != nil {
		t.Fatalf("Search as admin: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("admin search returned %d passages, want 3", len(got))
	}
}

func TestRetrieverSearchOverfetches(t *testing.T) {
	var gotK int
	store := &fakeVectorStore{
		searchFn: func(ctx context.Context, collection string, vector []float32, k int) ([]models.Hit, error) {
			gotK = k
			return nil, nil
		},
	}
	r := NewRetriever(&fakeEmbedder{}, store, nil, "documents")

	if _, err := r.Search(context.Background(), ports.SearchInput{Query: "q", TopK: 3}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotK != 6 {
		t.Errorf("store searched with k=%d, want 6", gotK)
	}
}

func TestRetrieverSearchDeduplicates(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(ctx context.Context, collection string, vector []float32, k int) ([]models.Hit, error) {
			return []models.Hit{
				docHit(1, "first", 0.90, nil),
				docHit(2, "echo of first", 0.89, nil),
				docHit(3, "second", 0.86, nil),
				docHit(4, "third", 0.70, nil),
			}, nil
		},
	}
	r := NewRetriever(&fakeEmbedder{}, store, nil, "documents")

	got, err := r.Search(context.Background(), ports.SearchInput{Query: "q", TopK: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %d passages, want %d", len(got), len(want))
	}
	for i, p := range got {
		if p.Text != want[i] {
			t.Errorf("passage %d = %q, want %q", i, p.Text, want[i])
		}
	}
	// Every surviving pair must sit further apart than the duplicate band.
	for i := 0; i < len(got); i++ {
		for j := i + 1; j < len(got); j++ {
			if gap := math.Abs(got[i].ActiveScore() - got[j].ActiveScore()); gap <= 0.02 {
				t.Errorf("passages %d and %d within duplicate band: gap %.3f", i, j, gap)
			}
		}
	}
}

func TestRetrieverSearchCutsAtTopK(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(ctx context.Context, collection string, vector []float32, k int) ([]models.Hit, error) {
			var hits []models.Hit
			for i := 0; i < 6; i++ {
				hits = append(hits, docHit(int64(i+1), fmt.Sprintf("chunk %d", i), 0.9-float64(i)*0.1, nil))
			}
			return hits, nil
		},
	}
	r := NewRetriever(&fakeEmbedder{}, store, nil, "documents")

	got, err := r.Search(context.Background(), ports.SearchInput{Query: "q", TopK: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d passages, want 2", len(got))
	}
}

func TestRetrieverSearchAppliesMetadataFilter(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(ctx context.Context, collection string, vector []float32, k int) ([]models.Hit, error) {
			return []models.Hit{
				docHit(1, "from handbook", 0.90, map[string]any{"source": "handbook"}),
				docHit(2, "from web", 0.85, map[string]any{"source": "web"}),
			}, nil
		},
	}
	r := NewRetriever(&fakeEmbedder{}, store, nil, "documents")

	got, err := r.Search(context.Background(), ports.SearchInput{
		Query:  "q",
		TopK:   5,
		Filter: map[string]any{"source": "handbook"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Text != "from handbook" {
		t.Errorf("filter kept %v, want only the handbook chunk", got)
	}
}

func TestRetrieverRerankReorders(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(ctx context.Context, collection string, vector []float32, k int) ([]models.Hit, error) {
			return []models.Hit{
				docHit(1, "vector favourite", 0.95, nil),
				docHit(2, "rerank favourite", 0.60, nil),
			}, nil
		},
	}
	var gotTopK int
	reranker := &fakeReranker{
		rerankFn: func(ctx context.Context, query string, passages []models.RetrievedPassage, topK int, threshold float64) ([]models.RetrievedPassage, error) {
			gotTopK = topK
			out := make([]models.RetrievedPassage, len(passages))
			copy(out, passages)
			for i := range out {
				score := 0.1
				if out[i].Text == "rerank favourite" {
					score = 0.9
				}
				s := score
				out[i].RerankScore = &s
			}
			return out, nil
		},
	}
	r := NewRetriever(&fakeEmbedder{}, store, reranker, "documents")

	got, err := r.Search(context.Background(), ports.SearchInput{Query: "q", TopK: 2, UseReranker: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotTopK != 4 {
		t.Errorf("reranker called with topK=%d, want 4", gotTopK)
	}
	if len(got) != 2 || got[0].Text != "rerank favourite" {
		t.Errorf("rerank order not honored: %+v", got)
	}
}

func TestRetrieverRerankFailureKeepsVectorOrder(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(ctx context.Context, collection string, vector []float32, k int) ([]models.Hit, error) {
			return []models.Hit{
				docHit(1, "best", 0.95, nil),
				docHit(2, "second", 0.60, nil),
			}, nil
		},
	}
	reranker := &fakeReranker{
		rerankFn: func(ctx context.Context, query string, passages []models.RetrievedPassage, topK int, threshold float64) ([]models.RetrievedPassage, error) {
			return nil, fmt.Errorf("reranker down")
		},
	}
	r := NewRetriever(&fakeEmbedder{}, store, reranker, "documents")

	got, err := r.Search(context.Background(), ports.SearchInput{Query: "q", TopK: 2, UseReranker: true})
	if err != nil {
		t.Fatalf("Search should absorb rerank failure, got %v", err)
	}
	if len(got) != 2 || got[0].Text != "best" {
		t.Errorf("vector order not preserved after rerank failure: %+v", got)
	}
}

func TestRetrieverSearchRejectsEmptyQuery(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{}, &fakeVectorStore{}, nil, "documents")
	if _, err := r.Search(context.Background(), ports.SearchInput{Query: "   "}); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestRetrieverSearchNoHits(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{}, &fakeVectorStore{}, nil, "documents")
	got, err := r.Search(context.Background(), ports.SearchInput{Query: "q", TopK: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d passages from empty store", len(got))
	}
}

func TestGetContextStopsBeforeOverflow(t *testing.T) {
	store := &fakeVectorStore{
		searchFn: func(ctx context.Context, collection string, vector []float32, k int) ([]models.Hit, error) {
			return []models.Hit{
				docHit(1, "chunk one text", 0.90, map[string]any{"filename": "a.txt"}),
				docHit(2, "chunk two text", 0.70, map[string]any{"filename": "b.txt"}),
			}, nil
		},
	}
	r := NewRetriever(&fakeEmbedder{}, store, nil, "documents")

	full, err := r.GetContext(context.Background(), "q", 5, 10000)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if !strings.Contains(full, "[Doc 1 - a.txt (score: 0.90)]") || !strings.Contains(full, "[Doc 2 - b.txt (score: 0.70)]") {
		t.Errorf("unexpected context:\n%s", full)
	}

	firstBlock := "[Doc 1 - a.txt (score: 0.90)]\nchunk one text\n\n"
	budget := len(firstBlock) + 5
	short, err := r.GetContext(context.Background(), "q", 5, budget)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if strings.Contains(short, "Doc 2") {
		t.Errorf("context exceeded budget:\n%s", short)
	}
	if !strings.Contains(short, "chunk one text") {
		t.Errorf("context lost the first block:\n%s", short)
	}
}
