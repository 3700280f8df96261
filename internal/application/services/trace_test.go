package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/sibylhq/sibyl/internal/domain/models"
)

func TestSaveChainPersistsWithoutCaching(t *testing.T) {
	created := false
	inserted := false
	var extra map[string]any

	chains := &fakeChainRepo{
		createFn: func(ctx context.Context, chain *models.ThoughtChain) error {
			created = true
			return nil
		},
	}
	store := &fakeVectorStore{
		insertFn: func(ctx context.Context, collection string, rows []models.VectorRow) ([]int64, error) {
			inserted = true
			return []int64{1}, nil
		},
	}
	messages := &fakeMessageRepo{
		updateExtraFn: func(ctx context.Context, uuid string, e map[string]any) error {
			if uuid != "amsg-1" {
				t.Errorf("extra written to message %s, want amsg-1", uuid)
			}
			extra = e
			return nil
		},
	}
	ts := NewTraceStore(chains, messages, &fakeEmbedder{}, store, "qa_cache", true)

	chain := testChain("chain-1", 0, 0)
	if err := ts.SaveChain(context.Background(), chain, false); err != nil {
		t.Fatalf("SaveChain: %v", err)
	}
	if !created {
		t.Error("chain not persisted")
	}
	if inserted {
		t.Error("cache entry inserted although shouldCache was false")
	}
	if extra == nil || extra["thought_chain_id"] != "chain-1" {
		t.Errorf("message extra = %v, want thought_chain_id back-reference", extra)
	}
	if chain.IsCached {
		t.Error("chain marked cached")
	}
}

func TestSaveChainCachesApprovedQuestion(t *testing.T) {
	var embedded string
	embedder := &fakeEmbedder{
		queryFn: func(ctx context.Context, text string) ([]float32, error) {
			embedded = text
			return []float32{1, 0, 0}, nil
		},
	}

	var row models.VectorRow
	store := &fakeVectorStore{
		insertFn: func(ctx context.Context, collection string, rows []models.VectorRow) ([]int64, error) {
			if collection != "qa_cache" {
				t.Errorf("inserted into %s, want qa_cache", collection)
			}
			if len(rows) != 1 {
				t.Fatalf("inserted %d rows, want 1", len(rows))
			}
			row = rows[0]
			return []int64{7}, nil
		},
	}

	var refID int64
	chains := &fakeChainRepo{
		setRefFn: func(ctx context.Context, uuid string, vectorID int64) error {
			refID = vectorID
			return nil
		},
	}
	ts := NewTraceStore(chains, &fakeMessageRepo{}, embedder, store, "qa_cache", true)

	chain := testChain("chain-1", 0, 0)
	if err := ts.SaveChain(context.Background(), chain, true); err != nil {
		t.Fatalf("SaveChain: %v", err)
	}

	if embedded != chain.Question {
		t.Errorf("embedded %q, want the question", embedded)
	}
	if row.Text != chain.Question {
		t.Errorf("cache entry text = %q, want the question", row.Text)
	}
	for _, key := range []string{"thought_chain_id", "session_id", "user_id", "answer_preview", "created_at"} {
		if _, ok := row.Metadata[key]; !ok {
			t.Errorf("cache entry metadata missing %s", key)
		}
	}
	if row.Metadata["thought_chain_id"] != "chain-1" {
		t.Errorf("metadata thought_chain_id = %v", row.Metadata["thought_chain_id"])
	}
	if refID != 7 {
		t.Errorf("SetCacheRef got vector id %d, want 7", refID)
	}
	if !chain.IsCached || chain.QAVectorID == nil || *chain.QAVectorID != 7 {
		t.Errorf("chain cache ref not updated: cached=%v ref=%v", chain.IsCached, chain.QAVectorID)
	}
}

func TestSaveChainSkipsCacheWhenDisabled(t *testing.T) {
	inserted := false
	store := &fakeVectorStore{
		insertFn: func(ctx context.Context, collection string, rows []models.VectorRow) ([]int64, error) {
			inserted = true
			return []int64{1}, nil
		},
	}
	ts := NewTraceStore(&fakeChainRepo{}, &fakeMessageRepo{}, &fakeEmbedder{}, store, "qa_cache", false)

	if err := ts.SaveChain(context.Background(), testChain("chain-1", 0, 0), true); err != nil {
		t.Fatalf("SaveChain: %v", err)
	}
	if inserted {
		t.Error("cache entry inserted with caching disabled")
	}
}

func TestSaveChainSurvivesCacheInsertFailure(t *testing.T) {
	refSet := false
	store := &fakeVectorStore{
		insertFn: func(ctx context.Context, collection string, rows []models.VectorRow) ([]int64, error) {
			return nil, fmt.Errorf("store down")
		},
	}
	chains := &fakeChainRepo{
		setRefFn: func(ctx context.Context, uuid string, vectorID int64) error {
			refSet = true
			return nil
		},
	}
	ts := NewTraceStore(chains, &fakeMessageRepo{}, &fakeEmbedder{}, store, "qa_cache", true)

	chain := testChain("chain-1", 0, 0)
	if err := ts.SaveChain(context.Background(), chain, true); err != nil {
		t.Fatalf("cache insertion is best effort, got error %v", err)
	}
	if refSet || chain.IsCached {
		t.Error("cache ref set although the vector insert failed")
	}
}

func TestSaveChainFailsWhenPersistFails(t *testing.T) {
	chains := &fakeChainRepo{
		createFn: func(ctx context.Context, chain *models.ThoughtChain) error {
			return fmt.Errorf("db down")
		},
	}
	ts := NewTraceStore(chains, &fakeMessageRepo{}, &fakeEmbedder{}, &fakeVectorStore{}, "qa_cache", true)

	err := ts.SaveChain(context.Background(), testChain("chain-1", 0, 0), false)
	if err == nil || !strings.Contains(err.Error(), "saving thought chain") {
		t.Fatalf("err = %v, want wrapped persistence failure", err)
	}
}

func TestPreviewAnswerBoundsRunes(t *testing.T) {
	long := strings.Repeat("界", answerPreviewLimit+50)
	got := previewAnswer(long)
	if n := utf8.RuneCountInString(got); n != answerPreviewLimit {
		t.Errorf("preview has %d runes, want %d", n, answerPreviewLimit)
	}
	if !utf8.ValidString(got) {
		t.Error("preview split a rune")
	}

	short := "short answer"
	if previewAnswer(short) != short {
		t.Errorf("short answer was truncated")
	}
}
