package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

// Function-field fakes. A nil field falls back to a harmless default so
// each test only wires the calls it cares about.

type fakeEmbedder struct {
	queryFn    func(ctx context.Context, text string) ([]float32, error)
	passagesFn func(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	dims       int
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.queryFn != nil {
		return f.queryFn(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedPassages(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if f.passagesFn != nil {
		return f.passagesFn(ctx, texts, batchSize)
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimensions() int {
	if f.dims > 0 {
		return f.dims
	}
	return 3
}

type fakeVectorStore struct {
	ensureFn func(ctx context.Context, name string, dim int) error
	insertFn func(ctx context.Context, collection string, rows []models.VectorRow) ([]int64, error)
	searchFn func(ctx context.Context, collection string, vector []float32, k int) ([]models.Hit, error)
	queryFn  func(ctx context.Context, collection string, filter map[string]any, limit int) ([]models.Hit, error)
	countFn  func(ctx context.Context, collection string, filter map[string]any) (int64, error)
	deleteFn func(ctx context.Context, collection string, filter map[string]any) (int64, error)
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	if f.ensureFn != nil {
		return f.ensureFn(ctx, name, dim)
	}
	return nil
}

func (f *fakeVectorStore) Insert(ctx context.Context, collection string, rows []models.VectorRow) ([]int64, error) {
	if f.insertFn != nil {
		return f.insertFn(ctx, collection, rows)
	}
	ids := make([]int64, len(rows))
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids, nil
}

func (f *fakeVectorStore) Search(ctx context.Context, collection string, vector []float32, k int) ([]models.Hit, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, collection, vector, k)
	}
	return nil, nil
}

func (f *fakeVectorStore) Query(ctx context.Context, collection string, filter map[string]any, limit int) ([]models.Hit, error) {
	if f.queryFn != nil {
		return f.queryFn(ctx, collection, filter, limit)
	}
	return nil, nil
}

func (f *fakeVectorStore) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	if f.countFn != nil {
		return f.countFn(ctx, collection, filter)
	}
	return 0, nil
}

func (f *fakeVectorStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, collection, filter)
	}
	return 0, nil
}

type fakeReranker struct {
	rerankFn func(ctx context.Context, query string, passages []models.RetrievedPassage, topK int, threshold float64) ([]models.RetrievedPassage, error)
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, passages []models.RetrievedPassage, topK int, threshold float64) ([]models.RetrievedPassage, error) {
	if f.rerankFn != nil {
		return f.rerankFn(ctx, query, passages, topK, threshold)
	}
	return passages, nil
}

type fakeChainRepo struct {
	createFn   func(ctx context.Context, chain *models.ThoughtChain) error
	getFn      func(ctx context.Context, uuid string) (*models.ThoughtChain, error)
	feedbackFn func(ctx context.Context, uuid, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error)
	setRefFn   func(ctx context.Context, uuid string, vectorID int64) error
	clearRefFn func(ctx context.Context, uuid string) error
}

func (f *fakeChainRepo) Create(ctx context.Context, chain *models.ThoughtChain) error {
	if f.createFn != nil {
		return f.createFn(ctx, chain)
	}
	return nil
}

func (f *fakeChainRepo) GetByUUID(ctx context.Context, uuid string) (*models.ThoughtChain, error) {
	if f.getFn != nil {
		return f.getFn(ctx, uuid)
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeChainRepo) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.ThoughtChain, error) {
	return nil, nil
}

func (f *fakeChainRepo) ApplyFeedback(ctx context.Context, uuid, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error) {
	if f.feedbackFn != nil {
		return f.feedbackFn(ctx, uuid, userID, kind)
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeChainRepo) SetCacheRef(ctx context.Context, uuid string, vectorID int64) error {
	if f.setRefFn != nil {
		return f.setRefFn(ctx, uuid, vectorID)
	}
	return nil
}

func (f *fakeChainRepo) ClearCacheRef(ctx context.Context, uuid string) error {
	if f.clearRefFn != nil {
		return f.clearRefFn(ctx, uuid)
	}
	return nil
}

type fakeMessageRepo struct {
	createFn        func(ctx context.Context, message *models.Message) error
	latestSummaryFn func(ctx context.Context, sessionID string) (*models.Message, error)
	listAfterFn     func(ctx context.Context, sessionID string, after time.Time) ([]*models.Message, error)
	countSinceFn    func(ctx context.Context, sessionID string, after time.Time) (int, error)
	updateExtraFn   func(ctx context.Context, uuid string, extra map[string]any) error
}

func (f *fakeMessageRepo) Create(ctx context.Context, message *models.Message) error {
	if f.createFn != nil {
		return f.createFn(ctx, message)
	}
	return nil
}

func (f *fakeMessageRepo) GetByUUID(ctx context.Context, uuid string) (*models.Message, error) {
	return nil, pgx.ErrNoRows
}

func (f *fakeMessageRepo) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, error) {
	return nil, nil
}

func (f *fakeMessageRepo) LatestSummary(ctx context.Context, sessionID string) (*models.Message, error) {
	if f.latestSummaryFn != nil {
		return f.latestSummaryFn(ctx, sessionID)
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeMessageRepo) ListAfter(ctx context.Context, sessionID string, after time.Time) ([]*models.Message, error) {
	if f.listAfterFn != nil {
		return f.listAfterFn(ctx, sessionID, after)
	}
	return nil, nil
}

func (f *fakeMessageRepo) CountSince(ctx context.Context, sessionID string, after time.Time) (int, error) {
	if f.countSinceFn != nil {
		return f.countSinceFn(ctx, sessionID, after)
	}
	return 0, nil
}

func (f *fakeMessageRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	return 0, nil
}

func (f *fakeMessageRepo) UpdateExtra(ctx context.Context, uuid string, extra map[string]any) error {
	if f.updateExtraFn != nil {
		return f.updateExtraFn(ctx, uuid, extra)
	}
	return nil
}

func (f *fakeMessageRepo) DeleteBySession(ctx context.Context, sessionID string) error {
	return nil
}

type fakeSessionRepo struct {
	updateNameFn func(ctx context.Context, uuid, name string) error
}

func (f *fakeSessionRepo) Create(ctx context.Context, session *models.Session) error { return nil }

func (f *fakeSessionRepo) GetByUUID(ctx context.Context, uuid string) (*models.Session, error) {
	return nil, pgx.ErrNoRows
}

func (f *fakeSessionRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	return nil, nil
}

func (f *fakeSessionRepo) UpdateName(ctx context.Context, uuid, name string) error {
	if f.updateNameFn != nil {
		return f.updateNameFn(ctx, uuid, name)
	}
	return nil
}

func (f *fakeSessionRepo) UpdateLastMessage(ctx context.Context, uuid, lastMessage string) error {
	return nil
}

func (f *fakeSessionRepo) Delete(ctx context.Context, uuid string) error { return nil }

type fakeDocRepo struct {
	getFn          func(ctx context.Context, uuid string) (*models.Document, error)
	updateStatusFn func(ctx context.Context, uuid string, status models.DocumentStatus, reset bool) error
	setCompletedFn func(ctx context.Context, uuid string, pageCount int, extra map[string]any) error
}

func (f *fakeDocRepo) Create(ctx context.Context, document *models.Document) error { return nil }

func (f *fakeDocRepo) GetByUUID(ctx context.Context, uuid string) (*models.Document, error) {
	if f.getFn != nil {
		return f.getFn(ctx, uuid)
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeDocRepo) List(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	return nil, nil
}

func (f *fakeDocRepo) UpdateStatus(ctx context.Context, uuid string, status models.DocumentStatus, reset bool) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, uuid, status, reset)
	}
	return nil
}

func (f *fakeDocRepo) SetCompleted(ctx context.Context, uuid string, pageCount int, extra map[string]any) error {
	if f.setCompletedFn != nil {
		return f.setCompletedFn(ctx, uuid, pageCount, extra)
	}
	return nil
}

func (f *fakeDocRepo) SetExtra(ctx context.Context, uuid string, extra map[string]any) error {
	return nil
}

func (f *fakeDocRepo) Delete(ctx context.Context, uuid string) error { return nil }

type fakeLLM struct {
	chatFn func(ctx context.Context, messages []ports.LLMMessage) (*ports.LLMResponse, error)
}

func (f *fakeLLM) Chat(ctx context.Context, messages []ports.LLMMessage) (*ports.LLMResponse, error) {
	if f.chatFn != nil {
		return f.chatFn(ctx, messages)
	}
	return &ports.LLMResponse{Content: "ok"}, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, messages []ports.LLMMessage) (<-chan ports.LLMStreamChunk, error) {
	ch := make(chan ports.LLMStreamChunk)
	close(ch)
	return ch, nil
}

type fakeExtractor struct {
	extractFn func(ctx context.Context, data []byte, filename string) (string, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte, filename string) (string, error) {
	if f.extractFn != nil {
		return f.extractFn(ctx, data, filename)
	}
	return string(data), nil
}

func (f *fakeExtractor) SupportedExtensions() []string {
	return []string{".txt", ".md"}
}

type fakeIDGen struct {
	n int
}

func (f *fakeIDGen) next(prefix string) string {
	f.n++
	return fmt.Sprintf("%s-%d", prefix, f.n)
}

func (f *fakeIDGen) GenerateDocumentID() string       { return f.next("doc") }
func (f *fakeIDGen) GenerateSessionID() string        { return f.next("sess") }
func (f *fakeIDGen) GenerateUserMessageID() string    { return f.next("umsg") }
func (f *fakeIDGen) GenerateAIMessageID() string      { return f.next("amsg") }
func (f *fakeIDGen) GenerateSummaryMessageID() string { return f.next("smsg") }
func (f *fakeIDGen) GenerateThoughtChainID() string   { return f.next("chain") }
