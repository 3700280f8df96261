package ports

import (
	"context"
	"time"

	"github.com/sibylhq/sibyl/internal/domain/models"
)

// LLMMessage represents a message in the LLM conversation context
type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMResponse represents a non-streaming response from the LLM
type LLMResponse struct {
	Content string `json:"content,omitempty"`
}

// LLMStreamChunk represents a streaming chunk from the LLM
type LLMStreamChunk struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done"`
	Error   error  `json:"error,omitempty"`
}

// LLMService defines the interface for LLM interactions
type LLMService interface {
	Chat(ctx context.Context, messages []LLMMessage) (*LLMResponse, error)
	ChatStream(ctx context.Context, messages []LLMMessage) (<-chan LLMStreamChunk, error)
}

// EmbeddingService encodes text into unit-norm vectors. Query and passage
// encodings may carry different prompt prefixes; passages never receive
// the query prefix.
type EmbeddingService interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedPassages(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	Dimensions() int
}

// RerankService scores (query, passage) pairs with a cross-encoder and
// returns the passages reordered by descending score, dropping entries
// below the threshold. A very negative threshold disables the cut.
type RerankService interface {
	Rerank(ctx context.Context, query string, passages []models.RetrievedPassage, topK int, threshold float64) ([]models.RetrievedPassage, error)
}

// VectorStore is a typed wrapper over the vector index. A collection is
// created idempotently and rows become searchable once Insert returns.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	Insert(ctx context.Context, collection string, rows []models.VectorRow) ([]int64, error)
	Search(ctx context.Context, collection string, vector []float32, k int) ([]models.Hit, error)
	// Query filters on metadata equality only.
	Query(ctx context.Context, collection string, filter map[string]any, limit int) ([]models.Hit, error)
	Count(ctx context.Context, collection string, filter map[string]any) (int64, error)
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) (int64, error)
}

// CounterChatTurns is the rolling 24h turn counter the orchestrator bumps
// once per answered turn.
const CounterChatTurns = "chat_turns"

// KVStore is the small-value cache: verification codes, counters, and the
// per-session last-answer cache.
type KVStore interface {
	SetEmailCode(ctx context.Context, email, code string, ttl time.Duration) error
	// VerifyEmailCode consumes the code on a successful match.
	VerifyEmailCode(ctx context.Context, email, code string) (bool, error)
	IncrCounter(ctx context.Context, name string, window time.Duration) (int64, error)
	GetCounter(ctx context.Context, name string) (int64, error)
	SetLastAnswer(ctx context.Context, sessionID string, message *models.Message, ttl time.Duration) error
	GetLastAnswer(ctx context.Context, sessionID string) (*models.Message, error)
	Delete(ctx context.Context, key string) error
}

// SearchInput parameterizes one retrieval call.
type SearchInput struct {
	Query                string
	TopK                 int
	UserPermission       models.Permission
	UseReranker          bool
	RerankScoreThreshold float64
	// Filter restricts candidates by chunk metadata equality before
	// permission filtering, e.g. {"source": "handbook"}.
	Filter map[string]any
}

// RetrievalService is the permission-filtered, deduplicated search over
// the documents collection.
type RetrievalService interface {
	Search(ctx context.Context, input SearchInput) ([]models.RetrievedPassage, error)
	// GetContext formats top passages into a bounded context block.
	GetContext(ctx context.Context, query string, topK, maxContextChars int) (string, error)
}

// QACacheService looks up answers to semantically similar past questions
// and maintains the feedback-driven lifecycle of cached entries.
type QACacheService interface {
	FindSimilar(ctx context.Context, question, userID string, skipCache bool) (*models.CacheAnswer, error)
	UpdateFeedback(ctx context.Context, thoughtChainID, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error)
	// Evict removes the chain's cache entry unconditionally (regeneration
	// path); missing entries are not an error.
	Evict(ctx context.Context, thoughtChainID string) error
}

// TraceService persists a completed reasoning trace and, when approved,
// inserts the question into the QA cache collection.
type TraceService interface {
	SaveChain(ctx context.Context, chain *models.ThoughtChain, shouldCache bool) error
}

// QAJudgeService decides whether a finished Q/A pair is worth caching.
type QAJudgeService interface {
	ShouldCache(ctx context.Context, question, answer string) bool
	// EvaluateAsync runs the judgement in the background, keyed by
	// evaluationID, for the orchestrator to await with a deadline.
	EvaluateAsync(evaluationID, question, answer string)
	// Await blocks until the keyed judgement lands or the timeout lapses;
	// the default on timeout is false.
	Await(evaluationID string, timeout time.Duration) bool
}

// HistoryService manages bounded conversation context.
type HistoryService interface {
	Load(ctx context.Context, sessionID string) ([]models.ChatTurn, error)
	MaybeSummarize(ctx context.Context, sessionID string) error
	AutoNameSession(ctx context.Context, sessionID, firstQuestion, firstAnswer string) error
}

// IngestService is the chunk-embed-index pipeline consumed from the bus.
type IngestService interface {
	HandleTask(ctx context.Context, task *models.Task) error
}

// Extractor turns an uploaded file into plain text, dispatched by
// extension. Formats outside the supported set return an error.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string) (string, error)
	SupportedExtensions() []string
}

// ImageAnalysis is the final result of an image analysis stream.
type ImageAnalysis struct {
	CombinedContent   string `json:"combined_content"`
	ImageInfo         string `json:"image_info"`
	OCRText           string `json:"ocr_text"`
	VisionDescription string `json:"vision_description"`
}

// ImageAnalyzer drives OCR + captioning over an uploaded image, streaming
// progress as thought events and finishing with the combined analysis.
type ImageAnalyzer interface {
	AnalyzeStream(ctx context.Context, data []byte, filename string, sink func(models.StreamEvent)) (*ImageAnalysis, error)
}
