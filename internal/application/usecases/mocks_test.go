package usecases

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sibylhq/sibyl/internal/application/agent"
	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

type fakeSessionRepo struct {
	created           []*models.Session
	lastMessageWrites []string
	deleted           []string

	getFn               func(uuid string) (*models.Session, error)
	createFn            func(session *models.Session) error
	listFn              func(userID string, limit, offset int) ([]*models.Session, error)
	updateNameFn        func(uuid, name string) error
	updateLastMessageFn func(uuid, lastMessage string) error
	deleteFn            func(uuid string) error
}

func (f *fakeSessionRepo) Create(_ context.Context, session *models.Session) error {
	if f.createFn != nil {
		return f.createFn(session)
	}
	f.created = append(f.created, session)
	return nil
}

func (f *fakeSessionRepo) GetByUUID(_ context.Context, uuid string) (*models.Session, error) {
	if f.getFn != nil {
		return f.getFn(uuid)
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSessionRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]*models.Session, error) {
	if f.listFn != nil {
		return f.listFn(userID, limit, offset)
	}
	return nil, nil
}

func (f *fakeSessionRepo) UpdateName(_ context.Context, uuid, name string) error {
	if f.updateNameFn != nil {
		return f.updateNameFn(uuid, name)
	}
	return nil
}

func (f *fakeSessionRepo) UpdateLastMessage(_ context.Context, uuid, lastMessage string) error {
	f.lastMessageWrites = append(f.lastMessageWrites, lastMessage)
	if f.updateLastMessageFn != nil {
		return f.updateLastMessageFn(uuid, lastMessage)
	}
	return nil
}

func (f *fakeSessionRepo) Delete(_ context.Context, uuid string) error {
	f.deleted = append(f.deleted, uuid)
	if f.deleteFn != nil {
		return f.deleteFn(uuid)
	}
	return nil
}

type fakeMessageRepo struct {
	created          []*models.Message
	extraWrites      map[string]map[string]any
	deletedBySession []string

	createFn          func(msg *models.Message) error
	getFn             func(uuid string) (*models.Message, error)
	listFn            func(sessionID string, limit, offset int) ([]*models.Message, error)
	countFn           func(sessionID string) (int, error)
	updateExtraFn     func(uuid string, extra map[string]any) error
	deleteBySessionFn func(sessionID string) error
}

func (f *fakeMessageRepo) Create(_ context.Context, msg *models.Message) error {
	if f.createFn != nil {
		if err := f.createFn(msg); err != nil {
			return err
		}
	}
	f.created = append(f.created, msg)
	return nil
}

func (f *fakeMessageRepo) GetByUUID(_ context.Context, uuid string) (*models.Message, error) {
	if f.getFn != nil {
		return f.getFn(uuid)
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeMessageRepo) ListBySession(_ context.Context, sessionID string, limit, offset int) ([]*models.Message, error) {
	if f.listFn != nil {
		return f.listFn(sessionID, limit, offset)
	}
	return nil, nil
}

func (f *fakeMessageRepo) LatestSummary(_ context.Context, sessionID string) (*models.Message, error) {
	return nil, pgx.ErrNoRows
}

func (f *fakeMessageRepo) ListAfter(_ context.Context, sessionID string, after time.Time) ([]*models.Message, error) {
	return nil, nil
}

func (f *fakeMessageRepo) CountSince(_ context.Context, sessionID string, after time.Time) (int, error) {
	return 0, nil
}

func (f *fakeMessageRepo) CountBySession(_ context.Context, sessionID string) (int, error) {
	if f.countFn != nil {
		return f.countFn(sessionID)
	}
	return 0, nil
}

func (f *fakeMessageRepo) UpdateExtra(_ context.Context, uuid string, extra map[string]any) error {
	if f.updateExtraFn != nil {
		return f.updateExtraFn(uuid, extra)
	}
	if f.extraWrites == nil {
		f.extraWrites = map[string]map[string]any{}
	}
	f.extraWrites[uuid] = extra
	return nil
}

func (f *fakeMessageRepo) DeleteBySession(_ context.Context, sessionID string) error {
	f.deletedBySession = append(f.deletedBySession, sessionID)
	if f.deleteBySessionFn != nil {
		return f.deleteBySessionFn(sessionID)
	}
	return nil
}

// fakeHistory signals through test-provided funcs; the summarize and
// auto-name hooks run on a detached goroutine, so tests synchronize over
// channels instead of reading shared fields.
type fakeHistory struct {
	loadFn           func(sessionID string) ([]models.ChatTurn, error)
	maybeSummarizeFn func(sessionID string) error
	autoNameFn       func(sessionID, firstQuestion, firstAnswer string) error
}

func (f *fakeHistory) Load(_ context.Context, sessionID string) ([]models.ChatTurn, error) {
	if f.loadFn != nil {
		return f.loadFn(sessionID)
	}
	return nil, nil
}

func (f *fakeHistory) MaybeSummarize(_ context.Context, sessionID string) error {
	if f.maybeSummarizeFn != nil {
		return f.maybeSummarizeFn(sessionID)
	}
	return nil
}

func (f *fakeHistory) AutoNameSession(_ context.Context, sessionID, firstQuestion, firstAnswer string) error {
	if f.autoNameFn != nil {
		return f.autoNameFn(sessionID, firstQuestion, firstAnswer)
	}
	return nil
}

type fakeQACache struct {
	findCalls  []string
	skipFlags  []bool
	evictCalls []string

	findFn     func(question, userID string, skipCache bool) (*models.CacheAnswer, error)
	feedbackFn func(thoughtChainID, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error)
	evictFn    func(thoughtChainID string) error
}

func (f *fakeQACache) FindSimilar(_ context.Context, question, userID string, skipCache bool) (*models.CacheAnswer, error) {
	f.findCalls = append(f.findCalls, question)
	f.skipFlags = append(f.skipFlags, skipCache)
	if f.findFn != nil {
		return f.findFn(question, userID, skipCache)
	}
	return nil, nil
}

func (f *fakeQACache) UpdateFeedback(_ context.Context, thoughtChainID, userID string, kind models.FeedbackKind) (*models.ThoughtChain, error) {
	if f.feedbackFn != nil {
		return f.feedbackFn(thoughtChainID, userID, kind)
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeQACache) Evict(_ context.Context, thoughtChainID string) error {
	f.evictCalls = append(f.evictCalls, thoughtChainID)
	if f.evictFn != nil {
		return f.evictFn(thoughtChainID)
	}
	return nil
}

type fakeTrace struct {
	saved      []*models.ThoughtChain
	cacheFlags []bool

	saveFn func(chain *models.ThoughtChain, shouldCache bool) error
}

func (f *fakeTrace) SaveChain(_ context.Context, chain *models.ThoughtChain, shouldCache bool) error {
	if f.saveFn != nil {
		if err := f.saveFn(chain, shouldCache); err != nil {
			return err
		}
	}
	f.saved = append(f.saved, chain)
	f.cacheFlags = append(f.cacheFlags, shouldCache)
	return nil
}

type fakeJudge struct {
	evaluations []string
	awaited     []string

	shouldFn func(question, answer string) bool
	awaitFn  func(evaluationID string, timeout time.Duration) bool
}

func (f *fakeJudge) ShouldCache(_ context.Context, question, answer string) bool {
	if f.shouldFn != nil {
		return f.shouldFn(question, answer)
	}
	return false
}

func (f *fakeJudge) EvaluateAsync(evaluationID, question, answer string) {
	f.evaluations = append(f.evaluations, evaluationID)
}

func (f *fakeJudge) Await(evaluationID string, timeout time.Duration) bool {
	f.awaited = append(f.awaited, evaluationID)
	if f.awaitFn != nil {
		return f.awaitFn(evaluationID, timeout)
	}
	return false
}

type fakeAgent struct {
	called bool
	inputs []agent.Input

	runFn func(ctx context.Context, in agent.Input) (*agent.Result, error)
}

func (f *fakeAgent) Run(ctx context.Context, in agent.Input) (*agent.Result, error) {
	f.called = true
	f.inputs = append(f.inputs, in)
	if f.runFn != nil {
		return f.runFn(ctx, in)
	}
	return &agent.Result{Answer: "stub answer"}, nil
}

type fakeAnalyzer struct {
	analyzeFn func(data []byte, filename string, sink func(models.StreamEvent)) (*ports.ImageAnalysis, error)
}

func (f *fakeAnalyzer) AnalyzeStream(_ context.Context, data []byte, filename string, sink func(models.StreamEvent)) (*ports.ImageAnalysis, error) {
	if f.analyzeFn != nil {
		return f.analyzeFn(data, filename, sink)
	}
	return &ports.ImageAnalysis{CombinedContent: "an image"}, nil
}

type fakeKV struct {
	lastAnswers map[string]*models.Message
	counters    []string
}

func (f *fakeKV) SetEmailCode(_ context.Context, email, code string, ttl time.Duration) error {
	return nil
}

func (f *fakeKV) VerifyEmailCode(_ context.Context, email, code string) (bool, error) {
	return false, nil
}

func (f *fakeKV) IncrCounter(_ context.Context, name string, window time.Duration) (int64, error) {
	f.counters = append(f.counters, name)
	return int64(len(f.counters)), nil
}

func (f *fakeKV) GetCounter(_ context.Context, name string) (int64, error) {
	return 0, nil
}

func (f *fakeKV) SetLastAnswer(_ context.Context, sessionID string, message *models.Message, ttl time.Duration) error {
	if f.lastAnswers == nil {
		f.lastAnswers = map[string]*models.Message{}
	}
	f.lastAnswers[sessionID] = message
	return nil
}

func (f *fakeKV) GetLastAnswer(_ context.Context, sessionID string) (*models.Message, error) {
	return f.lastAnswers[sessionID], nil
}

func (f *fakeKV) Delete(_ context.Context, key string) error {
	return nil
}

type fakeDocRepo struct {
	created  []*models.Document
	statuses []models.DocumentStatus
	deleted  []string

	createFn       func(doc *models.Document) error
	getFn          func(uuid string) (*models.Document, error)
	listFn         func(limit, offset int) ([]*models.Document, error)
	updateStatusFn func(uuid string, status models.DocumentStatus, reset bool) error
	deleteFn       func(uuid string) error
}

func (f *fakeDocRepo) Create(_ context.Context, doc *models.Document) error {
	if f.createFn != nil {
		if err := f.createFn(doc); err != nil {
			return err
		}
	}
	f.created = append(f.created, doc)
	return nil
}

func (f *fakeDocRepo) GetByUUID(_ context.Context, uuid string) (*models.Document, error) {
	if f.getFn != nil {
		return f.getFn(uuid)
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeDocRepo) List(_ context.Context, limit, offset int) ([]*models.Document, error) {
	if f.listFn != nil {
		return f.listFn(limit, offset)
	}
	return nil, nil
}

func (f *fakeDocRepo) UpdateStatus(_ context.Context, uuid string, status models.DocumentStatus, reset bool) error {
	f.statuses = append(f.statuses, status)
	if f.updateStatusFn != nil {
		return f.updateStatusFn(uuid, status, reset)
	}
	return nil
}

func (f *fakeDocRepo) SetCompleted(_ context.Context, uuid string, pageCount int, extra map[string]any) error {
	return nil
}

func (f *fakeDocRepo) SetExtra(_ context.Context, uuid string, extra map[string]any) error {
	return nil
}

func (f *fakeDocRepo) Delete(_ context.Context, uuid string) error {
	f.deleted = append(f.deleted, uuid)
	if f.deleteFn != nil {
		return f.deleteFn(uuid)
	}
	return nil
}

type fakeBus struct {
	produced []*models.Task

	produceFn func(task *models.Task) error
}

func (f *fakeBus) Produce(_ context.Context, task *models.Task) error {
	if f.produceFn != nil {
		if err := f.produceFn(task); err != nil {
			return err
		}
	}
	f.produced = append(f.produced, task)
	return nil
}

func (f *fakeBus) Consume(handler ports.TaskHandler) error { return nil }

func (f *fakeBus) Stop(_ context.Context) error { return nil }

type fakeExtractor struct{}

func (f *fakeExtractor) Extract(_ context.Context, data []byte, filename string) (string, error) {
	return string(data), nil
}

func (f *fakeExtractor) SupportedExtensions() []string {
	return []string{".txt", ".md", ".html"}
}

// fakeTxManager runs the callback directly; the repos are fakes anyway.
type fakeTxManager struct {
	calls int
}

func (f *fakeTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type fakeIDGen struct {
	mu     sync.Mutex
	counts map[string]int
}

func (g *fakeIDGen) next(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.counts == nil {
		g.counts = map[string]int{}
	}
	g.counts[prefix]++
	return fmt.Sprintf("%s-%d", prefix, g.counts[prefix])
}

func (g *fakeIDGen) GenerateDocumentID() string       { return g.next("doc") }
func (g *fakeIDGen) GenerateSessionID() string        { return g.next("sess") }
func (g *fakeIDGen) GenerateUserMessageID() string    { return g.next("umsg") }
func (g *fakeIDGen) GenerateAIMessageID() string      { return g.next("amsg") }
func (g *fakeIDGen) GenerateSummaryMessageID() string { return g.next("smsg") }
func (g *fakeIDGen) GenerateThoughtChainID() string   { return g.next("chain") }
