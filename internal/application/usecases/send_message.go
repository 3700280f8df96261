package usecases

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sibylhq/sibyl/internal/application/agent"
	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

const (
	// judgeAwaitTimeout bounds how long a finished turn waits for the
	// cacheability verdict. The default on timeout is "do not cache".
	judgeAwaitTimeout = 3 * time.Second

	// lastAnswerTTL is the KV retention of the per-session last answer.
	lastAnswerTTL = time.Hour

	// sessionNameSeedRunes is how much of the first question seeds the
	// placeholder session name until auto-naming replaces it.
	sessionNameSeedRunes = 10

	// backgroundTimeout bounds the detached post-turn work.
	backgroundTimeout = 30 * time.Second

	// assistantSendID is the send_id recorded on AI message rows.
	assistantSendID = "sibyl"
)

// turnFallbackAnswer is streamed when the agent fails outright, so the
// client still receives an answer and a terminal event.
const turnFallbackAnswer = "I'm sorry, something went wrong while answering your question. Please try again."

// SendMessageInput carries one user turn into the orchestrator.
type SendMessageInput struct {
	SessionID  string // empty starts a new session
	UserID     string
	UserName   string
	UserAvatar string
	IsAdmin    bool

	Content string

	// Image holds raw image bytes for the vision path.
	Image []byte
	// FileText holds text already extracted from an attached document.
	FileText string
	FileName string
	FileType string
	FileSize int64

	Location     string
	ShowThinking bool

	// SkipCache forces a fresh agent run. With RegenerateMessageID set it
	// also evicts the cache entry behind the answer being regenerated.
	SkipCache           bool
	RegenerateMessageID string
}

// SendMessage runs one complete chat turn and streams progress events:
// session resolution, attachment analysis, persistence, the cached or
// agent-generated answer, trace capture and the post-turn bookkeeping.
type SendMessage struct {
	sessions  ports.SessionRepository
	messages  ports.MessageRepository
	history   ports.HistoryService
	qaCache   ports.QACacheService
	traces    ports.TraceService
	judge     ports.QAJudgeService
	agent     agent.Agent
	analyzer  ports.ImageAnalyzer
	kv        ports.KVStore
	ids       ports.IDGenerator
	modelName string
}

// NewSendMessage creates the chat turn orchestrator. analyzer may be nil
// when no vision model is configured; image turns are then rejected.
func NewSendMessage(
	sessions ports.SessionRepository,
	messages ports.MessageRepository,
	history ports.HistoryService,
	qaCache ports.QACacheService,
	traces ports.TraceService,
	judge ports.QAJudgeService,
	agent agent.Agent,
	analyzer ports.ImageAnalyzer,
	kv ports.KVStore,
	ids ports.IDGenerator,
	modelName string,
) *SendMessage {
	return &SendMessage{
		sessions:  sessions,
		messages:  messages,
		history:   history,
		qaCache:   qaCache,
		traces:    traces,
		judge:     judge,
		agent:     agent,
		analyzer:  analyzer,
		kv:        kv,
		ids:       ids,
		modelName: modelName,
	}
}

// Execute validates the turn and returns the event stream. Events are
// produced by a separate goroutine; the channel closes after the terminal
// done or error event, or silently when ctx is canceled mid-turn.
func (uc *SendMessage) Execute(ctx context.Context, input *SendMessageInput) (<-chan models.StreamEvent, error) {
	if input.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(input.Content) == "" && len(input.Image) == 0 {
		return nil, fmt.Errorf("message content is empty")
	}

	events := make(chan models.StreamEvent, 32)
	go func() {
		defer close(events)
		uc.run(ctx, input, events)
	}()
	return events, nil
}

func (uc *SendMessage) run(ctx context.Context, input *SendMessageInput, events chan<- models.StreamEvent) {
	emit := func(ev models.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	// fail surfaces a step failure as the stream's terminal event. A
	// canceled context means the client is gone and nothing is emitted.
	fail := func(stage string, err error) {
		log.Printf("send message: failed to %s: %v", stage, err)
		if ctx.Err() == nil {
			emit(models.ErrorEvent(fmt.Sprintf("failed to %s", stage)))
		}
	}

	// 1. Resolve the session, creating one for a first turn.
	session, created, err := uc.resolveSession(ctx, input)
	if err != nil {
		fail("resolve session", err)
		return
	}
	if created && !emit(models.SessionCreatedEvent(session.UUID, session.Name)) {
		return
	}

	// 2. Fold attachments into the question the agent will see. The
	// message row keeps the original content.
	enhanced, err := uc.enhanceContent(ctx, input, emit)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		fail("analyze attachment", err)
		return
	}

	// 3. Persist the user turn.
	userMsg := uc.buildUserMessage(session.UUID, input)
	if err := uc.messages.Create(ctx, userMsg); err != nil {
		fail("save message", err)
		return
	}
	if !emit(models.UserMessageSavedEvent(userMsg.UUID, userMsg.Content)) {
		return
	}

	// 4. Load context and kick off the cacheability judgement so its
	// verdict is usually ready by the time the answer lands.
	history, err := uc.history.Load(ctx, session.UUID)
	if err != nil {
		fail("load history", err)
		return
	}
	permission := models.PermissionPublic
	if input.IsAdmin {
		permission = models.PermissionAdminOnly
	}
	evaluationID := session.UUID + ":" + userMsg.UUID
	uc.judge.EvaluateAsync(evaluationID, input.Content, "")

	if input.SkipCache && input.RegenerateMessageID != "" {
		uc.evictRegenerated(ctx, input.RegenerateMessageID)
	}

	// 5. Answer from the QA cache or run the agent.
	reply, err := uc.answer(ctx, input, enhanced, history, permission, emit)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		fail("generate answer", err)
		return
	}

	// 6. Persist the AI turn.
	aiMsg := uc.buildAIMessage(session.UUID, input, reply)
	if err := uc.messages.Create(ctx, aiMsg); err != nil {
		fail("save answer", err)
		return
	}

	// 7. Record the reasoning trace. Cached turns reuse the chain that
	// produced the original answer instead of writing a duplicate.
	chainID := reply.cachedChainID
	if chainID == "" {
		shouldCache := false
		if !reply.failed {
			shouldCache = uc.judge.Await(evaluationID, judgeAwaitTimeout)
		}
		chain := models.NewThoughtChain(uc.ids.GenerateThoughtChainID(), session.UUID, aiMsg.UUID, input.UserID, input.Content, reply.answer)
		chain.Steps = reply.steps
		chain.DocumentsUsed = reply.documents
		chain.ModelName = uc.modelName
		chain.TotalSteps = reply.stepsTaken
		if err := uc.traces.SaveChain(ctx, chain, shouldCache); err != nil {
			fail("save reasoning trace", err)
			return
		}
		chainID = chain.UUID
	}

	if !emit(models.AIMessageSavedEvent(aiMsg.UUID, aiMsg.Content, chainID)) {
		return
	}

	// 8. Bookkeeping, then the terminal event.
	uc.finishTurn(ctx, session, userMsg, aiMsg)
	emit(models.DoneEvent(session.UUID))
}

// resolveSession loads the addressed session or creates a fresh one when
// the id is absent or unknown. A session owned by someone else is an
// error, not a silent new session.
func (uc *SendMessage) resolveSession(ctx context.Context, input *SendMessageInput) (*models.Session, bool, error) {
	if input.SessionID != "" {
		session, err := uc.sessions.GetByUUID(ctx, input.SessionID)
		switch {
		case err == nil:
			if session.UserID != input.UserID {
				return nil, false, fmt.Errorf("session %s does not belong to user %s", input.SessionID, input.UserID)
			}
			return session, false, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, false, fmt.Errorf("failed to load session: %w", err)
		}
		// Unknown ids fall through to creation so a client holding a
		// stale id can keep chatting.
	}

	session := models.NewSession(uc.ids.GenerateSessionID(), input.UserID, seedSessionName(input.Content))
	if err := uc.sessions.Create(ctx, session); err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}
	return session, true, nil
}

// enhanceContent prepends attachment context to the question. Image turns
// stream analysis progress before the combined description comes back.
func (uc *SendMessage) enhanceContent(ctx context.Context, input *SendMessageInput, emit func(models.StreamEvent) bool) (string, error) {
	sink := forward(input.ShowThinking, emit)
	switch {
	case len(input.Image) > 0:
		if uc.analyzer == nil {
			return "", fmt.Errorf("image attachments are not supported")
		}
		sink(models.ThoughtEvent("Analyzing the attached image..."))
		analysis, err := uc.analyzer.AnalyzeStream(ctx, input.Image, input.FileName, sink)
		if err != nil {
			return "", fmt.Errorf("failed to analyze image: %w", err)
		}
		return joinQuestion(analysis.CombinedContent, input.Content), nil
	case strings.TrimSpace(input.FileText) != "":
		return joinQuestion(input.FileText, input.Content), nil
	default:
		return input.Content, nil
	}
}

// turnReply is what the answer step hands to persistence, whether it came
// from the cache, the agent, or the fallback.
type turnReply struct {
	answer        string
	steps         []models.ThoughtStep
	documents     []models.DocumentRef
	stepsTaken    int
	cachedChainID string
	failed        bool
}

// answer serves the turn from the QA cache when a similar question has a
// live entry, and runs the agent otherwise. Agent failures degrade to a
// fallback answer; only context cancellation is returned as an error.
func (uc *SendMessage) answer(ctx context.Context, input *SendMessageInput, enhanced string, history []models.ChatTurn, permission models.Permission, emit func(models.StreamEvent) bool) (*turnReply, error) {
	cached, err := uc.qaCache.FindSimilar(ctx, input.Content, input.UserID, input.SkipCache)
	if err != nil {
		log.Printf("warning: qa cache lookup failed: %v", err)
	}
	if cached != nil {
		emit(models.AnswerChunkEvent(cached.Answer))
		if len(cached.Documents) > 0 {
			emit(models.DocumentsEvent(cached.Documents))
		}
		return &turnReply{
			answer:        cached.Answer,
			documents:     cached.Documents,
			cachedChainID: cached.ThoughtChainID,
		}, nil
	}

	question := enhanced
	if input.Location != "" {
		question += "\n\n(User location: " + input.Location + ")"
	}

	result, err := uc.agent.Run(ctx, agent.Input{
		Question:   question,
		History:    toLLMMessages(history),
		Permission: permission,
		Sink:       forward(input.ShowThinking, emit),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("send message: agent run failed: %v", err)
		emit(models.AnswerChunkEvent(turnFallbackAnswer))
		return &turnReply{answer: turnFallbackAnswer, failed: true}, nil
	}

	return &turnReply{
		answer:     result.Answer,
		steps:      result.Steps,
		documents:  result.Documents,
		stepsTaken: result.StepsTaken,
	}, nil
}

func (uc *SendMessage) buildUserMessage(sessionID string, input *SendMessageInput) *models.Message {
	msg := models.NewMessage(uc.ids.GenerateUserMessageID(), sessionID, models.SendTypeUser, input.UserID, input.Content)
	msg.SendName = input.UserName
	msg.SendAvatar = input.UserAvatar
	msg.FileName = input.FileName
	msg.FileType = input.FileType
	msg.FileSize = input.FileSize
	if input.Location != "" {
		msg.Extra["location"] = input.Location
	}
	if len(input.Image) > 0 {
		msg.Extra["has_image"] = true
	}
	return msg
}

func (uc *SendMessage) buildAIMessage(sessionID string, input *SendMessageInput, reply *turnReply) *models.Message {
	msg := models.NewMessage(uc.ids.GenerateAIMessageID(), sessionID, models.SendTypeAI, assistantSendID, reply.answer)
	msg.ReceiveID = input.UserID
	msg.Extra["documents"] = reply.documents
	if input.ShowThinking {
		msg.Extra["thoughts"] = stepContents(reply.steps, models.StepKindThought)
		msg.Extra["actions"] = stepContents(reply.steps, models.StepKindAction)
		msg.Extra["observations"] = stepContents(reply.steps, models.StepKindObservation)
	}
	if reply.cachedChainID != "" {
		msg.Extra["thought_chain_id"] = reply.cachedChainID
		msg.Extra["from_cache"] = true
	}
	return msg
}

// evictRegenerated drops the cache entry behind the answer the user asked
// to regenerate, so the rejected answer cannot be served again.
func (uc *SendMessage) evictRegenerated(ctx context.Context, messageID string) {
	msg, err := uc.messages.GetByUUID(ctx, messageID)
	if err != nil {
		log.Printf("warning: failed to load message %s for regeneration: %v", messageID, err)
		return
	}
	chainID, _ := msg.Extra["thought_chain_id"].(string)
	if chainID == "" {
		return
	}
	if err := uc.qaCache.Evict(ctx, chainID); err != nil {
		log.Printf("warning: failed to evict cache for chain %s: %v", chainID, err)
	}
}

// finishTurn runs the post-answer bookkeeping. Failures are logged rather
// than surfaced: the answer is already delivered and saved. Summarization
// and auto-naming run detached so a client disconnect cannot stop them.
func (uc *SendMessage) finishTurn(ctx context.Context, session *models.Session, userMsg, aiMsg *models.Message) {
	if err := uc.sessions.UpdateLastMessage(ctx, session.UUID, aiMsg.Content); err != nil {
		log.Printf("warning: failed to update session last message: %v", err)
	}
	if err := uc.kv.SetLastAnswer(ctx, session.UUID, aiMsg, lastAnswerTTL); err != nil {
		log.Printf("warning: failed to cache last answer: %v", err)
	}
	if _, err := uc.kv.IncrCounter(ctx, ports.CounterChatTurns, 24*time.Hour); err != nil {
		log.Printf("warning: failed to bump turn counter: %v", err)
	}

	count, err := uc.messages.CountBySession(ctx, session.UUID)
	if err != nil {
		log.Printf("warning: failed to count session messages: %v", err)
	}

	go func() {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		if err := uc.history.MaybeSummarize(bg, session.UUID); err != nil {
			log.Printf("warning: failed to summarize session %s: %v", session.UUID, err)
		}
		// The first completed turn (user + answer) names the session.
		if count == 2 {
			if err := uc.history.AutoNameSession(bg, session.UUID, userMsg.Content, aiMsg.Content); err != nil {
				log.Printf("warning: failed to name session %s: %v", session.UUID, err)
			}
		}
	}()
}

// forward routes callback events onto the client stream: reasoning events
// obey show_thinking, internal callbacks never leave the server.
func forward(showThinking bool, emit func(models.StreamEvent) bool) func(models.StreamEvent) {
	return func(ev models.StreamEvent) {
		switch ev.Type {
		case models.EventThought, models.EventAction, models.EventObservation:
			if !showThinking {
				return
			}
		case models.EventLLMChunk, models.EventToolResult:
			return
		}
		emit(ev)
	}
}

// joinQuestion appends the user's actual question after the attachment
// context so the agent sees both.
func joinQuestion(attachment, question string) string {
	return attachment + "\n\n---\n\nMy question: " + question
}

func seedSessionName(content string) string {
	name := strings.Join(strings.Fields(content), " ")
	runes := []rune(name)
	if len(runes) > sessionNameSeedRunes {
		name = string(runes[:sessionNameSeedRunes])
	}
	if name == "" {
		name = "New chat"
	}
	return name
}

func stepContents(steps []models.ThoughtStep, kind models.StepKind) []string {
	out := []string{}
	for _, s := range steps {
		if s.Kind == kind {
			out = append(out, s.Content)
		}
	}
	return out
}

func toLLMMessages(turns []models.ChatTurn) []ports.LLMMessage {
	msgs := make([]ports.LLMMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, ports.LLMMessage{Role: string(t.Role), Content: t.Content})
	}
	return msgs
}
