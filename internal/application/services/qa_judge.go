package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sibylhq/sibyl/internal/ports"
)

const (
	// judgeTimeout bounds the LLM call; the judge defaults to "do not
	// cache" rather than holding up a turn.
	judgeTimeout = 5 * time.Second

	// minCacheableRunes rejects questions too short to be meaningful
	// probes for later users.
	minCacheableRunes = 5

	// pendingTTL is how long an unclaimed verdict is kept. Turns answered
	// from the cache never call Await, so entries must expire on their own.
	pendingTTL = 2 * time.Minute
)

const judgeSystemPrompt = `You decide whether a question and answer pair is worth caching and serving to other users who ask a similar question later. Cache only self-contained factual or explanatory answers. Do not cache answers that depend on the current conversation, a specific user, or the current moment in time. Reply with exactly "yes" or "no".`

// greetings are rejected outright. Checked after trimming punctuation.
var greetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true, "hiya": true,
	"howdy": true, "thanks": true, "thank you": true, "ok": true,
	"okay": true, "bye": true, "goodbye": true, "good morning": true,
	"good afternoon": true, "good evening": true, "good night": true,
}

// realtimeWords mark questions whose answer goes stale immediately.
// Matched on word boundaries so "lifetime" does not trip on "time".
var realtimeWords = map[string]bool{
	"weather": true, "time": true, "date": true, "today": true,
	"tonight": true, "tomorrow": true, "now": true, "traffic": true,
	"price": true, "prices": true, "stock": true, "stocks": true,
	"news": true, "latest": true, "nearby": true, "nearest": true,
}

var realtimePhrases = []string{"near me", "right now"}

// QAJudge implements ports.QAJudgeService: a rule layer first, then an
// LLM yes/no call. Any doubt or failure means "do not cache".
type QAJudge struct {
	llm ports.LLMService

	mu      sync.Mutex
	pending map[string]chan bool
}

func NewQAJudge(llm ports.LLMService) *QAJudge {
	return &QAJudge{
		llm:     llm,
		pending: make(map[string]chan bool),
	}
}

// ShouldCache reports whether the question/answer pair may be cached.
func (j *QAJudge) ShouldCache(ctx context.Context, question, answer string) bool {
	if !passesRules(question) {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, judgeTimeout)
	defer cancel()

	// The orchestrator evaluates at question time, before an answer
	// exists; the prompt carries the answer only when there is one.
	prompt := fmt.Sprintf("Question: %s", question)
	if answer != "" {
		prompt += fmt.Sprintf("\nAnswer: %s", answer)
	}

	resp, err := j.llm.Chat(ctx, []ports.LLMMessage{
		{Role: "system", Content: judgeSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return false
	}
	verdict := strings.ToLower(strings.TrimSpace(resp.Content))
	return strings.HasPrefix(verdict, "yes")
}

// EvaluateAsync starts a ShouldCache evaluation in the background under
// the caller's id. The result is picked up by Await with the same id.
func (j *QAJudge) EvaluateAsync(evaluationID, question, answer string) {
	ch := make(chan bool, 1)
	j.mu.Lock()
	j.pending[evaluationID] = ch
	j.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), judgeTimeout)
		defer cancel()
		ch <- j.ShouldCache(ctx, question, answer)
		time.AfterFunc(pendingTTL, func() {
			j.mu.Lock()
			delete(j.pending, evaluationID)
			j.mu.Unlock()
		})
	}()
}

// Await returns the evaluation result, or false when the id is unknown or
// the verdict does not arrive within the timeout.
func (j *QAJudge) Await(evaluationID string, timeout time.Duration) bool {
	j.mu.Lock()
	ch, ok := j.pending[evaluationID]
	delete(j.pending, evaluationID)
	j.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case verdict := <-ch:
		return verdict
	case <-time.After(timeout):
		return false
	}
}

// passesRules is the rule filter in front of the LLM judge.
func passesRules(question string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	if utf8.RuneCountInString(q) < minCacheableRunes {
		return false
	}
	if greetings[strings.TrimRight(q, "!.?, ")] {
		return false
	}
	for _, phrase := range realtimePhrases {
		if strings.Contains(q, phrase) {
			return false
		}
	}
	for _, word := range questionWords(q) {
		if realtimeWords[word] {
			return false
		}
	}
	return true
}

// questionWords splits on anything that is not a letter or digit.
func questionWords(q string) []string {
	return strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
