package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/sibylhq/sibyl/internal/adapters/metrics"
	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

// errorFallbackAnswer is returned when the loop exhausts its retries.
const errorFallbackAnswer = "I'm sorry, I ran into trouble answering this question. Please try rephrasing it or asking again later."

// noAnswerFallback is returned when the loop ends without an answer and
// nothing can be summarized.
const noAnswerFallback = "I'm sorry, I could not find a reliable answer to this question."

// engine implements the loop mechanics shared by both agent shapes.
// The shapes differ only in how they walk the think/act/recover/finalize
// steps; the steps themselves are identical.
type engine struct {
	llm        ports.LLMService
	registry   *Registry
	maxSteps   int
	maxRetries int
}

func newEngine(llm ports.LLMService, registry *Registry, maxSteps, maxRetries int) engine {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return engine{llm: llm, registry: registry, maxSteps: maxSteps, maxRetries: maxRetries}
}

// run bundles the mutable pieces of one Run invocation.
type run struct {
	st         *State
	parser     *StreamParser
	sink       func(models.StreamEvent)
	tools      []*Tool
	visible    map[string]bool
	question   string
	permission models.Permission

	steps            []models.ThoughtStep
	thoughtsSeen     int
	actionsSeen      int
	lastRoundThought string
	llmRetried       bool
	tailEmitted      bool
}

func (e engine) newRun(in Input) *run {
	sink := in.Sink
	if sink == nil {
		sink = func(models.StreamEvent) {}
	}
	r := &run{
		st: &State{
			Messages:   in.History,
			MaxSteps:   e.maxSteps,
			MaxRetries: e.maxRetries,
		},
		sink:       sink,
		question:   strings.TrimSpace(in.Question),
		permission: in.Permission,
	}
	r.tools = e.registry.ForPermission(in.Permission)
	r.visible = make(map[string]bool, len(r.tools))
	for _, t := range r.tools {
		r.visible[t.Name] = true
	}
	r.parser = NewStreamParser(sink)
	// The prompt ends with a dangling "Thought:" the model completes.
	r.parser.ResumeThought()
	return r
}

// think runs one LLM round over the scratchpad and interprets what the
// parser captured: a final answer, a pending action, or a parse failure.
// The returned error is fatal (context canceled); LLM failures retry once
// and then settle on the fallback answer.
func (e engine) think(ctx context.Context, r *run) error {
	r.st.CurrentStep++
	r.st.PendingAction = nil

	remaining, err := e.streamRound(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.llmRetried {
			r.llmRetried = true
			log.Printf("agent: llm round failed, retrying once: %v", err)
			// Close out whatever the broken stream left behind.
			r.parser.ResumeThought()
			remaining, err = e.streamRound(ctx, r)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("agent: llm unavailable, falling back: %v", err)
			r.st.FinalAnswer = errorFallbackAnswer
			return nil
		}
	}

	r.collectThoughts()

	if r.parser.SawAnswer() && r.parser.FinalAnswer() != "" {
		r.st.FinalAnswer = r.parser.FinalAnswer()
		return nil
	}
	if remaining != "" {
		r.sink(models.AnswerChunkEvent(remaining))
		r.tailEmitted = true
		r.st.FinalAnswer = remaining
		return nil
	}

	actions := r.parser.Actions()
	if len(actions) > r.actionsSeen {
		segment := actions[len(actions)-1]
		r.actionsSeen = len(actions)
		action, perr := parseAction(segment)
		if perr != nil {
			r.failStep(perr.Error(), ErrorKindParse)
			return nil
		}
		r.st.PendingAction = action
		return nil
	}

	r.failStep("no action or final answer in model output", ErrorKindParse)
	return nil
}

// streamRound renders the prompt, streams one completion through the
// parser, and returns any answer tail the parser had recognized but not
// flushed when the stream ended.
func (e engine) streamRound(ctx context.Context, r *run) (string, error) {
	messages := make([]ports.LLMMessage, 0, len(r.st.Messages)+2)
	messages = append(messages, ports.LLMMessage{Role: "system", Content: buildSystemPrompt(r.tools)})
	messages = append(messages, r.st.Messages...)
	messages = append(messages, ports.LLMMessage{
		Role:    "user",
		Content: "Question: " + r.question + "\nThought:" + r.st.Scratchpad,
	})

	ch, err := e.llm.ChatStream(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("starting llm stream: %w", err)
	}
	for chunk := range ch {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		if chunk.Content != "" {
			r.sink(models.LLMChunkEvent(chunk.Content))
			r.parser.Feed(chunk.Content)
		}
		if chunk.Done {
			break
		}
	}
	remaining := r.parser.GetRemainingAnswer()
	r.parser.EndRound()
	return remaining, nil
}

// act executes the pending tool call and folds the observation into the
// scratchpad, the trace and the parser.
func (e engine) act(ctx context.Context, r *run) {
	action := r.st.PendingAction
	r.st.PendingAction = nil

	rendered := fmt.Sprintf("%s(%s)", action.Tool, action.Input)
	r.sink(models.ActionEvent(rendered))
	r.addStep(models.StepKindAction, rendered)

	// Thought text of this round precedes the action block in the
	// transcript the next round sees.
	if r.lastRoundThought != "" {
		r.st.Scratchpad += " " + r.lastRoundThought
	}
	r.st.Scratchpad += "\nAction: " + action.Tool + "\nAction Input: " + action.Input

	tool, ok := e.registry.Get(action.Tool)
	if !ok || !r.visible[action.Tool] {
		r.failStep(fmt.Sprintf("unknown tool %q", action.Tool), ErrorKindTool)
		return
	}

	toolCtx, cancel := context.WithTimeout(WithPermission(ctx, r.permission), toolTimeout)
	result, err := tool.Invoke(toolCtx, action.Input)
	cancel()
	if err != nil {
		r.failStep(err.Error(), ErrorKindTool)
		return
	}

	observation := truncateRunes(result, observationLimit)
	r.st.ToolResults = append(r.st.ToolResults, result)
	r.parser.NoteObservation(observation)
	r.sink(models.ObservationEvent(observation))
	r.sink(models.ToolResultEvent(action.Tool, result))
	r.addStep(models.StepKindObservation, observation)

	e.mergeDocuments(r, result)

	r.st.Scratchpad += "\nObservation: " + observation + "\nThought:"
	r.parser.ResumeThought()
}

// recoverOrFail routes a failed step. Under the retry budget it clears
// the error and seeds the scratchpad with a hint; over budget, or with no
// steps left, it settles on the fallback answer.
func (e engine) recoverOrFail(r *run) (retry bool) {
	if r.st.ErrorCount >= r.st.MaxRetries || r.st.CurrentStep >= r.st.MaxSteps {
		r.st.FinalAnswer = errorFallbackAnswer
		return false
	}
	var hint string
	switch r.st.ErrorKind {
	case ErrorKindTool:
		hint = fmt.Sprintf("tool execution failed: %s. Try a different tool or change the input.", r.st.LastError)
	default:
		hint = "the previous reply did not follow the required format. Reply with either 'Action:' and 'Action Input:' lines, or a 'Final Answer:' line."
	}
	r.st.Scratchpad += "\nObservation: " + hint + "\nThought:"
	r.st.LastError = ""
	r.st.ErrorKind = ""
	r.parser.ResumeThought()
	return true
}

// finalize settles the answer and emits it, unless the stream already
// carried it or it would repeat the last observation verbatim.
func (e engine) finalize(ctx context.Context, r *run) {
	answer := strings.TrimSpace(r.st.FinalAnswer)
	streamed := r.parser.AnswerEmitted() || r.tailEmitted

	if answer == "" {
		if len(r.st.ToolResults) > 0 {
			answer = e.summarize(ctx, r)
		}
		if answer == "" {
			answer = noAnswerFallback
		}
		r.st.FinalAnswer = answer
		streamed = false
	}

	if !streamed && !r.parser.ShouldSkipDuplicateAnswer(answer) {
		r.sink(models.AnswerChunkEvent(answer))
	}
}

// summarize asks the model to compose an answer from the collected tool
// output when the loop ran out of steps without a final answer.
func (e engine) summarize(ctx context.Context, r *run) string {
	var results strings.Builder
	for i, res := range r.st.ToolResults {
		fmt.Fprintf(&results, "Result %d:\n%s\n\n", i+1, truncateRunes(res, 1500))
	}
	messages := []ports.LLMMessage{
		{Role: "system", Content: "Compose a direct, complete answer to the user's question from the tool results below. Respond with the answer only."},
		{Role: "user", Content: fmt.Sprintf("Question: %s\n\nTool results:\n\n%s", r.question, results.String())},
	}
	ch, err := e.llm.ChatStream(ctx, messages)
	if err != nil {
		log.Printf("agent: summarize call failed: %v", err)
		return ""
	}
	var out strings.Builder
	for chunk := range ch {
		if chunk.Error != nil {
			log.Printf("agent: summarize stream failed: %v", chunk.Error)
			return ""
		}
		out.WriteString(chunk.Content)
		if chunk.Done {
			break
		}
	}
	answer := strings.TrimSpace(out.String())
	if i := strings.Index(answer, "Final Answer:"); i >= 0 {
		answer = strings.TrimSpace(answer[i+len("Final Answer:"):])
	}
	return answer
}

// mergeDocuments folds any "documents" list inside a tool's JSON result
// into the run, deduplicated by document uuid, and pushes the cumulative
// set to the sink.
func (e engine) mergeDocuments(r *run, result string) {
	trimmed := strings.TrimSpace(result)
	if !strings.HasPrefix(trimmed, "{") {
		return
	}
	var payload struct {
		Documents []models.DocumentRef `json:"documents"`
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil || len(payload.Documents) == 0 {
		return
	}
	seen := make(map[string]bool, len(r.st.Documents))
	for _, d := range r.st.Documents {
		seen[d.UUID] = true
	}
	added := false
	for _, d := range payload.Documents {
		if d.UUID == "" || seen[d.UUID] {
			continue
		}
		seen[d.UUID] = true
		r.st.Documents = append(r.st.Documents, d)
		added = true
	}
	if added {
		r.sink(models.DocumentsEvent(r.st.Documents))
	}
}

// result closes the run and reports how many think rounds it took.
func (e engine) result(r *run) *Result {
	metrics.AgentSteps.Observe(float64(r.st.CurrentStep))
	return &Result{
		Answer:     strings.TrimSpace(r.st.FinalAnswer),
		Steps:      r.steps,
		Documents:  r.st.Documents,
		StepsTaken: r.st.CurrentStep,
		ErrorCount: r.st.ErrorCount,
	}
}

func (r *run) addStep(kind models.StepKind, content string) {
	r.steps = append(r.steps, models.ThoughtStep{
		StepIndex: len(r.steps),
		Kind:      kind,
		Content:   content,
	})
}

// collectThoughts appends thought segments finished since the last round
// to the trace and remembers the round's closing thought for the
// scratchpad.
func (r *run) collectThoughts() {
	thoughts := r.parser.Thoughts()
	fresh := thoughts[r.thoughtsSeen:]
	r.lastRoundThought = ""
	for _, t := range fresh {
		r.addStep(models.StepKindThought, t)
	}
	if len(fresh) > 0 {
		r.lastRoundThought = fresh[len(fresh)-1]
	}
	r.thoughtsSeen = len(thoughts)
}

func (r *run) failStep(message string, kind ErrorKind) {
	r.st.ErrorCount++
	r.st.LastError = message
	r.st.ErrorKind = kind
}

// truncateRunes bounds s to limit runes, marking the cut with an ellipsis
// that stays inside the limit.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
