package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

// scriptedLLM plays back one token script per ChatStream call and records
// the rendered prompts.
type scriptedLLM struct {
	rounds     [][]string
	failRounds map[int]bool
	calls      int
	prompts    [][]ports.LLMMessage
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []ports.LLMMessage) (*ports.LLMResponse, error) {
	return nil, errors.New("not scripted")
}

func (s *scriptedLLM) ChatStream(ctx context.Context, messages []ports.LLMMessage) (<-chan ports.LLMStreamChunk, error) {
	idx := s.calls
	s.calls++
	s.prompts = append(s.prompts, messages)

	if s.failRounds[idx] {
		ch := make(chan ports.LLMStreamChunk, 1)
		ch <- ports.LLMStreamChunk{Error: errors.New("stream broke")}
		close(ch)
		return ch, nil
	}
	if idx >= len(s.rounds) {
		return nil, fmt.Errorf("unexpected llm call %d", idx)
	}
	tokens := s.rounds[idx]
	ch := make(chan ports.LLMStreamChunk, len(tokens)+1)
	for _, tok := range tokens {
		ch <- ports.LLMStreamChunk{Content: tok}
	}
	ch <- ports.LLMStreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (s *scriptedLLM) lastUserPrompt(t *testing.T) string {
	t.Helper()
	if len(s.prompts) == 0 {
		t.Fatal("no llm calls recorded")
	}
	last := s.prompts[len(s.prompts)-1]
	return last[len(last)-1].Content
}

func searchRegistry(t *testing.T, invoke ToolFunc) *Registry {
	t.Helper()
	reg := NewRegistry()
	if invoke == nil {
		invoke = func(ctx context.Context, input string) (string, error) {
			return `{"result": "Bananas are yellow.", "documents": [{"uuid": "doc-1", "name": "fruit.txt"}]}`, nil
		}
	}
	err := reg.Register(&Tool{
		Name:        "knowledge_search",
		Description: "Search the knowledge base.",
		Invoke:      invoke,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

// both runs the same scenario through each agent shape.
func both(t *testing.T, fn func(t *testing.T, build func(llm ports.LLMService, reg *Registry, maxSteps, maxRetries int) Agent)) {
	t.Helper()
	t.Run("react", func(t *testing.T) {
		fn(t, func(llm ports.LLMService, reg *Registry, maxSteps, maxRetries int) Agent {
			return NewReactAgent(llm, reg, maxSteps, maxRetries)
		})
	})
	t.Run("graph", func(t *testing.T) {
		fn(t, func(llm ports.LLMService, reg *Registry, maxSteps, maxRetries int) Agent {
			return NewGraphAgent(llm, reg, maxSteps, maxRetries)
		})
	})
}

func TestAgentDirectAnswer(t *testing.T) {
	both(t, func(t *testing.T, build func(ports.LLMService, *Registry, int, int) Agent) {
		llm := &scriptedLLM{rounds: [][]string{
			{" I know this without tools.\nFinal An", "swer: Paris"},
		}}
		rec := &eventRecorder{}

		result, err := build(llm, searchRegistry(t, nil), 5, 2).Run(context.Background(), Input{
			Question: "What is the capital of France?",
			Sink:     rec.sink,
		})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result.Answer != "Paris" {
			t.Errorf("answer = %q, want %q", result.Answer, "Paris")
		}
		if result.StepsTaken != 1 {
			t.Errorf("steps taken = %d, want 1", result.StepsTaken)
		}
		if got := strings.Join(rec.contents(models.EventAnswerChunk), ""); got != "Paris" {
			t.Errorf("answer chunks = %q", got)
		}
		for _, ev := range rec.events {
			if ev.Type == models.EventAction {
				t.Error("direct answer run emitted an action event")
			}
		}
	})
}

func TestAgentToolLoop(t *testing.T) {
	both(t, func(t *testing.T, build func(ports.LLMService, *Registry, int, int) Agent) {
		llm := &scriptedLLM{rounds: [][]string{
			{" I should search the knowledge base.\nAction: knowledge_search\nAction Input: banana color"},
			{" I now know the answer.\nFinal Answer: Bananas are yellow!"},
		}}
		rec := &eventRecorder{}

		result, err := build(llm, searchRegistry(t, nil), 5, 2).Run(context.Background(), Input{
			Question: "What color are bananas?",
			Sink:     rec.sink,
		})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result.Answer != "Bananas are yellow!" {
			t.Errorf("answer = %q", result.Answer)
		}
		if result.StepsTaken != 2 {
			t.Errorf("steps taken = %d, want 2", result.StepsTaken)
		}
		if result.ErrorCount != 0 {
			t.Errorf("error count = %d, want 0", result.ErrorCount)
		}

		if got := rec.contents(models.EventAction); len(got) != 1 || got[0] != "knowledge_search(banana color)" {
			t.Errorf("action events = %v", got)
		}
		if got := rec.contents(models.EventObservation); len(got) != 1 {
			t.Errorf("observation events = %v", got)
		}
		if len(result.Documents) != 1 || result.Documents[0].UUID != "doc-1" {
			t.Errorf("documents = %v", result.Documents)
		}

		// Trace order: thought, action, observation, thought.
		kinds := make([]models.StepKind, 0, len(result.Steps))
		for _, s := range result.Steps {
			kinds = append(kinds, s.Kind)
		}
		want := []models.StepKind{models.StepKindThought, models.StepKindAction, models.StepKindObservation, models.StepKindThought}
		if len(kinds) != len(want) {
			t.Fatalf("step kinds = %v, want %v", kinds, want)
		}
		for i := range want {
			if kinds[i] != want[i] {
				t.Errorf("step %d = %s, want %s", i, kinds[i], want[i])
			}
		}

		// The second round's prompt carries the transcript so far.
		prompt := llm.lastUserPrompt(t)
		for _, fragment := range []string{"Action: knowledge_search", "Action Input: banana color", "Observation:"} {
			if !strings.Contains(prompt, fragment) {
				t.Errorf("second round prompt missing %q:\n%s", fragment, prompt)
			}
		}
	})
}

func TestAgentToolFailureThenRetry(t *testing.T) {
	both(t, func(t *testing.T, build func(ports.LLMService, *Registry, int, int) Agent) {
		invocations := 0
		reg := searchRegistry(t, func(ctx context.Context, input string) (string, error) {
			invocations++
			if invocations == 1 {
				return "", errors.New("backend unavailable")
			}
			return "Bananas are yellow.", nil
		})
		llm := &scriptedLLM{rounds: [][]string{
			{" Let me search.\nAction: knowledge_search\nAction Input: banana color"},
			{" Retrying the search.\nAction: knowledge_search\nAction Input: banana color"},
			{" Got it.\nFinal Answer: Bananas are yellow."},
		}}
		rec := &eventRecorder{}

		result, err := build(llm, reg, 5, 2).Run(context.Background(), Input{
			Question: "What color are bananas?",
			Sink:     rec.sink,
		})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if invocations != 2 {
			t.Errorf("tool invoked %d times, want 2", invocations)
		}
		if result.ErrorCount != 1 {
			t.Errorf("error count = %d, want exactly 1", result.ErrorCount)
		}
		if result.Answer == "" {
			t.Error("answer is empty")
		}
		// The retry round saw the failure as an observation.
		prompt := llm.prompts[1][len(llm.prompts[1])-1].Content
		if !strings.Contains(prompt, "tool execution failed") {
			t.Errorf("recovery prompt missing failure observation:\n%s", prompt)
		}
	})
}

func TestAgentParseErrorRecovery(t *testing.T) {
	both(t, func(t *testing.T, build func(ports.LLMService, *Registry, int, int) Agent) {
		llm := &scriptedLLM{rounds: [][]string{
			{"I completely forgot the format."},
			{" Following the format now.\nFinal Answer: recovered"},
		}}

		result, err := build(llm, searchRegistry(t, nil), 5, 2).Run(context.Background(), Input{
			Question: "Does recovery work?",
		})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result.Answer != "recovered" {
			t.Errorf("answer = %q", result.Answer)
		}
		if result.ErrorCount != 1 {
			t.Errorf("error count = %d, want 1", result.ErrorCount)
		}
		prompt := llm.lastUserPrompt(t)
		if !strings.Contains(prompt, "did not follow the required format") {
			t.Errorf("recovery hint missing from prompt:\n%s", prompt)
		}
	})
}

func TestAgentRetriesExhaustedFallsBack(t *testing.T) {
	both(t, func(t *testing.T, build func(ports.LLMService, *Registry, int, int) Agent) {
		llm := &scriptedLLM{rounds: [][]string{
			{"gibberish with no labels"},
			{"more gibberish"},
		}}
		rec := &eventRecorder{}

		result, err := build(llm, searchRegistry(t, nil), 5, 2).Run(context.Background(), Input{
			Question: "Will this ever parse?",
			Sink:     rec.sink,
		})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result.Answer != errorFallbackAnswer {
			t.Errorf("answer = %q, want fallback", result.Answer)
		}
		if result.ErrorCount != 2 {
			t.Errorf("error count = %d, want 2", result.ErrorCount)
		}
		if llm.calls != 2 {
			t.Errorf("llm calls = %d, want 2", llm.calls)
		}
		if got := rec.contents(models.EventAnswerChunk); len(got) != 1 || got[0] != errorFallbackAnswer {
			t.Errorf("answer chunks = %v, want one fallback chunk", got)
		}
	})
}

func TestAgentMaxStepsSummarizes(t *testing.T) {
	both(t, func(t *testing.T, build func(ports.LLMService, *Registry, int, int) Agent) {
		llm := &scriptedLLM{rounds: [][]string{
			{" Searching.\nAction: knowledge_search\nAction Input: bananas"},
			{" Searching more.\nAction: knowledge_search\nAction Input: banana color"},
			// Summarizing call after the step budget runs out.
			{"Final Answer: Everything points to yellow."},
		}}
		rec := &eventRecorder{}

		result, err := build(llm, searchRegistry(t, nil), 2, 2).Run(context.Background(), Input{
			Question: "What color are bananas?",
			Sink:     rec.sink,
		})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result.Answer != "Everything points to yellow." {
			t.Errorf("answer = %q", result.Answer)
		}
		if result.StepsTaken != 2 {
			t.Errorf("steps taken = %d, want 2", result.StepsTaken)
		}
		if got := rec.contents(models.EventAnswerChunk); len(got) != 1 || got[0] != "Everything points to yellow." {
			t.Errorf("answer chunks = %v", got)
		}
	})
}

func TestAgentSkipsAnswerEqualToObservation(t *testing.T) {
	both(t, func(t *testing.T, build func(ports.LLMService, *Registry, int, int) Agent) {
		reg := searchRegistry(t, func(ctx context.Context, input string) (string, error) {
			return "Bananas are yellow.", nil
		})
		llm := &scriptedLLM{rounds: [][]string{
			{" Searching.\nAction: knowledge_search\nAction Input: bananas"},
			{" Searching again.\nAction: knowledge_search\nAction Input: banana color"},
			// Step budget forces the summarizing call, which parrots
			// the observation back.
			{"Bananas are yellow."},
		}}
		rec := &eventRecorder{}

		result, err := build(llm, reg, 2, 2).Run(context.Background(), Input{
			Question: "What color are bananas?",
			Sink:     rec.sink,
		})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result.Answer != "Bananas are yellow." {
			t.Errorf("answer = %q", result.Answer)
		}
		if got := rec.contents(models.EventAnswerChunk); len(got) != 0 {
			t.Errorf("answer chunks = %v, want none for an answer repeating the observation", got)
		}
	})
}

func TestAgentAdminToolHiddenFromPublic(t *testing.T) {
	reg := searchRegistry(t, nil)
	err := reg.Register(&Tool{
		Name:        "database_stats",
		Description: "Inspect collection statistics.",
		IsAdmin:     true,
		Invoke: func(ctx context.Context, input string) (string, error) {
			return "stats", nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	llm := &scriptedLLM{rounds: [][]string{
		{"Final Answer: done"},
	}}
	agent := NewReactAgent(llm, reg, 5, 2)

	if _, err := agent.Run(context.Background(), Input{Question: "hi", Permission: models.PermissionPublic}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	system := llm.prompts[0][0].Content
	if strings.Contains(system, "database_stats") {
		t.Errorf("public prompt lists admin tool:\n%s", system)
	}

	llm2 := &scriptedLLM{rounds: [][]string{
		{"Final Answer: done"},
	}}
	agent2 := NewReactAgent(llm2, reg, 5, 2)
	if _, err := agent2.Run(context.Background(), Input{Question: "hi", Permission: models.PermissionAdminOnly}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	system2 := llm2.prompts[0][0].Content
	if !strings.Contains(system2, "database_stats") {
		t.Errorf("admin prompt misses admin tool:\n%s", system2)
	}
}

func TestAgentUnknownToolIsToolError(t *testing.T) {
	llm := &scriptedLLM{rounds: [][]string{
		{" Using a made-up tool.\nAction: time_machine\nAction Input: 1999"},
		{" Fine, answering directly.\nFinal Answer: it is 2026"},
	}}

	result, err := NewReactAgent(llm, searchRegistry(t, nil), 5, 2).Run(context.Background(), Input{
		Question: "What year is it?",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", result.ErrorCount)
	}
	if result.Answer != "it is 2026" {
		t.Errorf("answer = %q", result.Answer)
	}
}

func TestAgentLLMFailureRetriesOnceThenFallsBack(t *testing.T) {
	llm := &scriptedLLM{
		rounds:     [][]string{{}, {}},
		failRounds: map[int]bool{0: true, 1: true},
	}

	result, err := NewReactAgent(llm, searchRegistry(t, nil), 5, 2).Run(context.Background(), Input{
		Question: "Is the model up?",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if llm.calls != 2 {
		t.Errorf("llm calls = %d, want 2", llm.calls)
	}
	if result.Answer != errorFallbackAnswer {
		t.Errorf("answer = %q, want fallback", result.Answer)
	}
}

func TestAgentEmptyQuestion(t *testing.T) {
	both(t, func(t *testing.T, build func(ports.LLMService, *Registry, int, int) Agent) {
		llm := &scriptedLLM{}
		if _, err := build(llm, searchRegistry(t, nil), 5, 2).Run(context.Background(), Input{Question: "   "}); err == nil {
			t.Fatal("expected error for empty question")
		}
	})
}

func TestAgentContextCanceled(t *testing.T) {
	both(t, func(t *testing.T, build func(ports.LLMService, *Registry, int, int) Agent) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		llm := &scriptedLLM{rounds: [][]string{{"Final Answer: too late"}}}
		_, err := build(llm, searchRegistry(t, nil), 5, 2).Run(ctx, Input{Question: "hello?"})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})
}

func TestNewAgentTypeSelection(t *testing.T) {
	llm := &scriptedLLM{}
	reg := NewRegistry()

	a, err := New("react", llm, reg, 5, 2)
	if err != nil {
		t.Fatalf("New(react): %v", err)
	}
	if _, ok := a.(*ReactAgent); !ok {
		t.Errorf("New(react) = %T", a)
	}

	a, err = New("graph", llm, reg, 5, 2)
	if err != nil {
		t.Fatalf("New(graph): %v", err)
	}
	if _, ok := a.(*GraphAgent); !ok {
		t.Errorf("New(graph) = %T", a)
	}

	if _, err := New("quantum", llm, reg, 5, 2); err == nil {
		t.Error("New(quantum) should fail")
	}
}

func TestRegistryForPermission(t *testing.T) {
	reg := NewRegistry()
	tools := []*Tool{
		{Name: "public_one", Description: "a", Invoke: func(context.Context, string) (string, error) { return "", nil }},
		{Name: "admin_one", Description: "b", IsAdmin: true, Invoke: func(context.Context, string) (string, error) { return "", nil }},
		{Name: "public_two", Description: "c", Invoke: func(context.Context, string) (string, error) { return "", nil }},
	}
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name, err)
		}
	}

	public := reg.ForPermission(models.PermissionPublic)
	if len(public) != 2 || public[0].Name != "public_one" || public[1].Name != "public_two" {
		t.Errorf("public tools = %v", toolNames(public))
	}
	admin := reg.ForPermission(models.PermissionAdminOnly)
	if len(admin) != 3 {
		t.Errorf("admin tools = %v", toolNames(admin))
	}

	if err := reg.Register(&Tool{Name: "public_one", Invoke: func(context.Context, string) (string, error) { return "", nil }}); err == nil {
		t.Error("duplicate registration should fail")
	}
}

func toolNames(tools []*Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}
