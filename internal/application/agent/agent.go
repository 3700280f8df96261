package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

// Bound defaults mirror AGENT_MAX_ITERATIONS and AGENT_MAX_RETRIES.
const (
	DefaultMaxSteps   = 5
	DefaultMaxRetries = 2

	toolTimeout      = 20 * time.Second
	observationLimit = 500
)

// ErrorKind classifies the failure that error recovery is routing on.
type ErrorKind string

const (
	ErrorKindParse ErrorKind = "PARSE"
	ErrorKindTool  ErrorKind = "TOOL"
)

// Action is one parsed tool invocation.
type Action struct {
	Tool  string
	Input string
}

// State carries one run through the loop.
type State struct {
	Messages      []ports.LLMMessage
	CurrentStep   int
	MaxSteps      int
	ErrorCount    int
	MaxRetries    int
	LastError     string
	ErrorKind     ErrorKind
	ToolResults   []string
	FinalAnswer   string
	Documents     []models.DocumentRef
	Scratchpad    string
	PendingAction *Action
}

// Input is one question for the agent to answer. History holds the prior
// turns of the session, already summarized and role-mapped.
type Input struct {
	Question   string
	History    []ports.LLMMessage
	Permission models.Permission
	// Sink receives loop events as they happen. Optional.
	Sink func(models.StreamEvent)
}

// Result is the outcome of a completed run.
type Result struct {
	Answer     string
	Steps      []models.ThoughtStep
	Documents  []models.DocumentRef
	StepsTaken int
	ErrorCount int
}

// Agent answers one question with a bounded tool-use loop, streaming
// thought, action, observation and answer events to the input's sink.
type Agent interface {
	Run(ctx context.Context, in Input) (*Result, error)
}

// New selects the loop implementation by configured type.
func New(agentType string, llm ports.LLMService, registry *Registry, maxSteps, maxRetries int) (Agent, error) {
	switch agentType {
	case "", "react":
		return NewReactAgent(llm, registry, maxSteps, maxRetries), nil
	case "graph":
		return NewGraphAgent(llm, registry, maxSteps, maxRetries), nil
	default:
		return nil, fmt.Errorf("unknown agent type %q", agentType)
	}
}
