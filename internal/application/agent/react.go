package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/sibylhq/sibyl/internal/ports"
)

// ReactAgent drives the reasoning loop with direct control flow: think,
// act on the parsed action, recover from failures, finalize.
type ReactAgent struct {
	engine
}

func NewReactAgent(llm ports.LLMService, registry *Registry, maxSteps, maxRetries int) *ReactAgent {
	return &ReactAgent{engine: newEngine(llm, registry, maxSteps, maxRetries)}
}

func (a *ReactAgent) Run(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, fmt.Errorf("question is empty")
	}
	r := a.newRun(in)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := a.think(ctx, r); err != nil {
			return nil, err
		}
		if r.st.LastError != "" {
			if !a.recoverOrFail(r) {
				break
			}
			continue
		}
		if r.st.FinalAnswer != "" || r.st.CurrentStep >= r.st.MaxSteps {
			break
		}
		if r.st.PendingAction == nil {
			break
		}

		a.act(ctx, r)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.st.LastError != "" {
			if !a.recoverOrFail(r) {
				break
			}
		}
	}

	a.finalize(ctx, r)
	return a.result(r), nil
}
