package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/sibylhq/sibyl/internal/ports"
)

// Node names of the graph shape.
const (
	nodeThink    = "think"
	nodeAct      = "act"
	nodeRecover  = "error_recovery"
	nodeFinalize = "finalize"
	nodeEnd      = "end"
)

// graphNode executes one node and names the edge to follow.
type graphNode func(ctx context.Context, r *run) (string, error)

// GraphAgent drives the same loop as an explicit node graph. Routing
// rules live on the nodes, which makes the state machine inspectable;
// the step mechanics are shared with ReactAgent.
type GraphAgent struct {
	engine
	nodes map[string]graphNode
}

func NewGraphAgent(llm ports.LLMService, registry *Registry, maxSteps, maxRetries int) *GraphAgent {
	a := &GraphAgent{engine: newEngine(llm, registry, maxSteps, maxRetries)}
	a.nodes = map[string]graphNode{
		nodeThink:    a.thinkNode,
		nodeAct:      a.actNode,
		nodeRecover:  a.recoverNode,
		nodeFinalize: a.finalizeNode,
	}
	return a
}

func (a *GraphAgent) Run(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, fmt.Errorf("question is empty")
	}
	r := a.newRun(in)

	current := nodeThink
	for current != nodeEnd {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node, ok := a.nodes[current]
		if !ok {
			return nil, fmt.Errorf("agent graph has no node %q", current)
		}
		next, err := node(ctx, r)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return a.result(r), nil
}

func (a *GraphAgent) thinkNode(ctx context.Context, r *run) (string, error) {
	if err := a.think(ctx, r); err != nil {
		return "", err
	}
	switch {
	case r.st.LastError != "":
		return nodeRecover, nil
	case r.st.FinalAnswer != "" || r.st.CurrentStep >= r.st.MaxSteps:
		return nodeFinalize, nil
	case r.st.PendingAction == nil:
		return nodeFinalize, nil
	default:
		return nodeAct, nil
	}
}

func (a *GraphAgent) actNode(ctx context.Context, r *run) (string, error) {
	a.act(ctx, r)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.st.LastError != "" {
		return nodeRecover, nil
	}
	return nodeThink, nil
}

func (a *GraphAgent) recoverNode(_ context.Context, r *run) (string, error) {
	if a.recoverOrFail(r) {
		return nodeThink, nil
	}
	return nodeFinalize, nil
}

func (a *GraphAgent) finalizeNode(ctx context.Context, r *run) (string, error) {
	a.finalize(ctx, r)
	return nodeEnd, nil
}
