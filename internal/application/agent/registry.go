package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/sibylhq/sibyl/internal/domain/models"
)

// ToolFunc executes one tool call. Input is the raw Action Input text and
// the returned string becomes the Observation.
type ToolFunc func(ctx context.Context, input string) (string, error)

// Tool is one callable the agent may pick during a run.
type Tool struct {
	Name        string
	Description string
	IsAdmin     bool
	Invoke      ToolFunc
}

// Registry holds the tools available to agent runs, keyed by name.
// Registration order is preserved for prompt rendering.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Names are unique.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool must have a name")
	}
	if t.Invoke == nil {
		return fmt.Errorf("tool %q has no implementation", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q is already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ForPermission returns the tools visible at the given permission level,
// in registration order. Admin tools are hidden from public users.
func (r *Registry) ForPermission(p models.Permission) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		if t.IsAdmin && p < models.PermissionAdminOnly {
			continue
		}
		out = append(out, t)
	}
	return out
}

type permissionKey struct{}

// WithPermission attaches the caller's permission to a context. The loop
// stamps every tool invocation with it so permission-scoped tools filter
// what they return.
func WithPermission(ctx context.Context, p models.Permission) context.Context {
	return context.WithValue(ctx, permissionKey{}, p)
}

// PermissionFromContext reads the caller's permission off the context,
// defaulting to public.
func PermissionFromContext(ctx context.Context) models.Permission {
	if p, ok := ctx.Value(permissionKey{}).(models.Permission); ok {
		return p
	}
	return models.PermissionPublic
}
