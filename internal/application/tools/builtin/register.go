package builtin

import (
	"fmt"

	"github.com/sibylhq/sibyl/internal/application/agent"
	"github.com/sibylhq/sibyl/internal/ports"
)

// Deps are the services the built-in tools draw on. Nil entries skip the
// tools that need them.
type Deps struct {
	Retrieval      ports.RetrievalService
	VectorStore    ports.VectorStore
	KV             ports.KVStore
	DocsCollection string
	QACollection   string
	SearchTopK     int
	UseReranker    bool
}

// Register adds the built-in tool set to a registry.
func Register(reg *agent.Registry, deps Deps) error {
	if deps.Retrieval != nil {
		if err := reg.Register(KnowledgeSearch(deps.Retrieval, deps.SearchTopK, deps.UseReranker)); err != nil {
			return fmt.Errorf("registering knowledge_search: %w", err)
		}
	}
	if err := reg.Register(Calculator()); err != nil {
		return fmt.Errorf("registering calculator: %w", err)
	}
	if err := reg.Register(WebReader()); err != nil {
		return fmt.Errorf("registering web_reader: %w", err)
	}
	if err := reg.Register(WebSearch()); err != nil {
		return fmt.Errorf("registering web_search: %w", err)
	}
	if deps.VectorStore != nil {
		if err := reg.Register(DatabaseStats(deps.VectorStore, deps.KV, deps.DocsCollection, deps.QACollection)); err != nil {
			return fmt.Errorf("registering database_stats: %w", err)
		}
	}
	return nil
}
