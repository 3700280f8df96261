package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/sibylhq/sibyl/internal/application/agent"
	"github.com/sibylhq/sibyl/internal/ports"
)

// DatabaseStats reports vector collection sizes and the rolling turn
// counter. Admin only; public runs never see it in the prompt and cannot
// invoke it.
func DatabaseStats(store ports.VectorStore, kv ports.KVStore, docsCollection, qaCollection string) *agent.Tool {
	return &agent.Tool{
		Name:        "database_stats",
		Description: "Reports the size of the document index, the answer cache, and chat activity. Takes no input.",
		IsAdmin:     true,
		Invoke: func(ctx context.Context, input string) (string, error) {
			docs, err := store.Count(ctx, docsCollection, nil)
			if err != nil {
				return "", fmt.Errorf("counting document vectors: %w", err)
			}
			qa, err := store.Count(ctx, qaCollection, nil)
			if err != nil {
				return "", fmt.Errorf("counting cache entries: %w", err)
			}

			var b strings.Builder
			b.WriteString("Vector store statistics:\n")
			fmt.Fprintf(&b, "- document chunks (%s): %d\n", docsCollection, docs)
			fmt.Fprintf(&b, "- cached answers (%s): %d\n", qaCollection, qa)
			if kv != nil {
				turns, err := kv.GetCounter(ctx, ports.CounterChatTurns)
				if err != nil {
					return "", fmt.Errorf("reading turn counter: %w", err)
				}
				fmt.Fprintf(&b, "- chat turns (last 24h): %d\n", turns)
			}
			return b.String(), nil
		},
	}
}
