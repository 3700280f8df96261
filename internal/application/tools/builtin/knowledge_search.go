package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sibylhq/sibyl/internal/application/agent"
	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

const defaultSearchTopK = 5

// searchPayload is the tool's JSON result. The documents list is how
// source references reach the agent loop and, from there, the client.
type searchPayload struct {
	Result    string               `json:"result"`
	Documents []models.DocumentRef `json:"documents,omitempty"`
}

// KnowledgeSearch queries the indexed document base. Hits are already
// permission-filtered by the retriever; the caller's permission rides in
// on the invocation context.
func KnowledgeSearch(retrieval ports.RetrievalService, topK int, useReranker bool) *agent.Tool {
	if topK <= 0 {
		topK = defaultSearchTopK
	}
	return &agent.Tool{
		Name:        "knowledge_search",
		Description: "Searches the internal knowledge base for passages relevant to a query. Input is a plain-text search query. Use this for any question that indexed documents could answer.",
		Invoke: func(ctx context.Context, input string) (string, error) {
			query := strings.TrimSpace(input)
			if query == "" {
				return "", fmt.Errorf("search query is empty")
			}

			passages, err := retrieval.Search(ctx, ports.SearchInput{
				Query:          query,
				TopK:           topK,
				UserPermission: agent.PermissionFromContext(ctx),
				UseReranker:    useReranker,
			})
			if err != nil {
				return "", fmt.Errorf("knowledge search: %w", err)
			}
			if len(passages) == 0 {
				return "No relevant passages found in the knowledge base.", nil
			}

			payload := searchPayload{
				Result:    renderPassages(passages),
				Documents: documentRefs(passages),
			}
			out, err := json.Marshal(payload)
			if err != nil {
				return "", fmt.Errorf("encoding search result: %w", err)
			}
			return string(out), nil
		},
	}
}

func renderPassages(passages []models.RetrievedPassage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant passage(s):\n", len(passages))
	for i, p := range passages {
		label := fmt.Sprintf("score: %.2f", p.Score)
		if p.RerankScore != nil {
			label = fmt.Sprintf("rerank score: %.2f", *p.RerankScore)
		}
		fmt.Fprintf(&b, "\n[Doc %d - %s (%s)]\n%s\n", i+1, passageFilename(p), label, p.Text)
	}
	return b.String()
}

// documentRefs collects the distinct source documents, in passage order.
func documentRefs(passages []models.RetrievedPassage) []models.DocumentRef {
	seen := make(map[string]bool, len(passages))
	var refs []models.DocumentRef
	for _, p := range passages {
		uuid, _ := p.Metadata["document_uuid"].(string)
		if uuid == "" || seen[uuid] {
			continue
		}
		seen[uuid] = true
		refs = append(refs, models.DocumentRef{UUID: uuid, Name: passageFilename(p)})
	}
	return refs
}

func passageFilename(p models.RetrievedPassage) string {
	if name, _ := p.Metadata["filename"].(string); name != "" {
		return name
	}
	return "unknown"
}
