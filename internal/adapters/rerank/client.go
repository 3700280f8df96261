package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sibylhq/sibyl/internal/adapters/circuitbreaker"
	"github.com/sibylhq/sibyl/internal/adapters/retry"
	"github.com/sibylhq/sibyl/internal/domain/models"
)

const (
	// RerankTimeout is the maximum time to wait for one rerank call
	RerankTimeout = 10 * time.Second
)

// Client scores (query, passage) pairs against a cross-encoder service
// speaking the common /rerank JSON protocol.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	httpClient  *http.Client
	retryConfig retry.BackoffConfig
	breaker     *circuitbreaker.CircuitBreaker
}

// NewClient creates a new rerank client
func NewClient(baseURL, apiKey, model string) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: RerankTimeout,
		},
		retryConfig: retry.HTTPConfig(),
		breaker:     circuitbreaker.New("rerank", 5, 30*time.Second),
	}
}

// RerankRequest is the request to the rerank API
type RerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

// rerankScore is one scored entry of the response
type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank scores every passage against the query, sorts descending, drops
// entries below threshold and cuts to topK. Each returned passage carries
// its RerankScore. A very negative threshold disables the cut.
func (c *Client) Rerank(ctx context.Context, query string, passages []models.RetrievedPassage, topK int, threshold float64) ([]models.RetrievedPassage, error) {
	if len(passages) == 0 {
		return passages, nil
	}

	texts := make([]string, len(passages))
	for i, passage := range passages {
		texts[i] = passage.Text
	}

	var scores []rerankScore
	err := c.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, RerankTimeout)
		defer cancel()

		var err error
		scores, err = c.rerankInternal(ctx, query, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(scores) != len(passages) {
		return nil, fmt.Errorf("expected %d scores but got %d", len(passages), len(scores))
	}

	scored := make([]models.RetrievedPassage, 0, len(passages))
	for _, entry := range scores {
		if entry.Index < 0 || entry.Index >= len(passages) {
			return nil, fmt.Errorf("rerank index %d out of range", entry.Index)
		}
		passage := passages[entry.Index]
		score := entry.Score
		passage.RerankScore = &score
		if score < threshold {
			continue
		}
		scored = append(scored, passage)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].RerankScore > *scored[j].RerankScore
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (c *Client) rerankInternal(ctx context.Context, query string, texts []string) ([]rerankScore, error) {
	body, err := json.Marshal(RerankRequest{
		Query: query,
		Texts: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var respBody []byte

	err = retry.WithBackoffHTTP(ctx, c.retryConfig, func() (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/rerank", bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("failed to create request: %w", err)
		}

		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			log.Printf("[RerankClient] HTTP request failed: url=%s/rerank, error=%v", c.baseURL, err)
			return 0, fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			log.Printf("[RerankClient] API error: url=%s/rerank, status=%d, body=%s", c.baseURL, resp.StatusCode, string(respBody))
			return resp.StatusCode, fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
		}

		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}

	var scores []rerankScore
	if err := json.Unmarshal(respBody, &scores); err != nil {
		// Some servers wrap the list in a results field.
		var wrapped struct {
			Results []rerankScore `json:"results"`
		}
		if err := json.Unmarshal(respBody, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		scores = wrapped.Results
	}

	return scores, nil
}
