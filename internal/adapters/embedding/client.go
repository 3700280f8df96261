package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sibylhq/sibyl/internal/adapters/circuitbreaker"
	"github.com/sibylhq/sibyl/internal/adapters/retry"
)

const (
	// BatchTimeout is the maximum time to wait for one embedding batch
	BatchTimeout = 60 * time.Second
	// DefaultBatchSize bounds how many passages go into one API call
	DefaultBatchSize = 32
)

// Client is an OpenAI-compatible embedding client. Queries and passages
// are encoded with different prompt prefixes; passages never receive the
// query prefix. All vectors are L2-normalized before they are returned,
// so cosine search over them is safe.
type Client struct {
	baseURL       string
	apiKey        string
	model         string
	dimensions    int
	queryPrefix   string
	passagePrefix string
	httpClient    *http.Client
	retryConfig   retry.BackoffConfig
	breaker       *circuitbreaker.CircuitBreaker
}

// NewClient creates a new embedding client
func NewClient(baseURL, apiKey, model string, dimensions int, queryPrefix, passagePrefix string) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	return &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		model:         model,
		dimensions:    dimensions,
		queryPrefix:   queryPrefix,
		passagePrefix: passagePrefix,
		httpClient: &http.Client{
			Timeout: 30 * time.Second, // Per-request timeout; batches retry within BatchTimeout
		},
		retryConfig: retry.HTTPConfig(),
		breaker:     circuitbreaker.New("embedding", 5, 30*time.Second),
	}
}

// EmbeddingRequest represents the request to the embeddings API
type EmbeddingRequest struct {
	Input any    `json:"input"` // string or []string
	Model string `json:"model"`
}

// EmbeddingResponse represents the response from the embeddings API
type EmbeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// EmbedQuery encodes one query text into a unit-norm vector.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var result []float32
	err := c.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, BatchTimeout)
		defer cancel()

		vectors, err := c.embedBatchInternal(ctx, []string{c.queryPrefix + text})
		if err != nil {
			return err
		}
		if len(vectors) == 0 {
			return fmt.Errorf("no embedding returned")
		}
		result = vectors[0]
		return nil
	})
	return result, err
}

// EmbedPassages encodes passages in batches of batchSize. Order of the
// returned vectors matches the input order.
func (c *Client) EmbedPassages(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	prefixed := make([]string, len(texts))
	for i, text := range texts {
		prefixed[i] = c.passagePrefix + text
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(prefixed); start += batchSize {
		end := start + batchSize
		if end > len(prefixed) {
			end = len(prefixed)
		}

		var batch [][]float32
		err := c.breaker.Execute(func() error {
			ctx, cancel := context.WithTimeout(ctx, BatchTimeout)
			defer cancel()

			var err error
			batch, err = c.embedBatchInternal(ctx, prefixed[start:end])
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d failed: %w", start, end, err)
		}
		results = append(results, batch...)
	}

	return results, nil
}

// Dimensions returns the dimensionality of the embeddings
func (c *Client) Dimensions() int {
	return c.dimensions
}

// curlExample returns a curl command for debugging embedding requests
func (c *Client) curlExample() string {
	authHeader := ""
	if c.apiKey != "" {
		authHeader = fmt.Sprintf(` -H "Authorization: Bearer %s"`, c.apiKey)
	}
	return fmt.Sprintf(
		`curl -X POST "%s/v1/embeddings" -H "Content-Type: application/json"%s -d '{"input": "test", "model": "%s"}'`,
		c.baseURL, authHeader, c.model,
	)
}

func (c *Client) embedBatchInternal(ctx context.Context, texts []string) ([][]float32, error) {
	req := EmbeddingRequest{
		Model: c.model,
	}
	if len(texts) == 1 {
		req.Input = texts[0]
	} else {
		req.Input = texts
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var respBody []byte
	var statusCode int

	err = retry.WithBackoffHTTP(ctx, c.retryConfig, func() (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/embeddings", bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("failed to create request: %w", err)
		}

		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			log.Printf("[EmbeddingClient] HTTP request failed: url=%s/v1/embeddings, error=%v", c.baseURL, err)
			return 0, fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return statusCode, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			log.Printf("[EmbeddingClient] API error: url=%s/v1/embeddings, status=%d, body=%s", c.baseURL, resp.StatusCode, string(respBody))
			return statusCode, fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
		}

		return statusCode, nil
	})

	if err != nil {
		return nil, fmt.Errorf("%w (debug: %s)", err, c.curlExample())
	}

	var embeddingResp EmbeddingResponse
	if err := json.Unmarshal(respBody, &embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(embeddingResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings but got %d", len(texts), len(embeddingResp.Data))
	}

	results := make([][]float32, len(embeddingResp.Data))
	for _, data := range embeddingResp.Data {
		dimensions := len(data.Embedding)
		if c.dimensions > 0 && dimensions != c.dimensions {
			log.Printf("[EmbeddingClient] dimension mismatch: expected=%d, got=%d, model=%s", c.dimensions, dimensions, embeddingResp.Model)
			return nil, fmt.Errorf("expected %d dimensions but got %d", c.dimensions, dimensions)
		}
		if data.Index < 0 || data.Index >= len(results) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		results[data.Index] = Normalize(data.Embedding)
	}

	return results, nil
}

// Normalize scales a vector to unit L2 norm. Already-normalized vectors
// pass through unchanged; zero vectors are returned as-is.
func Normalize(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vector
	}
	norm := math.Sqrt(sum)
	if math.Abs(norm-1) < 1e-6 {
		return vector
	}
	normalized := make([]float32, len(vector))
	for i, v := range vector {
		normalized[i] = float32(float64(v) / norm)
	}
	return normalized
}
