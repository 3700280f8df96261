package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sibylhq/sibyl/internal/adapters/circuitbreaker"
	"github.com/sibylhq/sibyl/internal/adapters/metrics"
	"github.com/sibylhq/sibyl/internal/ports"
)

const (
	// ChatTimeout is the maximum time to wait for a non-streaming response
	ChatTimeout = 30 * time.Second
	// StreamTimeout is the maximum lifetime of a streaming response
	StreamTimeout = 2 * time.Minute
)

// Service implements ports.LLMService using the OpenAI-compatible client
type Service struct {
	client  *Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewService creates a new LLM service
func NewService(client *Client) *Service {
	return &Service{
		client:  client,
		breaker: circuitbreaker.New("llm", 5, 30*time.Second),
	}
}

// Chat sends a non-streaming chat request
func (s *Service) Chat(ctx context.Context, messages []ports.LLMMessage) (*ports.LLMResponse, error) {
	var result *ports.LLMResponse
	err := s.breaker.Execute(func() error {
		var err error
		result, err = s.doChat(ctx, messages)
		return err
	})
	return result, err
}

func (s *Service) doChat(ctx context.Context, messages []ports.LLMMessage) (*ports.LLMResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, ChatTimeout)
	defer cancel()

	start := time.Now()
	response, err := s.client.Chat(ctx, s.convertMessages(messages))
	metrics.LLMRequestDuration.WithLabelValues(s.client.Model()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(s.client.Model(), "error").Inc()
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	metrics.LLMRequestsTotal.WithLabelValues(s.client.Model(), "ok").Inc()

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &ports.LLMResponse{
		Content: response.Choices[0].Message.Content,
	}, nil
}

// ChatStream sends a streaming chat request. The stream is bounded by
// StreamTimeout on top of the caller's context.
func (s *Service) ChatStream(parentCtx context.Context, messages []ports.LLMMessage) (<-chan ports.LLMStreamChunk, error) {
	ctx, cancel := context.WithTimeout(parentCtx, StreamTimeout)

	clientChan, err := s.client.ChatStream(ctx, s.convertMessages(messages))
	if err != nil {
		cancel()
		metrics.LLMRequestsTotal.WithLabelValues(s.client.Model(), "error").Inc()
		return nil, fmt.Errorf("chat stream request failed: %w", err)
	}
	metrics.LLMRequestsTotal.WithLabelValues(s.client.Model(), "ok").Inc()

	outputChan := make(chan ports.LLMStreamChunk, 10)
	go func() {
		defer cancel()
		s.forwardStream(ctx, clientChan, outputChan)
	}()

	return outputChan, nil
}

// convertMessages converts ports.LLMMessage to ChatMessage
func (s *Service) convertMessages(messages []ports.LLMMessage) []ChatMessage {
	chatMessages := make([]ChatMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = TextMessage(msg.Role, msg.Content)
	}
	return chatMessages
}

// forwardStream converts client stream chunks to ports stream chunks.
// Reasoning-only deltas are dropped; the ReAct protocol reads content.
func (s *Service) forwardStream(ctx context.Context, clientChan <-chan StreamChunk, outputChan chan<- ports.LLMStreamChunk) {
	defer close(outputChan)

	for {
		select {
		case <-ctx.Done():
			outputChan <- ports.LLMStreamChunk{Error: ctx.Err()}
			return
		case chunk, ok := <-clientChan:
			if !ok {
				return
			}
			if chunk.Content == "" && !chunk.Done && chunk.Error == nil {
				continue
			}
			outputChan <- ports.LLMStreamChunk{
				Content: chunk.Content,
				Done:    chunk.Done,
				Error:   chunk.Error,
			}
		}
	}
}
