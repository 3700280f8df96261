package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

const (
	// summarizerTimeout bounds the summary LLM call. Summarization runs
	// after the answer is already delivered, never on the hot path.
	summarizerTimeout = 15 * time.Second
	autoNameTimeout   = 10 * time.Second

	// summaryHistoryPrefix marks the injected system turn so the model
	// reads it as condensed history rather than instructions.
	summaryHistoryPrefix = "[history summary]\n"

	sessionNameMaxRunes = 30
)

const summarizerSystemPrompt = `You condense a chat transcript into a short summary that preserves the facts, decisions and open questions needed to continue the conversation. Write plain prose, no headings, at most 150 words.`

const autoNameSystemPrompt = `You name chat sessions. Reply with only a title of 8 to 15 characters for the conversation, no quotes and no punctuation at the end.`

// HistoryManager implements ports.HistoryService: it reconstructs the
// model-visible conversation window and keeps it bounded by folding older
// turns into SUMMARY messages.
type HistoryManager struct {
	messages  ports.MessageRepository
	sessions  ports.SessionRepository
	llm       ports.LLMService
	ids       ports.IDGenerator
	threshold int
}

func NewHistoryManager(messages ports.MessageRepository, sessions ports.SessionRepository, llm ports.LLMService, ids ports.IDGenerator, threshold int) *HistoryManager {
	return &HistoryManager{
		messages:  messages,
		sessions:  sessions,
		llm:       llm,
		ids:       ids,
		threshold: threshold,
	}
}

// Load returns the conversation as the model should see it: the latest
// summary as a system turn, then every later USER and AI message. With no
// summary the whole history is returned.
func (h *HistoryManager) Load(ctx context.Context, sessionID string) ([]models.ChatTurn, error) {
	summary, after, err := h.latestSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var turns []models.ChatTurn
	if summary != nil {
		turns = append(turns, models.ChatTurn{
			Role:    "system",
			Content: summaryHistoryPrefix + summary.Content,
		})
	}

	msgs, err := h.messages.ListAfter(ctx, sessionID, after)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	for _, m := range msgs {
		turns = append(turns, models.ChatTurn{Role: m.Role(), Content: m.Content})
	}
	return turns, nil
}

// MaybeSummarize folds the unsummarized tail of the session into a new
// SUMMARY message once it reaches the threshold. Below the threshold it
// does nothing.
func (h *HistoryManager) MaybeSummarize(ctx context.Context, sessionID string) error {
	summary, after, err := h.latestSummary(ctx, sessionID)
	if err != nil {
		return err
	}

	count, err := h.messages.CountSince(ctx, sessionID, after)
	if err != nil {
		return fmt.Errorf("counting messages: %w", err)
	}
	if count < h.threshold {
		return nil
	}

	msgs, err := h.messages.ListAfter(ctx, sessionID, after)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	var transcript strings.Builder
	if summary != nil {
		transcript.WriteString("Previous summary:\n")
		transcript.WriteString(summary.Content)
		transcript.WriteString("\n\n")
	}
	for _, m := range msgs {
		switch m.SendType {
		case models.SendTypeUser:
			transcript.WriteString("User: ")
		case models.SendTypeAI:
			transcript.WriteString("Assistant: ")
		default:
			continue
		}
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	llmCtx, cancel := context.WithTimeout(ctx, summarizerTimeout)
	defer cancel()
	resp, err := h.llm.Chat(llmCtx, []ports.LLMMessage{
		{Role: "system", Content: summarizerSystemPrompt},
		{Role: "user", Content: transcript.String()},
	})
	if err != nil {
		return fmt.Errorf("summarizing session %s: %w", sessionID, err)
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return fmt.Errorf("summarizer returned empty summary")
	}

	msg := models.NewMessage(h.ids.GenerateSummaryMessageID(), sessionID, models.SendTypeSummary, "system", content)
	if err := h.messages.Create(ctx, msg); err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}
	log.Printf("history: summarized %d messages in session %s", len(msgs), sessionID)
	return nil
}

// AutoNameSession asks the model for a short title from the first
// exchange and renames the session. Intended to run once per session.
func (h *HistoryManager) AutoNameSession(ctx context.Context, sessionID, firstQuestion, firstAnswer string) error {
	llmCtx, cancel := context.WithTimeout(ctx, autoNameTimeout)
	defer cancel()

	resp, err := h.llm.Chat(llmCtx, []ports.LLMMessage{
		{Role: "system", Content: autoNameSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Question: %s\nAnswer: %s", firstQuestion, firstAnswer)},
	})
	if err != nil {
		return fmt.Errorf("naming session %s: %w", sessionID, err)
	}

	name := sanitizeSessionName(resp.Content)
	if name == "" {
		name = sanitizeSessionName(firstQuestion)
	}
	if name == "" {
		return nil
	}
	if err := h.sessions.UpdateName(ctx, sessionID, name); err != nil {
		return fmt.Errorf("renaming session %s: %w", sessionID, err)
	}
	return nil
}

func (h *HistoryManager) latestSummary(ctx context.Context, sessionID string) (*models.Message, time.Time, error) {
	summary, err := h.messages.LatestSummary(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("loading latest summary: %w", err)
	}
	return summary, summary.CreatedAt, nil
}

// sanitizeSessionName strips quotes and newlines and bounds the length.
func sanitizeSessionName(s string) string {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > sessionNameMaxRunes {
		s = string(runes[:sessionNameMaxRunes])
	}
	return strings.TrimSpace(s)
}
