package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sibylhq/sibyl/internal/adapters/http/dto"
	"github.com/sibylhq/sibyl/internal/adapters/http/middleware"
	"github.com/sibylhq/sibyl/internal/application/usecases"
	"github.com/sibylhq/sibyl/internal/domain/models"
)

// maxChatBodyBytes bounds the request body; base64 images dominate it.
const maxChatBodyBytes = 16 << 20

const keepaliveInterval = 30 * time.Second

// ChatTurnStarter is implemented by usecases.SendMessage.
type ChatTurnStarter interface {
	Execute(ctx context.Context, input *usecases.SendMessageInput) (<-chan models.StreamEvent, error)
}

type ChatHandler struct {
	turns ChatTurnStarter
}

func NewChatHandler(turns ChatTurnStarter) *ChatHandler {
	return &ChatHandler{turns: turns}
}

// Stream handles POST /api/v1/chat/stream. The turn's progress is written
// as SSE frames until the terminal done or error event; a keepalive
// comment goes out every 30s while the agent is quiet.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity.UserID == "" {
		respondError(w, "auth_error", "User ID not found in context", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	var req dto.ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}

	var image []byte
	if req.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			respondError(w, "invalid_request", "Invalid image encoding", http.StatusBadRequest)
			return
		}
		image = decoded
	}

	input := &usecases.SendMessageInput{
		SessionID:           req.SessionID,
		UserID:              identity.UserID,
		UserName:            identity.Nickname,
		IsAdmin:             identity.IsAdmin,
		Content:             req.Content,
		Image:               image,
		FileText:            req.FileText,
		FileName:            req.FileName,
		FileType:            req.FileType,
		FileSize:            req.FileSize,
		Location:            req.Location,
		ShowThinking:        req.ShowThinking,
		SkipCache:           req.SkipCache,
		RegenerateMessageID: req.RegenerateMessageID,
	}

	events, err := h.turns.Execute(r.Context(), input)
	if err != nil {
		respondError(w, "validation_error", err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, "internal_error", "Streaming not supported", http.StatusInternalServerError)
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Printf("SSE: client disconnected (user=%s)", identity.UserID)
			return

		case event, ok := <-events:
			if !ok {
				// Turn finished; the terminal event already went out.
				return
			}
			if err := writeEvent(w, flusher, event); err != nil {
				log.Printf("SSE: write failed: %v", err)
				return
			}

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent frames one event as `event:` name plus a `data:` JSON line.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, event models.StreamEvent) error {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
