package dto

import (
	"time"

	"github.com/sibylhq/sibyl/internal/domain/models"
)

type SessionResponse struct {
	UUID        string    `json:"uuid"`
	Name        string    `json:"name"`
	LastMessage string    `json:"last_message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SessionListResponse struct {
	Sessions []*SessionResponse `json:"sessions"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

func (r *SessionResponse) FromModel(session *models.Session) *SessionResponse {
	return &SessionResponse{
		UUID:        session.UUID,
		Name:        session.Name,
		LastMessage: session.LastMessage,
		CreatedAt:   session.CreatedAt,
		UpdatedAt:   session.UpdatedAt,
	}
}

func FromSessionModelList(sessions []*models.Session) []*SessionResponse {
	responses := make([]*SessionResponse, len(sessions))
	for i, session := range sessions {
		responses[i] = (&SessionResponse{}).FromModel(session)
	}
	return responses
}

type MessageResponse struct {
	UUID       string         `json:"uuid"`
	SessionID  string         `json:"session_id"`
	Content    string         `json:"content"`
	SendType   string         `json:"send_type"`
	SendID     string         `json:"send_id"`
	SendName   string         `json:"send_name,omitempty"`
	SendAvatar string         `json:"send_avatar,omitempty"`
	FileName   string         `json:"file_name,omitempty"`
	FileType   string         `json:"file_type,omitempty"`
	FileSize   int64          `json:"file_size,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type MessageListResponse struct {
	Messages []*MessageResponse `json:"messages"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

func (r *MessageResponse) FromModel(message *models.Message) *MessageResponse {
	return &MessageResponse{
		UUID:       message.UUID,
		SessionID:  message.SessionID,
		Content:    message.Content,
		SendType:   message.SendType.String(),
		SendID:     message.SendID,
		SendName:   message.SendName,
		SendAvatar: message.SendAvatar,
		FileName:   message.FileName,
		FileType:   message.FileType,
		FileSize:   message.FileSize,
		Extra:      message.Extra,
		CreatedAt:  message.CreatedAt,
	}
}

func FromMessageModelList(messages []*models.Message) []*MessageResponse {
	responses := make([]*MessageResponse, len(messages))
	for i, message := range messages {
		responses[i] = (&MessageResponse{}).FromModel(message)
	}
	return responses
}
