package models

import (
	"time"
)

// SendType discriminates who produced a message row. SUMMARY rows are
// written by the history manager and supersede all earlier rows when
// loading context; they never round-trip through the chat role mapping
// except as a system-role prefix.
type SendType int

const (
	// SendTypeUser is a message typed by the user
	SendTypeUser SendType = 0
	// SendTypeAI is an assistant answer produced by the agent or cache
	SendTypeAI SendType = 1
	// SendTypeSummary is a compaction of earlier turns into one system entry
	SendTypeSummary SendType = 2
)

func (s SendType) String() string {
	switch s {
	case SendTypeAI:
		return "ai"
	case SendTypeSummary:
		return "summary"
	default:
		return "user"
	}
}

// MessageRole is the chat-completion role a message maps to when history
// is rendered for the model.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// MessageStatus tracks delivery of a message row.
type MessageStatus int

const (
	MessageStatusNormal MessageStatus = 0
	MessageStatusFailed MessageStatus = 1
)

// Message is a single turn entry within a session. Extra is a free-form
// object that may carry the file URL, parsed file content, the sender's
// location, a thought_chain_id back-reference, a documents list, and the
// thoughts/actions/observations captured for the turn.
type Message struct {
	UUID       string         `json:"uuid"`
	SessionID  string         `json:"session_id"`
	Content    string         `json:"content"`
	SendType   SendType       `json:"send_type"`
	SendID     string         `json:"send_id"`
	SendName   string         `json:"send_name,omitempty"`
	SendAvatar string         `json:"send_avatar,omitempty"`
	ReceiveID  string         `json:"receive_id,omitempty"`
	FileType   string         `json:"file_type,omitempty"`
	FileName   string         `json:"file_name,omitempty"`
	FileSize   int64          `json:"file_size,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
	Status     MessageStatus  `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	SendAt     time.Time      `json:"send_at"`
}

func NewMessage(uuid, sessionID string, sendType SendType, sendID, content string) *Message {
	now := time.Now().UTC() // Always use UTC for consistent timezone handling
	return &Message{
		UUID:      uuid,
		SessionID: sessionID,
		Content:   content,
		SendType:  sendType,
		SendID:    sendID,
		Extra:     map[string]any{},
		CreatedAt: now,
		SendAt:    now,
	}
}

// Role maps the send type onto the chat role used when rendering history.
func (m *Message) Role() MessageRole {
	switch m.SendType {
	case SendTypeAI:
		return MessageRoleAssistant
	case SendTypeSummary:
		return MessageRoleSystem
	default:
		return MessageRoleUser
	}
}

// ChatTurn is one history entry handed to the model.
type ChatTurn struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}
