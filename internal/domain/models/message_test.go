package models

import (
	"testing"
	"time"
)

func TestSendTypeString(t *testing.T) {
	tests := []struct {
		sendType SendType
		want     string
	}{
		{SendTypeUser, "user"},
		{SendTypeAI, "ai"},
		{SendTypeSummary, "summary"},
		{SendType(99), "user"},
	}

	for _, tt := range tests {
		if got := tt.sendType.String(); got != tt.want {
			t.Errorf("SendType(%d).String() = %q, want %q", tt.sendType, got, tt.want)
		}
	}
}

func TestMessageRole(t *testing.T) {
	tests := []struct {
		name     string
		sendType SendType
		want     MessageRole
	}{
		{
			name:     "user message maps to user role",
			sendType: SendTypeUser,
			want:     MessageRoleUser,
		},
		{
			name:     "ai message maps to assistant role",
			sendType: SendTypeAI,
			want:     MessageRoleAssistant,
		},
		{
			name:     "summary maps to system role",
			sendType: SendTypeSummary,
			want:     MessageRoleSystem,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &Message{SendType: tt.sendType}
			if got := msg.Role(); got != tt.want {
				t.Errorf("Role() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage("msg-1", "ss-1", SendTypeUser, "user-1", "hello")

	if msg.UUID != "msg-1" || msg.SessionID != "ss-1" || msg.SendID != "user-1" {
		t.Errorf("unexpected identifiers: %+v", msg)
	}
	if msg.Content != "hello" {
		t.Errorf("expected content hello, got %q", msg.Content)
	}
	if msg.Extra == nil {
		t.Error("Extra must be initialized, not nil")
	}
	if msg.Status != MessageStatusNormal {
		t.Errorf("new message must start normal, got %d", msg.Status)
	}
	if msg.CreatedAt.IsZero() || msg.SendAt.IsZero() {
		t.Error("timestamps must be set")
	}
	if msg.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt must be UTC, got %v", msg.CreatedAt.Location())
	}
	if !msg.SendAt.Equal(msg.CreatedAt) {
		t.Error("SendAt must match CreatedAt on creation")
	}
}
