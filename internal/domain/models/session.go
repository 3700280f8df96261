package models

import (
	"time"
)

// Session is a conversation container owned by a single user. Name is
// auto-generated from the first complete turn once both the user and AI
// messages exist.
type Session struct {
	UUID        string     `json:"uuid"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	LastMessage string     `json:"last_message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func NewSession(uuid, userID, name string) *Session {
	now := time.Now().UTC() // Always use UTC for consistent timezone handling
	return &Session{
		UUID:      uuid,
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
