package models

import (
	"time"
)

// User is an account row. Retrieval permission derives from IsAdmin:
// admins see ADMIN_ONLY documents, everyone else only PUBLIC ones.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Nickname  string    `json:"nickname"`
	Avatar    string    `json:"avatar,omitempty"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewUser(id, email, nickname string) *User {
	now := time.Now().UTC()
	return &User{
		ID:        id,
		Email:     email,
		Nickname:  nickname,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RetrievalPermission maps the account's role onto the document permission
// level it may read.
func (u *User) RetrievalPermission() Permission {
	if u != nil && u.IsAdmin {
		return PermissionAdminOnly
	}
	return PermissionPublic
}
