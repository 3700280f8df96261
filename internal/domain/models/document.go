package models

import (
	"time"
)

// DocumentStatus tracks a document through the ingestion pipeline.
// Transitions are monotone: PENDING -> PROCESSING -> {DONE, FAILED}.
// Only an operator reset moves a document backwards.
type DocumentStatus int

const (
	// DocumentStatusPending indicates the document is uploaded but not yet picked up
	DocumentStatusPending DocumentStatus = 0
	// DocumentStatusProcessing indicates an ingest worker is chunking and embedding it
	DocumentStatusProcessing DocumentStatus = 1
	// DocumentStatusDone indicates all chunks are indexed in the vector store
	DocumentStatusDone DocumentStatus = 2
	// DocumentStatusFailed indicates ingestion raised and no further retries happen
	DocumentStatusFailed DocumentStatus = 3
)

// IsTerminal reports whether the status accepts no further pipeline transitions.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentStatusDone || s == DocumentStatusFailed
}

func (s DocumentStatus) String() string {
	switch s {
	case DocumentStatusPending:
		return "pending"
	case DocumentStatusProcessing:
		return "processing"
	case DocumentStatusDone:
		return "done"
	case DocumentStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Permission gates who may retrieve a document's chunks.
type Permission int

const (
	// PermissionPublic documents are retrievable by every user
	PermissionPublic Permission = 0
	// PermissionAdminOnly documents are hidden from non-admin retrieval
	PermissionAdminOnly Permission = 1
)

func (p Permission) String() string {
	if p == PermissionAdminOnly {
		return "admin"
	}
	return "public"
}

// ParsePermission maps the wire names to permission levels. Unknown
// values fall back to public.
func ParsePermission(value string) Permission {
	if value == "admin" {
		return PermissionAdminOnly
	}
	return PermissionPublic
}

// Document is an uploaded artifact. Content holds the extracted plain text
// and may be empty until the extractor has run. Extra carries free-form
// processing details (timings, vector and chunk counts).
type Document struct {
	UUID       string         `json:"uuid"`
	Name       string         `json:"name"`
	Content    string         `json:"content,omitempty"`
	PageCount  int            `json:"page_count"`
	URL        string         `json:"url,omitempty"`
	SizeBytes  int64          `json:"size_bytes"`
	Permission Permission     `json:"permission"`
	Status     DocumentStatus `json:"status"`
	Extra      map[string]any `json:"extra,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func NewDocument(uuid, name string, sizeBytes int64, permission Permission) *Document {
	now := time.Now().UTC() // Always use UTC for consistent timezone handling
	return &Document{
		UUID:       uuid,
		Name:       name,
		SizeBytes:  sizeBytes,
		Permission: permission,
		Status:     DocumentStatusPending,
		Extra:      map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// DocumentRef is the {uuid, name} pair carried in thought chains, message
// extras and `documents` stream events.
type DocumentRef struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}
