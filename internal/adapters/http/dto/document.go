package dto

import (
	"time"

	"github.com/sibylhq/sibyl/internal/domain/models"
)

// UploadTextRequest ingests pasted text without a file upload.
type UploadTextRequest struct {
	Name       string         `json:"name,omitempty"`
	Content    string         `json:"content"`
	Permission string         `json:"permission,omitempty"`
	Collection string         `json:"collection,omitempty"`
	Source     string         `json:"source,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type DocumentResponse struct {
	UUID       string         `json:"uuid"`
	Name       string         `json:"name"`
	SizeBytes  int64          `json:"size_bytes"`
	Permission string         `json:"permission"`
	Status     string         `json:"status"`
	Extra      map[string]any `json:"extra,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type DocumentListResponse struct {
	Documents []*DocumentResponse `json:"documents"`
	Limit     int                 `json:"limit"`
	Offset    int                 `json:"offset"`
}

func (r *DocumentResponse) FromModel(doc *models.Document) *DocumentResponse {
	return &DocumentResponse{
		UUID:       doc.UUID,
		Name:       doc.Name,
		SizeBytes:  doc.SizeBytes,
		Permission: doc.Permission.String(),
		Status:     doc.Status.String(),
		Extra:      doc.Extra,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

func FromDocumentModelList(docs []*models.Document) []*DocumentResponse {
	responses := make([]*DocumentResponse, len(docs))
	for i, doc := range docs {
		responses[i] = (&DocumentResponse{}).FromModel(doc)
	}
	return responses
}
