package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/sibylhq/sibyl/internal/adapters/http/dto"
	"github.com/sibylhq/sibyl/internal/adapters/http/middleware"
	"github.com/sibylhq/sibyl/internal/application/usecases"
	"github.com/sibylhq/sibyl/internal/domain/models"
)

const maxUploadBytes = 32 << 20

// DocumentUploader is implemented by usecases.UploadDocument.
type DocumentUploader interface {
	Execute(ctx context.Context, input *usecases.UploadDocumentInput) (*models.Document, error)
}

// DocumentManager is implemented by usecases.ManageDocuments.
type DocumentManager interface {
	List(ctx context.Context, limit, offset int) ([]*models.Document, error)
	Get(ctx context.Context, uuid string) (*models.Document, error)
	Delete(ctx context.Context, uuid string) error
}

type DocumentsHandler struct {
	uploader DocumentUploader
	manager  DocumentManager
}

func NewDocumentsHandler(uploader DocumentUploader, manager DocumentManager) *DocumentsHandler {
	return &DocumentsHandler{uploader: uploader, manager: manager}
}

// Upload handles POST /api/v1/documents. Multipart bodies carry a file
// under the "file" field; JSON bodies paste text directly. Either way the
// response is the PENDING document, ingestion continues on the bus.
func (h *DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity.UserID == "" {
		respondError(w, "auth_error", "User ID not found in context", http.StatusUnauthorized)
		return
	}

	var input *usecases.UploadDocumentInput
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		parsed, ok := h.parseMultipart(w, r)
		if !ok {
			return
		}
		input = parsed
	} else {
		req, ok := decodeJSON[dto.UploadTextRequest](r, w)
		if !ok {
			return
		}
		input = &usecases.UploadDocumentInput{
			FileName:   req.Name,
			Content:    req.Content,
			Permission: models.ParsePermission(req.Permission),
			Collection: req.Collection,
			Source:     req.Source,
			Metadata:   req.Metadata,
		}
	}

	doc, err := h.uploader.Execute(r.Context(), input)
	if err != nil {
		if errors.Is(err, usecases.ErrEmptyUpload) || errors.Is(err, usecases.ErrUnsupportedUpload) {
			respondError(w, "validation_error", err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Failed to upload document for user %s: %v", identity.UserID, err)
		respondError(w, "internal_error", "Failed to upload document", http.StatusInternalServerError)
		return
	}

	respondJSON(w, (&dto.DocumentResponse{}).FromModel(doc), http.StatusAccepted)
}

func (h *DocumentsHandler) parseMultipart(w http.ResponseWriter, r *http.Request) (*usecases.UploadDocumentInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, "invalid_request", "Invalid multipart body", http.StatusBadRequest)
		return nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, "invalid_request", "Missing file field", http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, "invalid_request", "Failed to read upload", http.StatusBadRequest)
		return nil, false
	}

	return &usecases.UploadDocumentInput{
		FileName:   header.Filename,
		Data:       data,
		Permission: models.ParsePermission(r.FormValue("permission")),
		Collection: r.FormValue("collection"),
		Source:     r.FormValue("source"),
	}, true
}

// List handles GET /api/v1/documents.
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 20)
	offset := parseIntQuery(r, "offset", 0)

	docs, err := h.manager.List(r.Context(), limit, offset)
	if err != nil {
		log.Printf("Failed to list documents: %v", err)
		respondError(w, "internal_error", "Failed to list documents", http.StatusInternalServerError)
		return
	}

	respondJSON(w, &dto.DocumentListResponse{
		Documents: dto.FromDocumentModelList(docs),
		Limit:     limit,
		Offset:    offset,
	}, http.StatusOK)
}

// Get handles GET /api/v1/documents/{uuid}.
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	uuid, ok := validateURLParam(r, w, "uuid", "Document ID")
	if !ok {
		return
	}

	doc, err := h.manager.Get(r.Context(), uuid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, "not_found", "Document not found", http.StatusNotFound)
			return
		}
		log.Printf("Failed to get document %s: %v", uuid, err)
		respondError(w, "internal_error", "Failed to get document", http.StatusInternalServerError)
		return
	}

	respondJSON(w, (&dto.DocumentResponse{}).FromModel(doc), http.StatusOK)
}

// Delete handles DELETE /api/v1/documents/{uuid}. Chunk cleanup rides the
// bus; the row is gone when this returns.
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if !identity.IsAdmin {
		respondError(w, "forbidden", "Only admins can delete documents", http.StatusForbidden)
		return
	}

	uuid, ok := validateURLParam(r, w, "uuid", "Document ID")
	if !ok {
		return
	}

	if err := h.manager.Delete(r.Context(), uuid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, "not_found", "Document not found", http.StatusNotFound)
			return
		}
		log.Printf("Failed to delete document %s: %v", uuid, err)
		respondError(w, "internal_error", "Failed to delete document", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
