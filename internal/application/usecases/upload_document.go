package usecases

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

var (
	// ErrEmptyUpload rejects uploads with neither file bytes nor text.
	ErrEmptyUpload = errors.New("upload is empty")
	// ErrUnsupportedUpload rejects file extensions no extractor handles.
	ErrUnsupportedUpload = errors.New("unsupported file type")
)

// UploadDocumentInput describes one upload. Data and Content are
// exclusive: raw file bytes take the file path, inline text is ingested
// as-is without touching disk.
type UploadDocumentInput struct {
	FileName   string
	Data       []byte
	Content    string
	Permission models.Permission
	// Collection overrides the default vector collection.
	Collection string
	// Source tags the chunks' metadata, e.g. "handbook".
	Source   string
	Metadata map[string]any
}

// UploadDocument registers a document and enqueues its ingestion. The
// HTTP response returns immediately with the PENDING document; a worker
// picks the task up from the bus.
type UploadDocument struct {
	documents ports.DocumentRepository
	bus       ports.MessageBus
	extractor ports.Extractor
	ids       ports.IDGenerator
	uploadDir string
}

func NewUploadDocument(
	documents ports.DocumentRepository,
	bus ports.MessageBus,
	extractor ports.Extractor,
	ids ports.IDGenerator,
	uploadDir string,
) *UploadDocument {
	return &UploadDocument{
		documents: documents,
		bus:       bus,
		extractor: extractor,
		ids:       ids,
		uploadDir: uploadDir,
	}
}

func (uc *UploadDocument) Execute(ctx context.Context, input *UploadDocumentInput) (*models.Document, error) {
	switch {
	case len(input.Data) > 0:
		return uc.uploadFile(ctx, input)
	case strings.TrimSpace(input.Content) != "":
		return uc.uploadText(ctx, input)
	default:
		return nil, ErrEmptyUpload
	}
}

// UploadDirectory enqueues every regular file under dir as one batch
// document. Used by the CLI for bulk imports.
func (uc *UploadDocument) UploadDirectory(ctx context.Context, dir string, permission models.Permission, collection string) (*models.Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	doc := models.NewDocument(uc.ids.GenerateDocumentID(), filepath.Base(dir), 0, permission)
	doc.Extra["file_path"] = dir
	if collection != "" {
		doc.Extra["collection"] = collection
	}
	if err := uc.documents.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	task := &models.Task{
		TaskType:       models.TaskTypeBatch,
		DocumentUUID:   doc.UUID,
		FilePath:       dir,
		CollectionName: collection,
		Metadata:       map[string]any{"filename": doc.Name, "source": "batch"},
		Permission:     permission,
	}
	if err := uc.enqueue(ctx, doc, task); err != nil {
		return nil, err
	}
	return doc, nil
}

func (uc *UploadDocument) uploadFile(ctx context.Context, input *UploadDocumentInput) (*models.Document, error) {
	ext := strings.ToLower(filepath.Ext(input.FileName))
	if !uc.supported(ext) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedUpload, ext)
	}

	docID := uc.ids.GenerateDocumentID()
	if err := os.MkdirAll(uc.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare upload dir: %w", err)
	}
	path := filepath.Join(uc.uploadDir, docID+ext)
	if err := os.WriteFile(path, input.Data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	doc := models.NewDocument(docID, input.FileName, int64(len(input.Data)), input.Permission)
	doc.Extra["file_path"] = path
	if input.Collection != "" {
		doc.Extra["collection"] = input.Collection
	}
	if err := uc.documents.Create(ctx, doc); err != nil {
		// Compensate so the upload dir does not collect orphans.
		if rmErr := os.Remove(path); rmErr != nil {
			log.Printf("warning: failed to remove orphaned upload %s: %v", path, rmErr)
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	task := &models.Task{
		TaskType:       models.TaskTypeFile,
		DocumentUUID:   docID,
		FilePath:       path,
		CollectionName: input.Collection,
		Metadata:       taskMetadata(input, input.FileName),
		Permission:     input.Permission,
	}
	if err := uc.enqueue(ctx, doc, task); err != nil {
		return nil, err
	}
	return doc, nil
}

func (uc *UploadDocument) uploadText(ctx context.Context, input *UploadDocumentInput) (*models.Document, error) {
	name := input.FileName
	if name == "" {
		name = "Pasted text"
	}

	doc := models.NewDocument(uc.ids.GenerateDocumentID(), name, int64(len(input.Content)), input.Permission)
	if input.Collection != "" {
		doc.Extra["collection"] = input.Collection
	}
	if err := uc.documents.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	task := &models.Task{
		TaskType:       models.TaskTypeText,
		DocumentUUID:   doc.UUID,
		Content:        input.Content,
		CollectionName: input.Collection,
		Metadata:       taskMetadata(input, name),
		Permission:     input.Permission,
	}
	if err := uc.enqueue(ctx, doc, task); err != nil {
		return nil, err
	}
	return doc, nil
}

// enqueue hands the task to the bus. A produce failure marks the document
// FAILED so it does not sit PENDING forever.
func (uc *UploadDocument) enqueue(ctx context.Context, doc *models.Document, task *models.Task) error {
	if err := uc.bus.Produce(ctx, task); err != nil {
		if uerr := uc.documents.UpdateStatus(ctx, doc.UUID, models.DocumentStatusFailed, false); uerr != nil {
			log.Printf("warning: failed to mark document %s failed: %v", doc.UUID, uerr)
		}
		return fmt.Errorf("failed to enqueue ingest task: %w", err)
	}
	return nil
}

func (uc *UploadDocument) supported(ext string) bool {
	for _, s := range uc.extractor.SupportedExtensions() {
		if ext == s {
			return true
		}
	}
	return false
}

func taskMetadata(input *UploadDocumentInput, name string) map[string]any {
	md := map[string]any{}
	for k, v := range input.Metadata {
		md[k] = v
	}
	md["filename"] = name
	if input.Source != "" {
		md["source"] = input.Source
	}
	return md
}
