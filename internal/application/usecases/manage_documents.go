package usecases

import (
	"context"
	"fmt"

	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

const defaultDocumentPageSize = 20

// ManageDocuments covers the read and delete side of the document
// lifecycle; uploads live in UploadDocument.
type ManageDocuments struct {
	documents ports.DocumentRepository
	bus       ports.MessageBus
}

func NewManageDocuments(documents ports.DocumentRepository, bus ports.MessageBus) *ManageDocuments {
	return &ManageDocuments{documents: documents, bus: bus}
}

func (uc *ManageDocuments) List(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = defaultDocumentPageSize
	}
	docs, err := uc.documents.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

func (uc *ManageDocuments) Get(ctx context.Context, uuid string) (*models.Document, error) {
	doc, err := uc.documents.GetByUUID(ctx, uuid)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// Delete enqueues the chunk cleanup before removing the row, so a failed
// row delete can be retried while the vectors are already on their way
// out.
func (uc *ManageDocuments) Delete(ctx context.Context, uuid string) error {
	doc, err := uc.documents.GetByUUID(ctx, uuid)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	task := &models.Task{
		TaskType:     models.TaskTypeDelete,
		DocumentUUID: uuid,
	}
	if path, ok := doc.Extra["file_path"].(string); ok {
		task.FilePath = path
	}
	if collection, ok := doc.Extra["collection"].(string); ok {
		task.CollectionName = collection
	}
	if err := uc.bus.Produce(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue delete task: %w", err)
	}

	if err := uc.documents.Delete(ctx, uuid); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}
