package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sibylhq/sibyl/internal/adapters/metrics"
	"github.com/sibylhq/sibyl/internal/application/splitter"
	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/sibylhq/sibyl/internal/ports"
)

// tokensPerChar approximates token counts from character counts for the
// throughput stamp in document extras.
const tokensPerChar = 0.8

// Ingestor implements ports.IngestService: it consumes bus tasks and
// drives a document from PENDING to DONE or FAILED. Failures are absorbed
// into the document status; the bus never retries a task.
type Ingestor struct {
	docs       ports.DocumentRepository
	store      ports.VectorStore
	embedder   ports.EmbeddingService
	extractor  ports.Extractor
	split      *splitter.Splitter
	collection string
	batchSize  int
}

func NewIngestor(docs ports.DocumentRepository, store ports.VectorStore, embedder ports.EmbeddingService, extractor ports.Extractor, split *splitter.Splitter, collection string, batchSize int) *Ingestor {
	return &Ingestor{
		docs:       docs,
		store:      store,
		embedder:   embedder,
		extractor:  extractor,
		split:      split,
		collection: collection,
		batchSize:  batchSize,
	}
}

// HandleTask dispatches one bus task. Malformed tasks are logged and
// dropped rather than failed, there is no document to attach an error to.
func (s *Ingestor) HandleTask(ctx context.Context, task *models.Task) error {
	if task == nil || task.DocumentUUID == "" {
		log.Printf("ingest: discarding task without document_uuid")
		return nil
	}
	switch task.TaskType {
	case models.TaskTypeDelete:
		return s.handleDelete(ctx, task)
	case models.TaskTypeFile, models.TaskTypeText, models.TaskTypeBatch:
		return s.handleIngest(ctx, task)
	default:
		log.Printf("ingest: discarding task with unknown type %q for document %s", task.TaskType, task.DocumentUUID)
		return nil
	}
}

func (s *Ingestor) handleIngest(ctx context.Context, task *models.Task) error {
	start := time.Now()
	collection := s.collectionFor(task)

	doc, err := s.docs.GetByUUID(ctx, task.DocumentUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Printf("ingest: discarding task for unknown document %s", task.DocumentUUID)
			metrics.IngestTasksTotal.WithLabelValues(string(task.TaskType), "discarded").Inc()
			return nil
		}
		return s.fail(ctx, task, fmt.Errorf("loading document: %w", err))
	}
	if doc.Status.IsTerminal() {
		log.Printf("ingest: document %s already %s, skipping redelivery", doc.UUID, doc.Status)
		metrics.IngestTasksTotal.WithLabelValues(string(task.TaskType), "skipped").Inc()
		return nil
	}

	if err := s.docs.UpdateStatus(ctx, doc.UUID, models.DocumentStatusProcessing, false); err != nil {
		return s.fail(ctx, task, fmt.Errorf("marking processing: %w", err))
	}

	text, filename, err := s.loadText(ctx, task, doc)
	if err != nil {
		return s.fail(ctx, task, err)
	}

	chunks := s.split.Split(text)
	if len(chunks) == 0 {
		return s.fail(ctx, task, fmt.Errorf("document produced no chunks"))
	}

	// Redelivery guard: a previous attempt that crashed after indexing
	// already covers the document, so finish the status flip and stop
	// instead of indexing every chunk twice.
	if existing, err := s.store.Count(ctx, collection, map[string]any{"document_uuid": doc.UUID}); err == nil && existing >= int64(len(chunks)) {
		log.Printf("ingest: document %s already has %d chunks indexed, completing without re-indexing", doc.UUID, existing)
		extra := map[string]any{"chunks_count": len(chunks), "vectors_count": existing}
		if err := s.docs.SetCompleted(ctx, doc.UUID, len(chunks), extra); err != nil {
			return s.fail(ctx, task, fmt.Errorf("marking done: %w", err))
		}
		metrics.IngestTasksTotal.WithLabelValues(string(task.TaskType), "skipped").Inc()
		return nil
	}

	embedStart := time.Now()
	vectors, err := s.embedder.EmbedPassages(ctx, chunks, s.batchSize)
	embedSeconds := time.Since(embedStart).Seconds()
	metrics.EmbeddingBatchDuration.Observe(embedSeconds)
	if err != nil {
		return s.fail(ctx, task, fmt.Errorf("embedding chunks: %w", err))
	}
	if len(vectors) != len(chunks) {
		return s.fail(ctx, task, fmt.Errorf("embedded %d of %d chunks", len(vectors), len(chunks)))
	}

	if err := s.store.EnsureCollection(ctx, collection, s.embedder.Dimensions()); err != nil {
		return s.fail(ctx, task, fmt.Errorf("ensuring collection: %w", err))
	}

	rows := buildChunkRows(task, doc, filename, chunks, vectors)
	if _, err := s.store.Insert(ctx, collection, rows); err != nil {
		return s.fail(ctx, task, fmt.Errorf("inserting %d chunks: %w", len(rows), err))
	}

	totalChars := 0
	for _, chunk := range chunks {
		totalChars += len(chunk)
	}
	extra := map[string]any{
		"chunks_count":            len(chunks),
		"vectors_count":           len(chunks),
		"embedding_time_seconds":  embedSeconds,
		"processing_time_seconds": time.Since(start).Seconds(),
		"tokens_per_second":       embeddingThroughput(totalChars, embedSeconds),
		"started_at":              start.UTC().Format(time.RFC3339),
		"completed_at":            time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.docs.SetCompleted(ctx, doc.UUID, len(chunks), extra); err != nil {
		// The vectors are already in; remove them so a FAILED document
		// matches an empty index.
		if _, derr := s.store.DeleteByFilter(ctx, collection, map[string]any{"document_uuid": doc.UUID}); derr != nil {
			log.Printf("ingest: removing chunks of %s after failed completion: %v", doc.UUID, derr)
		}
		return s.fail(ctx, task, fmt.Errorf("marking done: %w", err))
	}

	metrics.IngestTasksTotal.WithLabelValues(string(task.TaskType), "ok").Inc()
	log.Printf("ingest: document %s indexed, %d chunks in %.1fs", doc.UUID, len(chunks), time.Since(start).Seconds())
	return nil
}

// handleDelete removes every chunk of the document. File removal is best
// effort: the index is the record that matters.
func (s *Ingestor) handleDelete(ctx context.Context, task *models.Task) error {
	deleted, err := s.store.DeleteByFilter(ctx, s.collectionFor(task), map[string]any{"document_uuid": task.DocumentUUID})
	if err != nil {
		metrics.IngestTasksTotal.WithLabelValues(string(task.TaskType), "failed").Inc()
		return fmt.Errorf("deleting chunks of %s: %w", task.DocumentUUID, err)
	}
	if task.FilePath != "" {
		if err := os.Remove(task.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("ingest: removing file %s: %v", task.FilePath, err)
		}
	}
	metrics.IngestTasksTotal.WithLabelValues(string(task.TaskType), "ok").Inc()
	log.Printf("ingest: document %s deleted, %d chunks removed", task.DocumentUUID, deleted)
	return nil
}

// loadText resolves the task to plain text and a display filename.
func (s *Ingestor) loadText(ctx context.Context, task *models.Task, doc *models.Document) (string, string, error) {
	switch task.TaskType {
	case models.TaskTypeText:
		if strings.TrimSpace(task.Content) == "" {
			return "", "", fmt.Errorf("text task has no content")
		}
		return task.Content, displayName(task, doc), nil

	case models.TaskTypeFile:
		text, err := s.extractFile(ctx, task.FilePath)
		if err != nil {
			return "", "", err
		}
		return text, displayName(task, doc), nil

	case models.TaskTypeBatch:
		text, err := s.extractDir(ctx, task.FilePath)
		if err != nil {
			return "", "", err
		}
		return text, displayName(task, doc), nil
	}
	return "", "", fmt.Errorf("unsupported task type %q", task.TaskType)
}

func (s *Ingestor) extractFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	text, err := s.extractor.Extract(ctx, data, filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", path, err)
	}
	return text, nil
}

// extractDir ingests every regular file in the directory as one document.
// Files the extractor cannot handle are skipped with a log line.
func (s *Ingestor) extractDir(ctx context.Context, dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		text, err := s.extractFile(ctx, filepath.Join(dir, name))
		if err != nil {
			log.Printf("ingest: skipping %s in batch %s: %v", name, dir, err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("batch directory %s yielded no text", dir)
	}
	return strings.Join(parts, "\n\n"), nil
}

// fail stamps the document FAILED and reports the cause to the bus, which
// logs it. The status write uses a detached context so a deadline that
// killed the pipeline cannot also suppress the stamp.
func (s *Ingestor) fail(ctx context.Context, task *models.Task, cause error) error {
	stampCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.docs.UpdateStatus(stampCtx, task.DocumentUUID, models.DocumentStatusFailed, false); err != nil {
		log.Printf("ingest: marking document %s failed: %v", task.DocumentUUID, err)
	}
	metrics.IngestTasksTotal.WithLabelValues(string(task.TaskType), "failed").Inc()
	return fmt.Errorf("ingesting document %s: %w", task.DocumentUUID, cause)
}

func (s *Ingestor) collectionFor(task *models.Task) string {
	if task.CollectionName != "" {
		return task.CollectionName
	}
	return s.collection
}

// buildChunkRows attaches the canonical chunk metadata on top of whatever
// the task inherited from the upload.
func buildChunkRows(task *models.Task, doc *models.Document, filename string, chunks []string, vectors [][]float32) []models.VectorRow {
	rows := make([]models.VectorRow, len(chunks))
	for i, chunk := range chunks {
		metadata := make(map[string]any, len(task.Metadata)+6)
		for k, v := range task.Metadata {
			metadata[k] = v
		}
		metadata["document_uuid"] = doc.UUID
		metadata["chunk_index"] = i
		metadata["chunk_count"] = len(chunks)
		metadata["filename"] = filename
		if _, ok := metadata["source"]; !ok {
			metadata["source"] = "upload"
		}
		metadata["permission"] = int(task.Permission)

		rows[i] = models.VectorRow{
			Embedding: vectors[i],
			Text:      chunk,
			Metadata:  metadata,
		}
	}
	return rows
}

func displayName(task *models.Task, doc *models.Document) string {
	if name, ok := task.Metadata["filename"].(string); ok && name != "" {
		return name
	}
	if doc.Name != "" {
		return doc.Name
	}
	if task.FilePath != "" {
		return filepath.Base(task.FilePath)
	}
	return "untitled"
}

// embeddingThroughput estimates tokens per second from character volume.
func embeddingThroughput(chars int, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return tokensPerChar * float64(chars) / seconds
}
