package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/sibylhq/sibyl/internal/adapters/bus"
	"github.com/sibylhq/sibyl/internal/adapters/embedding"
	"github.com/sibylhq/sibyl/internal/adapters/extractor"
	"github.com/sibylhq/sibyl/internal/adapters/id"
	"github.com/sibylhq/sibyl/internal/adapters/postgres"
	"github.com/sibylhq/sibyl/internal/application/services"
	"github.com/sibylhq/sibyl/internal/application/splitter"
	"github.com/sibylhq/sibyl/internal/application/usecases"
	"github.com/sibylhq/sibyl/internal/domain/models"
	"github.com/spf13/cobra"
)

// ingestDrainTimeout bounds how long the CLI waits for embedding to
// finish. Large directories against a slow embedding server take a
// while; a stuck server should still not hang the command forever.
const ingestDrainTimeout = 30 * time.Minute

// ingestCmd uploads and indexes documents from the command line
func ingestCmd() *cobra.Command {
	var (
		permission string
		collection string
		source     string
	)

	cmd := &cobra.Command{
		Use:   "ingest <file-or-directory>",
		Short: "Ingest documents into the vector store",
		Long: `Ingest a file or a directory of files into the vector store.

Ingestion runs in-process on a local channel bus: extract, chunk,
embed, upsert. The server does not need to be running, but the
embedding endpoint does. The command blocks until indexing finishes
and reports the final document status.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), args[0], permission, collection, source)
		},
	}

	cmd.Flags().StringVar(&permission, "permission", "public", "Document visibility: public or admin")
	cmd.Flags().StringVar(&collection, "collection", "", "Target vector collection (defaults to the configured docs collection)")
	cmd.Flags().StringVar(&source, "source", "", "Source tag stored on every chunk, e.g. \"handbook\"")

	return cmd
}

// runIngest uploads one path and drains the local bus until it is indexed
func runIngest(ctx context.Context, path, permission, collection, source string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	pool, err := initDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	documentRepo := postgres.NewDocumentRepository(pool)
	vectorStore := postgres.NewVectorStore(pool)
	idGen := id.New()

	embedder := embedding.NewClient(
		cfg.Embedding.BaseURL,
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		cfg.Vector.Dimensions,
		cfg.Embedding.QueryPrefix,
		cfg.Embedding.PassagePrefix,
	)

	split := splitter.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	extract := extractor.New()
	ingestor := services.NewIngestor(documentRepo, vectorStore, embedder, extract, split, cfg.Vector.DocsCollection, cfg.Embedding.BatchSize)

	// One local consumer keeps file order stable inside a batch.
	localBus, err := bus.New(bus.Config{
		Mode:           bus.ModeChannel,
		MaxSize:        cfg.Bus.MaxSize,
		NumConsumers:   1,
		ProduceTimeout: time.Duration(cfg.Bus.ProduceTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create local bus: %w", err)
	}
	if err := localBus.Consume(ingestor.HandleTask); err != nil {
		return fmt.Errorf("failed to start local consumer: %w", err)
	}

	uploader := usecases.NewUploadDocument(documentRepo, localBus, extract, idGen, cfg.Ingest.UploadDir)
	perm := models.ParsePermission(permission)

	var doc *models.Document
	if info.IsDir() {
		log.Printf("Ingesting directory %s...", path)
		doc, err = uploader.UploadDirectory(ctx, path, perm, collection)
	} else {
		log.Printf("Ingesting file %s...", path)
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		doc, err = uploader.Execute(ctx, &usecases.UploadDocumentInput{
			FileName:   filepath.Base(path),
			Data:       data,
			Permission: perm,
			Collection: collection,
			Source:     source,
		})
	}
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	log.Printf("Document %s enqueued", doc.UUID)

	// Stop drains the in-flight task, so returning means indexing ended.
	drainCtx, drainCancel := context.WithTimeout(ctx, ingestDrainTimeout)
	defer drainCancel()
	if err := localBus.Stop(drainCtx); err != nil {
		return fmt.Errorf("ingestion did not finish: %w", err)
	}

	final, err := documentRepo.GetByUUID(ctx, doc.UUID)
	if err != nil {
		return fmt.Errorf("failed to read back document: %w", err)
	}

	switch final.Status {
	case models.DocumentStatusDone:
		log.Printf("Done: %s (%d chunks)", final.Name, final.PageCount)
		return nil
	case models.DocumentStatusFailed:
		return fmt.Errorf("ingestion failed for %s; check the server logs", final.UUID)
	default:
		return fmt.Errorf("document %s left in status %s", final.UUID, final.Status)
	}
}
