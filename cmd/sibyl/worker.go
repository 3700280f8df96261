package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sibylhq/sibyl/internal/adapters/bus"
	"github.com/sibylhq/sibyl/internal/adapters/embedding"
	"github.com/sibylhq/sibyl/internal/adapters/extractor"
	"github.com/sibylhq/sibyl/internal/adapters/postgres"
	"github.com/sibylhq/sibyl/internal/adapters/tracing"
	"github.com/sibylhq/sibyl/internal/application/services"
	"github.com/sibylhq/sibyl/internal/application/splitter"
	"github.com/spf13/cobra"
)

// workerCmd starts a standalone ingestion worker
func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start a document ingestion worker",
		Long: `Start a standalone document ingestion worker.

The worker joins the Kafka consumer group and processes document
embedding tasks: extract text, split into chunks, embed, and upsert
into the vector collection. Run as many workers as the topic has
partitions.

Requires MESSAGE_MODE=log; in channel mode the server consumes its
own tasks and a separate worker has nothing to read from.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

// runWorker initializes and runs the ingestion consumer loop
func runWorker(ctx context.Context) error {
	if cfg.Bus.Mode != bus.ModeLog {
		return fmt.Errorf("worker requires the log bus. Set MESSAGE_MODE=log")
	}

	log.Println("Starting Sibyl ingestion worker...")
	log.Printf("  Brokers:   %v", cfg.Bus.KafkaBrokers)
	log.Printf("  Topic:     %s", cfg.Bus.KafkaTopic)
	log.Printf("  Group:     %s", cfg.Bus.KafkaGroupID)
	log.Printf("  Embedding: %s (%s)", cfg.Embedding.BaseURL, cfg.Embedding.Model)
	log.Println()

	tracerShutdown, err := tracing.InitTracer("sibyl-worker", version)
	if err != nil {
		log.Printf("Warning: failed to initialize tracing: %v", err)
	} else {
		defer func() {
			if err := tracerShutdown(context.Background()); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()
	}

	log.Println("Connecting to PostgreSQL...")
	pool, err := initDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Println("Database connection established")

	documentRepo := postgres.NewDocumentRepository(pool)
	vectorStore := postgres.NewVectorStore(pool)

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

	messageBus, err := bus.New(bus.Config{
		Mode:           cfg.Bus.Mode,
		MaxSize:        cfg.Bus.MaxSize,
		NumConsumers:   cfg.Bus.NumConsumers,
		ProduceTimeout: time.Duration(cfg.Bus.ProduceTimeoutSeconds) * time.Second,
		KafkaBrokers:   cfg.Bus.KafkaBrokers,
		KafkaTopic:     cfg.Bus.KafkaTopic,
		KafkaGroupID:   cfg.Bus.KafkaGroupID,
	})
	if err != nil {
		return fmt.Errorf("failed to create message bus: %w", err)
	}

	if err := messageBus.Consume(ingestor.HandleTask); err != nil {
		return fmt.Errorf("failed to start consumers: %w", err)
	}
	log.Printf("Worker running (%d consumers)", cfg.Bus.NumConsumers)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := messageBus.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("worker shutdown error: %w", err)
	}

	log.Println("Worker stopped")
	return nil
}
