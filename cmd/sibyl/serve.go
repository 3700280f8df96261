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
	"github.com/sibylhq/sibyl/internal/adapters/http"
	"github.com/sibylhq/sibyl/internal/adapters/id"
	"github.com/sibylhq/sibyl/internal/adapters/postgres"
	"github.com/sibylhq/sibyl/internal/adapters/redis"
	"github.com/sibylhq/sibyl/internal/adapters/rerank"
	"github.com/sibylhq/sibyl/internal/adapters/tracing"
	"github.com/sibylhq/sibyl/internal/adapters/vision"
	"github.com/sibylhq/sibyl/internal/application/agent"
	"github.com/sibylhq/sibyl/internal/application/services"
	"github.com/sibylhq/sibyl/internal/application/splitter"
	"github.com/sibylhq/sibyl/internal/application/tools/builtin"
	"github.com/sibylhq/sibyl/internal/application/usecases"
	"github.com/sibylhq/sibyl/internal/llm"
	"github.com/sibylhq/sibyl/internal/ports"
	"github.com/spf13/cobra"
)

// serveCmd starts the HTTP API server
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the Sibyl HTTP API server.

The server exposes chat streaming, session and document management, and
answer feedback endpoints. In the default channel bus mode it also runs
the document ingestion workers in-process; in log mode ingestion runs in
a separate worker (sibyl worker).

Required configuration:
  - PostgreSQL with pgvector (DATABASE_URL)
  - Redis (REDIS_ADDR)
  - LLM endpoint (LLM_BASE_URL)
  - Embedding endpoint (EMBEDDING_BASE_URL)

Optional:
  - Rerank endpoint (RERANK_BASE_URL)
  - Kafka bus (MESSAGE_MODE=log, KAFKA_BROKERS)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// runServer initializes and starts the HTTP API server
func runServer(ctx context.Context) error {
	log.Println("Starting Sibyl API server...")
	log.Printf("  Listen:    %s", cfg.Server.Addr)
	log.Printf("  LLM:       %s (%s)", cfg.LLM.BaseURL, cfg.LLM.Model)
	log.Printf("  Embedding: %s (%s)", cfg.Embedding.BaseURL, cfg.Embedding.Model)
	if cfg.IsRerankConfigured() {
		log.Printf("  Rerank:    %s (%s)", cfg.Rerank.BaseURL, cfg.Rerank.Model)
	}
	log.Println()

	// Initialize OpenTelemetry tracing
	tracerShutdown, err := tracing.InitTracer("sibyl-api", version)
	if err != nil {
		log.Printf("Warning: failed to initialize tracing: %v", err)
	} else {
		defer func() {
			if err := tracerShutdown(context.Background()); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()
	}

	// Initialize database connection pool
	log.Println("Connecting to PostgreSQL...")
	pool, err := initDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Println("Database connection established")

	// Initialize repositories
	sessionRepo := postgres.NewSessionRepository(pool)
	messageRepo := postgres.NewMessageRepository(pool)
	documentRepo := postgres.NewDocumentRepository(pool)
	chainRepo := postgres.NewThoughtChainRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	vectorStore := postgres.NewVectorStore(pool)
	txManager := postgres.NewTransactionManager(pool)

	// Initialize ID generator
	idGen := id.New()

	// Initialize Redis, which holds per-session ephemera
	kv, err := redis.NewKV(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer kv.Close()
	log.Println("Redis connection established")

	// Initialize embedding client
	embedder := embedding.NewClient(
		cfg.Embedding.BaseURL,
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		cfg.Vector.Dimensions,
		cfg.Embedding.QueryPrefix,
		cfg.Embedding.PassagePrefix,
	)
	log.Println("Embedding client initialized")

	// Initialize rerank client (optional)
	var reranker ports.RerankService
	if cfg.IsRerankConfigured() {
		reranker = rerank.NewClient(cfg.Rerank.BaseURL, "", cfg.Rerank.Model)
		log.Println("Rerank client initialized")
	} else {
		log.Println("Rerank not configured - retrieval keeps vector order")
	}

	// Initialize LLM service
	llmService := llm.NewService(llmClient)
	log.Println("LLM service initialized")

	// Initialize vision analyzer. Image turns go to the vision model,
	// which defaults to the chat model.
	visionClient := llm.NewClient(
		cfg.LLM.BaseURL,
		cfg.LLM.APIKey,
		visionModelName(),
		cfg.LLM.MaxTokens,
		cfg.LLM.Temperature,
	)
	analyzer := vision.NewAnalyzer(visionClient)

	// Initialize retrieval and chat services
	retriever := services.NewRetriever(embedder, vectorStore, reranker, cfg.Vector.DocsCollection)
	qaCache := services.NewQACache(
		embedder,
		vectorStore,
		chainRepo,
		cfg.Vector.QACollection,
		cfg.QACache.Enabled,
		cfg.QACache.SimilarityThreshold,
		time.Duration(cfg.QACache.TTLSeconds)*time.Second,
	)
	traceStore := services.NewTraceStore(chainRepo, messageRepo, embedder, vectorStore, cfg.Vector.QACollection, cfg.QACache.Enabled)
	judge := services.NewQAJudge(llmService)
	history := services.NewHistoryManager(messageRepo, sessionRepo, llmService, idGen, cfg.History.SummaryThreshold)
	log.Println("Retrieval services initialized")

	// Register built-in tools and build the reasoning agent
	registry := agent.NewRegistry()
	if err := builtin.Register(registry, builtin.Deps{
		Retrieval:      retriever,
		VectorStore:    vectorStore,
		KV:             kv,
		DocsCollection: cfg.Vector.DocsCollection,
		QACollection:   cfg.Vector.QACollection,
		UseReranker:    reranker != nil,
	}); err != nil {
		return fmt.Errorf("failed to register built-in tools: %w", err)
	}
	reasoningAgent, err := agent.New(cfg.Agent.Type, llmService, registry, cfg.Agent.MaxIterations, cfg.Agent.MaxRetries)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	log.Printf("Agent initialized (%s, max %d steps)", cfg.Agent.Type, cfg.Agent.MaxIterations)

	// Initialize the ingestion pipeline
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

	split := splitter.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	extract := extractor.New()
	ingestor := services.NewIngestor(documentRepo, vectorStore, embedder, extract, split, cfg.Vector.DocsCollection, cfg.Embedding.BatchSize)

	// In channel mode the server consumes its own ingestion tasks; in log
	// mode a separate worker process owns the consumer group.
	if cfg.Bus.Mode == bus.ModeChannel {
		if err := messageBus.Consume(ingestor.HandleTask); err != nil {
			return fmt.Errorf("failed to start ingest consumers: %w", err)
		}
		log.Printf("Ingestion consumers started (%d workers)", cfg.Bus.NumConsumers)
	}

	// Initialize use cases
	sendMessage := usecases.NewSendMessage(
		sessionRepo,
		messageRepo,
		history,
		qaCache,
		traceStore,
		judge,
		reasoningAgent,
		analyzer,
		kv,
		idGen,
		cfg.LLM.Model,
	)
	uploadDocument := usecases.NewUploadDocument(documentRepo, messageBus, extract, idGen, cfg.Ingest.UploadDir)
	manageDocuments := usecases.NewManageDocuments(documentRepo, messageBus)
	manageSessions := usecases.NewManageSessions(sessionRepo, messageRepo, txManager, kv)
	submitFeedback := usecases.NewSubmitFeedback(qaCache, messageRepo)
	log.Println("Use cases initialized")

	// Create HTTP server
	server := http.NewServer(cfg, pool, userRepo, sendMessage, uploadDocument, manageDocuments, manageSessions, submitFeedback)

	// Channel to listen for errors from the server
	serverErrors := make(chan error, 1)

	// Start server in a goroutine
	go func() {
		log.Printf("HTTP server listening on %s", cfg.Server.Addr)
		serverErrors <- server.Start()
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		log.Println("Shutting down gracefully...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if err := messageBus.Stop(shutdownCtx); err != nil {
			log.Printf("Warning: failed to drain message bus: %v", err)
		}

		log.Println("Server stopped")
		return nil
	}
}
