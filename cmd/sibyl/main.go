package main

import (
	"fmt"
	"os"

	"github.com/sibylhq/sibyl/internal/config"
	"github.com/sibylhq/sibyl/internal/llm"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sibyl",
		Short: "Sibyl - retrieval-augmented question answering",
		Long: `Sibyl is a self-hosted retrieval-augmented QA service.
It answers questions over your own documents with a reasoning agent,
and caches verified answers for semantically similar questions.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			llmClient = llm.NewClient(
				cfg.LLM.BaseURL,
				cfg.LLM.APIKey,
				cfg.LLM.Model,
				cfg.LLM.MaxTokens,
				cfg.LLM.Temperature,
			)

			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		workerCmd(),
		migrateCmd(),
		ingestCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()

			fmt.Println("Server:")
			fmt.Printf("  Addr:         %s\n", cfg.Server.Addr)
			fmt.Printf("  CORS Origins: %v\n", cfg.Server.CORSOrigins)
			fmt.Println()

			fmt.Println("LLM:")
			fmt.Printf("  Base URL:     %s\n", cfg.LLM.BaseURL)
			fmt.Printf("  Model:        %s\n", cfg.LLM.Model)
			fmt.Printf("  Vision Model: %s\n", visionModelName())
			fmt.Printf("  Max Tokens:   %d\n", cfg.LLM.MaxTokens)
			fmt.Printf("  Temperature:  %.2f\n", cfg.LLM.Temperature)
			fmt.Printf("  API Key:      %s\n", maskSecret(cfg.LLM.APIKey))
			fmt.Println()

			fmt.Println("Embedding:")
			fmt.Printf("  Base URL:   %s\n", cfg.Embedding.BaseURL)
			fmt.Printf("  Model:      %s\n", cfg.Embedding.Model)
			fmt.Printf("  Batch Size: %d\n", cfg.Embedding.BatchSize)
			fmt.Printf("  API Key:    %s\n", maskSecret(cfg.Embedding.APIKey))
			fmt.Println()

			fmt.Println("Rerank:")
			fmt.Printf("  Base URL: %s\n", cfg.Rerank.BaseURL)
			fmt.Printf("  Model:    %s\n", cfg.Rerank.Model)
			fmt.Printf("  Status:   %s\n", boolStatus(cfg.IsRerankConfigured()))
			fmt.Println()

			fmt.Println("Stores:")
			fmt.Printf("  PostgreSQL: %s\n", maskSecret(cfg.Database.URL))
			fmt.Printf("  Redis:      %s (db %d)\n", cfg.Redis.Addr, cfg.Redis.DB)
			fmt.Println()

			fmt.Println("Vector:")
			fmt.Printf("  Docs Collection: %s\n", cfg.Vector.DocsCollection)
			fmt.Printf("  QA Collection:   %s\n", cfg.Vector.QACollection)
			fmt.Printf("  Dimensions:      %d\n", cfg.Vector.Dimensions)
			fmt.Println()

			fmt.Println("Bus:")
			fmt.Printf("  Mode:      %s\n", cfg.Bus.Mode)
			fmt.Printf("  Max Size:  %d\n", cfg.Bus.MaxSize)
			fmt.Printf("  Consumers: %d\n", cfg.Bus.NumConsumers)
			if cfg.Bus.Mode == "log" {
				fmt.Printf("  Brokers:   %v\n", cfg.Bus.KafkaBrokers)
				fmt.Printf("  Topic:     %s\n", cfg.Bus.KafkaTopic)
			}
			fmt.Println()

			fmt.Println("Agent:")
			fmt.Printf("  Type:           %s\n", cfg.Agent.Type)
			fmt.Printf("  Max Iterations: %d\n", cfg.Agent.MaxIterations)
			fmt.Printf("  Max Retries:    %d\n", cfg.Agent.MaxRetries)
			fmt.Println()

			fmt.Println("QA Cache:")
			fmt.Printf("  Enabled:              %v\n", cfg.QACache.Enabled)
			fmt.Printf("  Similarity Threshold: %.2f\n", cfg.QACache.SimilarityThreshold)
			fmt.Printf("  TTL Seconds:          %d\n", cfg.QACache.TTLSeconds)
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  SIBYL_HTTP_ADDR, SIBYL_CORS_ORIGINS, SIBYL_CONFIG")
			fmt.Println("  DATABASE_URL, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB")
			fmt.Println("  LLM_BASE_URL, LLM_API_KEY, LLM_MODEL, LLM_VISION_MODEL")
			fmt.Println("  EMBEDDING_BASE_URL, EMBEDDING_API_KEY, EMBEDDING_MODEL")
			fmt.Println("  RERANK_BASE_URL, RERANK_MODEL")
			fmt.Println("  MESSAGE_MODE, KAFKA_BROKERS, KAFKA_TOPIC_EMBEDDING, KAFKA_GROUP_ID")
			fmt.Println("  VECTOR_COLLECTION_DOCS, VECTOR_COLLECTION_QA, VECTOR_DIM")
			fmt.Println("  AGENT_TYPE, AGENT_MAX_ITERATIONS, ENABLE_QA_CACHE")

			return nil
		},
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Sibyl %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}

// visionModelName resolves the model used for image turns. An unset
// vision model falls back to the chat model.
func visionModelName() string {
	if cfg.LLM.VisionModel != "" {
		return cfg.LLM.VisionModel
	}
	return cfg.LLM.Model
}
