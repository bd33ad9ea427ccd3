package orchestrator

import (
	"context"
	"fmt"

	"github.com/Yates-Labs/tfguard/internal/config"
	"github.com/Yates-Labs/tfguard/internal/logger"
	"github.com/Yates-Labs/tfguard/internal/rag"
)

// NewEmbedder builds the configured embedding provider wrapped with rate limiting and retries.
func NewEmbedder(ctx context.Context, cfg *config.Config) (rag.Embedder, error) {
	if err := cfg.ValidateEmbedding(); err != nil {
		return nil, err
	}

	pc := cfg.Embedding()

	var (
		base rag.Embedder
		err  error
	)
	switch pc.Provider {
	case config.ProviderOpenAI:
		base, err = rag.NewOpenAIEmbedder(pc)
	case config.ProviderAzure:
		base, err = rag.NewAzureEmbedder(pc)
	case config.ProviderGemini:
		base, err = rag.NewGeminiEmbedder(ctx, pc)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", config.ErrInvalid, pc.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return rag.NewResilientEmbedder(base, rag.ResilienceOptions{
		RequestsPerSecond: cfg.EmbedRPS,
		MaxRetries:        cfg.MaxRetries,
		Logger:            logger.Component("embedder"),
	}), nil
}

// NewIndex opens the configured vector store.
func NewIndex(ctx context.Context, cfg *config.Config) (rag.VectorIndex, error) {
	switch cfg.VectorStore {
	case config.StoreSQLite:
		return rag.NewSQLiteIndex(cfg.IndexDir)
	case config.StoreMemory:
		return rag.NewMemoryIndex(), nil
	case config.StoreMilvus:
		return rag.NewMilvusIndex(ctx, rag.DefaultMilvusConfig(cfg.MilvusAddress))
	case config.StoreWeaviate:
		return rag.NewWeaviateIndex(cfg.WeaviateHost, cfg.WeaviateScheme)
	case config.StorePgVector:
		return rag.NewPgVectorIndex(ctx, cfg.PgVectorDSN)
	}
	return nil, fmt.Errorf("%w: unknown vector store %q", config.ErrInvalid, cfg.VectorStore)
}
