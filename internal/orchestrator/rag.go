package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/Yates-Labs/tfguard/internal/chunk"
	"github.com/Yates-Labs/tfguard/internal/config"
	"github.com/Yates-Labs/tfguard/internal/ingest"
	"github.com/Yates-Labs/tfguard/internal/logger"
	"github.com/Yates-Labs/tfguard/internal/rag"
	"github.com/Yates-Labs/tfguard/internal/report"
)

var (
	ErrNoEmbedder = errors.New("pipeline has no embedder configured")
)

// IndexRequest describes one indexing run.
type IndexRequest struct {
	CodeDir    string // local directory or git URL
	Guardrails string // local file or github:// reference
	Namespace  string
}

// IndexStats summarizes an indexing run.
type IndexStats struct {
	Namespace string `json:"namespace"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Entries   int    `json:"entries"`
	Handle    string `json:"handle,omitempty"` // storage location for local indexes
}

// QueryRequest describes one query run.
type QueryRequest struct {
	PlanPath      string
	GuardrailsRef string // optional
	Namespace     string
	TopK          int // 0 uses the configured default
}

// QueryResult carries everything the payload builder needs.
type QueryResult struct {
	Plan            report.Plan
	Guardrails      string
	Results         []rag.SearchResult
	NamespaceExists bool
}

// Payload renders the result in the requested layout.
func (r *QueryResult) Payload(format report.Format) any {
	if format == report.FormatMessages {
		return report.BuildMessages(r.Plan, r.Guardrails, r.Results, report.MessageOptions{})
	}
	return report.BuildPayload(r.Plan, r.Guardrails, r.Results)
}

// Pipeline orchestrates load -> chunk -> embed -> index and plan -> retrieve.
type Pipeline struct {
	config   *config.Config
	embedder rag.Embedder
	index    rag.VectorIndex
	chunker  *chunk.Chunker
	logger   *slog.Logger
}

// New creates a pipeline with the configured embedder and vector index.
func New(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	embedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	index, err := NewIndex(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	p, err := NewWithComponents(cfg, embedder, index)
	if err != nil {
		index.Close()
		return nil, err
	}
	return p, nil
}

// Open creates a pipeline that only manages namespaces; it needs no embedding credentials.
func Open(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	index, err := NewIndex(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	p, err := NewWithComponents(cfg, nil, index)
	if err != nil {
		index.Close()
		return nil, err
	}
	return p, nil
}

// NewWithComponents creates a pipeline from explicit components. embedder may be nil
// for pipelines that never index or query.
func NewWithComponents(cfg *config.Config, embedder rag.Embedder, index rag.VectorIndex) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index cannot be nil")
	}

	chunker, err := chunk.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		config:   cfg,
		embedder: embedder,
		index:    index,
		chunker:  chunker,
		logger:   logger.Component("pipeline"),
	}, nil
}

// Close releases resources held by the pipeline.
func (p *Pipeline) Close() error {
	var errs []error
	if c, ok := p.embedder.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if p.index != nil {
		errs = append(errs, p.index.Close())
	}
	return errors.Join(errs...)
}

// Index loads Terraform sources and guardrails, chunks them and stores their embeddings in the namespace.
func (p *Pipeline) Index(ctx context.Context, req IndexRequest) (IndexStats, error) {
	stats := IndexStats{Namespace: req.Namespace}

	if err := rag.ValidateNamespace(req.Namespace); err != nil {
		return stats, err
	}
	if p.embedder == nil {
		return stats, ErrNoEmbedder
	}

	// Stage 1: Load
	p.logger.Info("loading sources", "code_dir", req.CodeDir, "guardrails", req.Guardrails)
	docs, err := ingest.Load(ctx, req.CodeDir, ingest.DefaultExtensions)
	if err != nil {
		return stats, fmt.Errorf("failed to load terraform sources: %w", err)
	}
	guardrails, err := ingest.LoadGuardrails(ctx, req.Guardrails, p.config.GitHubToken)
	if err != nil {
		return stats, fmt.Errorf("failed to load guardrails: %w", err)
	}
	docs = append(docs, guardrails)
	stats.Documents = len(docs)
	p.logger.Debug("loaded documents", "count", len(docs))

	// Stage 2: Chunk
	chunks := p.chunker.SplitAll(docs)
	stats.Chunks = len(chunks)
	p.logger.Info("chunked documents", "documents", len(docs), "chunks", len(chunks),
		"size", p.chunker.Size(), "overlap", p.chunker.Overlap())

	// Stage 3: Embed and upsert
	opts := rag.IndexOptions{
		BatchSize:   p.config.BatchSize,
		Concurrency: p.config.Concurrency,
	}
	written, err := rag.IndexChunks(ctx, req.Namespace, chunks, p.embedder, p.index, opts)
	stats.Entries = written
	if err != nil {
		return stats, fmt.Errorf("failed to index namespace %s: %w", req.Namespace, err)
	}
	p.logger.Info("indexed chunks", "namespace", req.Namespace, "entries", written, "model", p.embedder.GetModel())

	// Stage 4: Persist
	if local, ok := p.index.(rag.LocalIndex); ok && written > 0 {
		handle, err := local.Save(ctx, req.Namespace)
		if err != nil {
			return stats, fmt.Errorf("failed to save namespace %s: %w", req.Namespace, err)
		}
		stats.Handle = handle
		p.logger.Debug("saved namespace", "namespace", req.Namespace, "handle", handle)
	}

	return stats, nil
}

// Query reads a plan, optionally loads guardrails, and retrieves the most similar indexed chunks.
func (p *Pipeline) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if err := rag.ValidateNamespace(req.Namespace); err != nil {
		return nil, err
	}
	if p.embedder == nil {
		return nil, ErrNoEmbedder
	}

	topK := req.TopK
	if topK <= 0 {
		topK = p.config.TopK
	}

	// Stage 1: Plan
	plan, err := report.ReadPlan(req.PlanPath)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("read plan", "path", req.PlanPath, "json", plan.IsJSON(), "chars", len(plan.Text))

	result := &QueryResult{Plan: plan}

	if req.GuardrailsRef != "" {
		doc, err := ingest.LoadGuardrails(ctx, req.GuardrailsRef, p.config.GitHubToken)
		if err != nil {
			return nil, fmt.Errorf("failed to load guardrails: %w", err)
		}
		result.Guardrails = doc.Text
	}

	namespaces, err := p.index.Namespaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	result.NamespaceExists = slices.Contains(namespaces, req.Namespace)
	if !result.NamespaceExists {
		p.logger.Warn("namespace has not been indexed", "namespace", req.Namespace)
	}

	// Stage 2: Retrieval
	retriever, err := rag.NewRetriever(p.embedder, p.index, p.config.QueryMaxChars)
	if err != nil {
		return nil, err
	}

	p.logger.Info("retrieving context", "namespace", req.Namespace, "top_k", topK)
	result.Results, err = retriever.Retrieve(ctx, req.Namespace, plan.Text, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	p.logger.Info("retrieved context", "results", len(result.Results))

	return result, nil
}

// DeleteNamespace removes a namespace. It reports false when the namespace did not exist.
func (p *Pipeline) DeleteNamespace(ctx context.Context, namespace string) (bool, error) {
	deleted, err := p.index.DeleteNamespace(ctx, namespace)
	if err != nil {
		return false, fmt.Errorf("failed to delete namespace %s: %w", namespace, err)
	}
	p.logger.Debug("delete namespace", "namespace", namespace, "found", deleted)
	return deleted, nil
}

// Namespaces lists the namespaces in the configured index.
func (p *Pipeline) Namespaces(ctx context.Context) ([]string, error) {
	return p.index.Namespaces(ctx)
}
