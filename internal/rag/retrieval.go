package rag

import (
	"context"
	"fmt"
	"strings"
)

// Retriever provides high-level semantic retrieval over a namespace.
type Retriever struct {
	embedder      Embedder
	index         VectorIndex
	maxQueryChars int
}

// NewRetriever creates a new Retriever instance. Queries longer than maxQueryChars
// characters are truncated before embedding; 0 disables truncation.
func NewRetriever(embedder Embedder, index VectorIndex, maxQueryChars int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index cannot be nil")
	}

	return &Retriever{
		embedder:      embedder,
		index:         index,
		maxQueryChars: maxQueryChars,
	}, nil
}

// Retrieve embeds query once and returns the k most similar entries of namespace.
func (r *Retriever) Retrieve(ctx context.Context, namespace, query string, k int) ([]SearchResult, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if k <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", k)
	}

	vector, err := EmbedOne(ctx, r.embedder, TruncateQuery(query, r.maxQueryChars))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.index.SimilaritySearch(ctx, namespace, vector, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search for query: %w", err)
	}

	return results, nil
}

// TruncateQuery cuts text to at most limit characters. A non-positive limit leaves it unchanged.
func TruncateQuery(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
