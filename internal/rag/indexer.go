package rag

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Yates-Labs/tfguard/internal/chunk"
)

// IndexOptions controls how chunks are embedded and stored
type IndexOptions struct {
	BatchSize   int // Batch size for embedding API calls
	Concurrency int // Batches in flight at once
}

// DefaultIndexOptions returns sensible defaults for indexing
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		BatchSize:   16,
		Concurrency: 1,
	}
}

// IndexChunks embeds chunks in batches and upserts them into namespace.
// Blank chunks are skipped. It returns the number of entries written.
// On error, batches already upserted stay in the index.
func IndexChunks(
	ctx context.Context,
	namespace string,
	chunks []chunk.Chunk,
	embedder Embedder,
	index VectorIndex,
	opts IndexOptions,
) (int, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return 0, err
	}

	if embedder == nil {
		return 0, fmt.Errorf("embedder cannot be nil")
	}

	if index == nil {
		return 0, fmt.Errorf("vector index cannot be nil")
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultIndexOptions().BatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	toIndex := make([]chunk.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if strings.TrimSpace(ch.Text) != "" {
			toIndex = append(toIndex, ch)
		}
	}
	if len(toIndex) == 0 {
		return 0, nil
	}

	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	// Process chunks in batches
	for batchStart := 0; batchStart < len(toIndex); batchStart += opts.BatchSize {
		batchEnd := min(batchStart+opts.BatchSize, len(toIndex))
		batch := toIndex[batchStart:batchEnd]
		start := batchStart

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, ch := range batch {
				texts[i] = ch.Text
			}

			records, err := embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to generate embeddings for batch starting at %d: %w", start, err)
			}

			entries, err := NewEntries(batch, records)
			if err != nil {
				return fmt.Errorf("batch starting at %d: %w", start, err)
			}

			if err := index.Upsert(gctx, namespace, entries); err != nil {
				return fmt.Errorf("failed to upsert batch starting at %d: %w", start, err)
			}

			written.Add(int64(len(entries)))
			return nil
		})
	}

	err := g.Wait()
	return int(written.Load()), err
}
