package rag

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yates-Labs/tfguard/internal/chunk"
)

func testChunks(n int) []chunk.Chunk {
	chunks := make([]chunk.Chunk, n)
	for i := range chunks {
		chunks[i] = chunk.Chunk{
			Text:       fmt.Sprintf("resource \"aws_s3_bucket\" \"b%d\" {}", i),
			SourcePath: "main.tf",
			Index:      i,
		}
	}
	return chunks
}

func TestIndexChunks_Batches(t *testing.T) {
	ctx := context.Background()
	embedder := &mockEmbedder{}
	index := NewMemoryIndex()

	written, err := IndexChunks(ctx, "proj1", testChunks(7), embedder, index, IndexOptions{BatchSize: 3, Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 7, written)
	assert.Equal(t, 7, index.Count("proj1"))

	calls := embedder.Calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[0], 3)
	assert.Len(t, calls[1], 3)
	assert.Len(t, calls[2], 1)
}

func TestIndexChunks_SkipsBlankChunks(t *testing.T) {
	chunks := testChunks(2)
	chunks = append(chunks, chunk.Chunk{Text: "  \n\t", SourcePath: "empty.tf"})

	index := NewMemoryIndex()
	written, err := IndexChunks(context.Background(), "proj1", chunks, &mockEmbedder{}, index, DefaultIndexOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, 2, index.Count("proj1"))
}

func TestIndexChunks_NothingToIndex(t *testing.T) {
	embedder := &mockEmbedder{}
	written, err := IndexChunks(context.Background(), "proj1", nil, embedder, NewMemoryIndex(), DefaultIndexOptions())
	require.NoError(t, err)
	assert.Zero(t, written)
	assert.Empty(t, embedder.Calls())
}

func TestIndexChunks_InvalidInput(t *testing.T) {
	ctx := context.Background()

	_, err := IndexChunks(ctx, "bad/name", testChunks(1), &mockEmbedder{}, NewMemoryIndex(), DefaultIndexOptions())
	assert.ErrorIs(t, err, ErrInvalidNamespace)

	_, err = IndexChunks(ctx, "proj1", testChunks(1), nil, NewMemoryIndex(), DefaultIndexOptions())
	assert.Error(t, err)

	_, err = IndexChunks(ctx, "proj1", testChunks(1), &mockEmbedder{}, nil, DefaultIndexOptions())
	assert.Error(t, err)
}

func TestIndexChunks_EmbeddingError(t *testing.T) {
	embedder := &mockEmbedder{
		embedFunc: func(ctx context.Context, texts []string) ([]EmbeddingRecord, error) {
			return nil, ErrAuthentication
		},
	}
	index := NewMemoryIndex()

	written, err := IndexChunks(context.Background(), "proj1", testChunks(4), embedder, index, DefaultIndexOptions())
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Zero(t, written)
	assert.Zero(t, index.Count("proj1"))
}

func TestIndexChunks_RecordCountMismatch(t *testing.T) {
	embedder := &mockEmbedder{
		embedFunc: func(ctx context.Context, texts []string) ([]EmbeddingRecord, error) {
			return []EmbeddingRecord{{Text: texts[0], Embedding: []float32{1}}}, nil
		},
	}

	_, err := IndexChunks(context.Background(), "proj1", testChunks(3), embedder, NewMemoryIndex(), DefaultIndexOptions())
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestIndexChunks_Concurrent(t *testing.T) {
	var inFlight, peak atomic.Int32
	embedder := &mockEmbedder{}
	embedder.embedFunc = func(ctx context.Context, texts []string) ([]EmbeddingRecord, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		records := make([]EmbeddingRecord, len(texts))
		for i, text := range texts {
			records[i] = EmbeddingRecord{Text: text, Embedding: []float32{float32(len(text)), 1}, Index: i}
		}
		return records, nil
	}

	index := NewMemoryIndex()
	written, err := IndexChunks(context.Background(), "proj1", testChunks(40), embedder, index, IndexOptions{BatchSize: 2, Concurrency: 4})
	require.NoError(t, err)
	assert.Equal(t, 40, written)
	assert.Equal(t, 40, index.Count("proj1"))
	assert.LessOrEqual(t, peak.Load(), int32(4))

	results, err := index.SimilaritySearch(context.Background(), "proj1", []float32{1, 1}, 40)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, strings.HasPrefix(r.Entry.Chunk.Text, "resource"))
		assert.NotEmpty(t, r.Entry.ID)
	}
}
