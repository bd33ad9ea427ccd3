package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Yates-Labs/tfguard/internal/chunk"
)

// Common errors for vector index operations
var (
	ErrInvalidNamespace  = errors.New("invalid namespace")
	ErrNamespaceNotFound = errors.New("namespace not found")
	ErrInvalidDimension  = errors.New("invalid vector dimension")
	ErrLengthMismatch    = errors.New("chunks and embeddings length mismatch")
)

// MaxNamespaceLength bounds namespace names so that every backend can derive an identifier from them.
const MaxNamespaceLength = 48

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// IndexEntry is a chunk stored together with its embedding.
type IndexEntry struct {
	ID     string      `json:"id"`
	Chunk  chunk.Chunk `json:"chunk"`
	Vector []float32   `json:"vector"`
}

// SearchResult is one retrieved entry with its similarity to the query (higher is closer).
type SearchResult struct {
	Entry IndexEntry `json:"entry"`
	Score float32    `json:"score"`
}

// VectorIndex persists index entries per namespace and answers similarity queries.
// Implementations must be safe for concurrent Upsert calls on the same namespace.
type VectorIndex interface {
	// Upsert appends entries to the namespace, creating it if needed.
	// Entries are never deduplicated.
	Upsert(ctx context.Context, namespace string, entries []IndexEntry) error

	// SimilaritySearch returns at most k entries ranked by descending similarity.
	// A namespace that does not exist yields no results.
	SimilaritySearch(ctx context.Context, namespace string, query []float32, k int) ([]SearchResult, error)

	// DeleteNamespace removes the whole namespace. It reports false when there was nothing to delete.
	DeleteNamespace(ctx context.Context, namespace string) (bool, error)

	// Namespaces lists the namespaces currently stored.
	Namespaces(ctx context.Context) ([]string, error)

	// Close releases resources and closes connections
	Close() error
}

// LocalIndex is a VectorIndex whose namespaces live in durable local storage,
// so indexing and querying can run as separate process invocations.
type LocalIndex interface {
	VectorIndex

	// Save flushes the namespace to durable storage and returns its storage handle.
	Save(ctx context.Context, namespace string) (string, error)

	// Load opens a read-only view over previously saved storage.
	Load(ctx context.Context, handle string) (*NamespaceView, error)
}

// NamespaceView is a read-only snapshot of one namespace.
type NamespaceView struct {
	Namespace string
	Handle    string
	entries   []IndexEntry
}

// Len returns the number of entries in the view.
func (v *NamespaceView) Len() int { return len(v.entries) }

// Search ranks the view's entries against query and returns at most k of them.
func (v *NamespaceView) Search(query []float32, k int) []SearchResult {
	return rankEntries(v.entries, query, k)
}

// ValidateNamespace rejects names that could escape their storage location or collide
// after being mapped to a backend identifier.
func ValidateNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("%w: namespace cannot be empty", ErrInvalidNamespace)
	}
	if len(namespace) > MaxNamespaceLength {
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidNamespace, namespace, MaxNamespaceLength)
	}
	if !namespacePattern.MatchString(namespace) {
		return fmt.Errorf("%w: %q may only contain letters, digits, '_', '.' and '-' and must start with a letter or digit", ErrInvalidNamespace, namespace)
	}
	return nil
}

// NewEntries pairs chunks with their embeddings and assigns each entry a fresh ID.
func NewEntries(chunks []chunk.Chunk, records []EmbeddingRecord) ([]IndexEntry, error) {
	if len(chunks) != len(records) {
		return nil, fmt.Errorf("%w: %d chunks, %d embeddings", ErrLengthMismatch, len(chunks), len(records))
	}

	entries := make([]IndexEntry, len(chunks))
	for i, ch := range chunks {
		entries[i] = IndexEntry{
			ID:     uuid.New().String(),
			Chunk:  ch,
			Vector: records[i].Embedding,
		}
	}
	return entries, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when undefined.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// rankEntries scores entries by cosine similarity. Ties keep insertion order.
func rankEntries(entries []IndexEntry, query []float32, k int) []SearchResult {
	if k <= 0 || len(entries) == 0 {
		return []SearchResult{}
	}

	results := make([]SearchResult, len(entries))
	for i, e := range entries {
		results[i] = SearchResult{Entry: e, Score: CosineSimilarity(query, e.Vector)}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

// encodeIdentifier maps a valid namespace onto [A-Za-z0-9_] without collisions:
// '_' becomes "__", '-' becomes "_d" and '.' becomes "_p".
func encodeIdentifier(namespace string) string {
	var b strings.Builder
	for _, r := range namespace {
		switch r {
		case '_':
			b.WriteString("__")
		case '-':
			b.WriteString("_d")
		case '.':
			b.WriteString("_p")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// decodeIdentifier reverses encodeIdentifier. It reports false for strings encodeIdentifier never produces.
func decodeIdentifier(id string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		if id[i] != '_' {
			b.WriteByte(id[i])
			continue
		}
		if i+1 >= len(id) {
			return "", false
		}
		i++
		switch id[i] {
		case '_':
			b.WriteByte('_')
		case 'd':
			b.WriteByte('-')
		case 'p':
			b.WriteByte('.')
		default:
			return "", false
		}
	}
	return b.String(), true
}
