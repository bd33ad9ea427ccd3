package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Common errors for remote store operations
var (
	ErrConnectionFailed = errors.New("failed to connect to vector store")
	ErrInsertFailed     = errors.New("failed to insert entries")
	ErrSearchFailed     = errors.New("failed to search vectors")
)

// milvusPrefix namespaces tfguard collections inside a shared Milvus instance.
const milvusPrefix = "tfguard_"

// MilvusConfig holds configuration for Milvus connection and collections
type MilvusConfig struct {
	Address string // Milvus server address (e.g., "localhost:19530")

	// HNSW index parameters
	M              int // HNSW M parameter (default: 16)
	EfConstruction int // HNSW efConstruction (default: 256)
	EfSearch       int // HNSW ef at query time (default: 64)
}

// DefaultMilvusConfig returns the default HNSW parameters for address.
func DefaultMilvusConfig(address string) MilvusConfig {
	return MilvusConfig{
		Address:        address,
		M:              16,
		EfConstruction: 256,
		EfSearch:       64,
	}
}

// MilvusIndex implements VectorIndex with one Milvus collection per namespace.
type MilvusIndex struct {
	client client.Client
	config MilvusConfig

	mu          sync.Mutex
	collections map[string]bool // collections known to exist and be loaded
}

// NewMilvusIndex connects to Milvus. Collections are created lazily on first upsert.
func NewMilvusIndex(ctx context.Context, config MilvusConfig) (*MilvusIndex, error) {
	c, err := client.NewGrpcClient(ctx, config.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	return newMilvusIndex(c, config), nil
}

func newMilvusIndex(c client.Client, config MilvusConfig) *MilvusIndex {
	return &MilvusIndex{
		client:      c,
		config:      config,
		collections: make(map[string]bool),
	}
}

// milvusCollection returns the collection name backing namespace.
func milvusCollection(namespace string) string {
	return milvusPrefix + encodeIdentifier(namespace)
}

// ensureCollection creates the collection with schema if it doesn't exist.
// Creation is serialized so concurrent upserts into a new namespace create it once.
func (m *MilvusIndex) ensureCollection(ctx context.Context, collection string, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collections[collection] {
		return nil
	}

	has, err := m.client.HasCollection(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if has {
		m.collections[collection] = true
		return nil
	}

	schema := &entity.Schema{
		CollectionName: collection,
		AutoID:         true,
		Fields: []*entity.Field{
			{
				Name:       "seq",
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     true,
			},
			{
				Name:     "entry_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "source_path",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "4096",
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "65535",
				},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "chunk_offset",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "overlap",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", dimension),
				},
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		// Another process may have created it between the check and the create
		if has, herr := m.client.HasCollection(ctx, collection); herr == nil && has {
			m.collections[collection] = true
			return nil
		}
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, m.config.M, m.config.EfConstruction)
	if err != nil {
		return fmt.Errorf("failed to create index config: %w", err)
	}

	if err := m.client.CreateIndex(ctx, collection, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	m.collections[collection] = true
	return nil
}

// Upsert inserts entries into the namespace collection, creating it from the first vector's dimension.
func (m *MilvusIndex) Upsert(ctx context.Context, namespace string, entries []IndexEntry) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	dimension := len(entries[0].Vector)
	if dimension == 0 {
		return ErrInvalidDimension
	}

	collection := milvusCollection(namespace)
	if err := m.ensureCollection(ctx, collection, dimension); err != nil {
		return err
	}

	ids := make([]string, len(entries))
	paths := make([]string, len(entries))
	texts := make([]string, len(entries))
	indexes := make([]int64, len(entries))
	offsets := make([]int64, len(entries))
	overlaps := make([]int64, len(entries))
	embeddings := make([][]float32, len(entries))

	for i, e := range entries {
		if len(e.Vector) != dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, dimension, len(e.Vector))
		}
		ids[i] = e.ID
		paths[i] = e.Chunk.SourcePath
		texts[i] = e.Chunk.Text
		indexes[i] = int64(e.Chunk.Index)
		offsets[i] = int64(e.Chunk.Offset)
		overlaps[i] = int64(e.Chunk.Overlap)
		embeddings[i] = e.Vector
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("entry_id", ids),
		entity.NewColumnVarChar("source_path", paths),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnInt64("chunk_index", indexes),
		entity.NewColumnInt64("chunk_offset", offsets),
		entity.NewColumnInt64("overlap", overlaps),
		entity.NewColumnFloatVector("embedding", dimension, embeddings),
	}

	if _, err := m.client.Insert(ctx, collection, "", columns...); err != nil {
		return fmt.Errorf("%w: %v", ErrInsertFailed, err)
	}

	// Flush to ensure data is persisted
	if err := m.client.Flush(ctx, collection, false); err != nil {
		return fmt.Errorf("failed to flush data: %w", err)
	}

	return nil
}

// SimilaritySearch performs top-K cosine search within the namespace collection
func (m *MilvusIndex) SimilaritySearch(ctx context.Context, namespace string, query []float32, k int) ([]SearchResult, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []SearchResult{}, nil
	}

	collection := milvusCollection(namespace)
	has, err := m.client.HasCollection(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !has {
		return []SearchResult{}, nil
	}

	sp, err := entity.NewIndexHNSWSearchParam(max(m.config.EfSearch, k))
	if err != nil {
		return nil, fmt.Errorf("failed to create search params: %w", err)
	}

	vectors := []entity.Vector{entity.FloatVector(query)}
	outputFields := []string{"entry_id", "source_path", "text", "chunk_index", "chunk_offset", "overlap", "embedding"}

	results, err := m.client.Search(
		ctx,
		collection,
		nil, // partition names
		"",
		outputFields,
		vectors,
		"embedding",
		entity.COSINE,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	if len(results) == 0 {
		return []SearchResult{}, nil
	}

	return milvusResults(results[0]), nil
}

// milvusResults converts one Milvus result set into search results.
func milvusResults(rs client.SearchResult) []SearchResult {
	out := make([]SearchResult, 0, rs.ResultCount)

	for i := 0; i < rs.ResultCount; i++ {
		r := SearchResult{Score: rs.Scores[i]}

		for _, field := range rs.Fields {
			switch col := field.(type) {
			case *entity.ColumnVarChar:
				switch col.Name() {
				case "entry_id":
					r.Entry.ID = col.Data()[i]
				case "source_path":
					r.Entry.Chunk.SourcePath = col.Data()[i]
				case "text":
					r.Entry.Chunk.Text = col.Data()[i]
				}
			case *entity.ColumnInt64:
				switch col.Name() {
				case "chunk_index":
					r.Entry.Chunk.Index = int(col.Data()[i])
				case "chunk_offset":
					r.Entry.Chunk.Offset = int(col.Data()[i])
				case "overlap":
					r.Entry.Chunk.Overlap = int(col.Data()[i])
				}
			case *entity.ColumnFloatVector:
				if col.Name() == "embedding" {
					r.Entry.Vector = col.Data()[i]
				}
			}
		}

		out = append(out, r)
	}

	return out
}

// DeleteNamespace drops the namespace collection
func (m *MilvusIndex) DeleteNamespace(ctx context.Context, namespace string) (bool, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return false, err
	}

	collection := milvusCollection(namespace)
	has, err := m.client.HasCollection(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !has {
		return false, nil
	}

	if err := m.client.DropCollection(ctx, collection); err != nil {
		return false, fmt.Errorf("failed to drop collection: %w", err)
	}

	m.mu.Lock()
	delete(m.collections, collection)
	m.mu.Unlock()

	return true, nil
}

// Namespaces lists namespaces from the tfguard collections
func (m *MilvusIndex) Namespaces(ctx context.Context) ([]string, error) {
	collections, err := m.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	names := []string{}
	for _, c := range collections {
		if ns, ok := namespaceFromIdentifier(c.Name, milvusPrefix); ok {
			names = append(names, ns)
		}
	}
	sort.Strings(names)

	return names, nil
}

// Close releases resources and closes the Milvus connection
func (m *MilvusIndex) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// namespaceFromIdentifier recovers a namespace from a prefixed backend identifier.
func namespaceFromIdentifier(id, prefix string) (string, bool) {
	encoded, ok := strings.CutPrefix(id, prefix)
	if !ok || encoded == "" {
		return "", false
	}
	ns, ok := decodeIdentifier(encoded)
	if !ok || ValidateNamespace(ns) != nil {
		return "", false
	}
	return ns, true
}
