package rag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// weaviatePrefix starts every tfguard class name. Weaviate class names must begin with a capital letter.
const weaviatePrefix = "Tfguard_"

// WeaviateIndex implements VectorIndex with one Weaviate class per namespace.
type WeaviateIndex struct {
	client *weaviate.Client

	mu      sync.Mutex
	classes map[string]bool // classes known to exist
}

// NewWeaviateIndex creates a Weaviate-backed index for host ("localhost:8080") and scheme ("http").
func NewWeaviateIndex(host, scheme string) (*WeaviateIndex, error) {
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return &WeaviateIndex{client: client, classes: make(map[string]bool)}, nil
}

func weaviateClass(namespace string) string {
	return weaviatePrefix + encodeIdentifier(namespace)
}

func (w *WeaviateIndex) classExists(ctx context.Context, class string) (bool, error) {
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(class).Do(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check class existence: %w", err)
	}
	return exists, nil
}

// ensureClass creates class once. Concurrent upserts into a new namespace wait on the same creation.
func (w *WeaviateIndex) ensureClass(ctx context.Context, class string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.classes[class] {
		return nil
	}

	exists, err := w.classExists(ctx, class)
	if err != nil {
		return err
	}
	if exists {
		w.classes[class] = true
		return nil
	}

	schema := &models.Class{
		Class:       class,
		Description: "Terraform and guardrail chunks",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{Name: "entryId", DataType: []string{"text"}},
			{Name: "sourcePath", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "chunkIndex", DataType: []string{"int"}},
			{Name: "chunkOffset", DataType: []string{"int"}},
			{Name: "overlap", DataType: []string{"int"}},
		},
	}

	if err := w.client.Schema().ClassCreator().WithClass(schema).Do(ctx); err != nil && !classAlreadyExists(err) {
		return fmt.Errorf("failed to create class: %w", err)
	}
	w.classes[class] = true
	return nil
}

// classAlreadyExists reports whether err is Weaviate rejecting a class another writer created first.
func classAlreadyExists(err error) bool {
	var werr *fault.WeaviateClientError
	if !errors.As(err, &werr) {
		return false
	}
	return werr.StatusCode == http.StatusUnprocessableEntity && strings.Contains(werr.Msg, "already exists")
}

func (w *WeaviateIndex) Upsert(ctx context.Context, namespace string, entries []IndexEntry) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	class := weaviateClass(namespace)
	if err := w.ensureClass(ctx, class); err != nil {
		return err
	}

	for _, e := range entries {
		_, err := w.client.Data().Creator().
			WithClassName(class).
			WithProperties(map[string]interface{}{
				"entryId":     e.ID,
				"sourcePath":  e.Chunk.SourcePath,
				"content":     e.Chunk.Text,
				"chunkIndex":  e.Chunk.Index,
				"chunkOffset": e.Chunk.Offset,
				"overlap":     e.Chunk.Overlap,
			}).
			WithVector(e.Vector).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInsertFailed, err)
		}
	}
	return nil
}

func (w *WeaviateIndex) SimilaritySearch(ctx context.Context, namespace string, query []float32, k int) ([]SearchResult, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []SearchResult{}, nil
	}

	class := weaviateClass(namespace)
	exists, err := w.classExists(ctx, class)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []SearchResult{}, nil
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(query)

	fields := []graphql.Field{
		{Name: "entryId"},
		{Name: "sourcePath"},
		{Name: "content"},
		{Name: "chunkIndex"},
		{Name: "chunkOffset"},
		{Name: "overlap"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}, {Name: "vector"}}},
	}

	res, err := w.client.GraphQL().Get().
		WithClassName(class).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql error: %v", ErrSearchFailed, res.Errors[0].Message)
	}

	results := []SearchResult{}
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return results, nil
	}
	objects, ok := data[class].([]interface{})
	if !ok {
		return results, nil
	}

	for _, o := range objects {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}

		var r SearchResult
		r.Entry.ID, _ = props["entryId"].(string)
		r.Entry.Chunk.SourcePath, _ = props["sourcePath"].(string)
		r.Entry.Chunk.Text, _ = props["content"].(string)
		if v, ok := props["chunkIndex"].(float64); ok {
			r.Entry.Chunk.Index = int(v)
		}
		if v, ok := props["chunkOffset"].(float64); ok {
			r.Entry.Chunk.Offset = int(v)
		}
		if v, ok := props["overlap"].(float64); ok {
			r.Entry.Chunk.Overlap = int(v)
		}

		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			// Cosine distance is 1 - similarity
			if d, ok := additional["distance"].(float64); ok {
				r.Score = float32(1 - d)
			}
			if raw, ok := additional["vector"].([]interface{}); ok {
				r.Entry.Vector = make([]float32, 0, len(raw))
				for _, x := range raw {
					if f, ok := x.(float64); ok {
						r.Entry.Vector = append(r.Entry.Vector, float32(f))
					}
				}
			}
		}

		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func (w *WeaviateIndex) DeleteNamespace(ctx context.Context, namespace string) (bool, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return false, err
	}

	class := weaviateClass(namespace)
	exists, err := w.classExists(ctx, class)
	if err != nil || !exists {
		return false, err
	}

	if err := w.client.Schema().ClassDeleter().WithClassName(class).Do(ctx); err != nil {
		return false, fmt.Errorf("failed to delete class: %w", err)
	}

	w.mu.Lock()
	delete(w.classes, class)
	w.mu.Unlock()
	return true, nil
}

func (w *WeaviateIndex) Namespaces(ctx context.Context) ([]string, error) {
	dump, err := w.client.Schema().Getter().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	names := []string{}
	for _, c := range dump.Classes {
		if ns, ok := namespaceFromIdentifier(c.Class, weaviatePrefix); ok {
			names = append(names, ns)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op; the Weaviate client holds no persistent connection.
func (w *WeaviateIndex) Close() error { return nil }
