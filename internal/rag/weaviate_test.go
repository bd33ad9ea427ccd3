package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/Yates-Labs/tfguard/internal/chunk"
)

// fakeWeaviate serves the handful of REST and GraphQL routes WeaviateIndex uses.
type fakeWeaviate struct {
	mu         sync.Mutex
	classes    map[string]bool
	deleted    []string
	getData    map[string]any
	created    []*models.Class
	objects    []*models.Object
	checkDelay time.Duration // slows the class existence check to widen races
}

func (f *fakeWeaviate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/schema/") && f.checkDelay > 0 {
		time.Sleep(f.checkDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/v1/meta":
		_, _ = w.Write([]byte(`{"version": "1.25.0"}`))
	case r.URL.Path == "/v1/schema" && r.Method == http.MethodGet:
		classes := []*models.Class{}
		for name := range f.classes {
			classes = append(classes, &models.Class{Class: name})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"classes": classes})
	case r.URL.Path == "/v1/schema" && r.Method == http.MethodPost:
		var class models.Class
		if err := json.NewDecoder(r.Body).Decode(&class); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if f.classes[class.Class] {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":[{"message":"class name ` + class.Class + ` already exists"}]}`))
			return
		}
		f.classes[class.Class] = true
		f.created = append(f.created, &class)
		_ = json.NewEncoder(w).Encode(&class)
	case r.URL.Path == "/v1/objects" && r.Method == http.MethodPost:
		var obj models.Object
		if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !f.classes[obj.Class] {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		f.objects = append(f.objects, &obj)
		_ = json.NewEncoder(w).Encode(&obj)
	case r.URL.Path == "/v1/graphql":
		_ = json.NewEncoder(w).Encode(map[string]any{"data": f.getData})
	case len(r.URL.Path) > len("/v1/schema/"):
		class := r.URL.Path[len("/v1/schema/"):]
		if !f.classes[class] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodDelete {
			delete(f.classes, class)
			f.deleted = append(f.deleted, class)
			w.WriteHeader(http.StatusOK)
			return
		}
		_ = json.NewEncoder(w).Encode(&models.Class{Class: class})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestWeaviateIndex(t *testing.T, f *fakeWeaviate) *WeaviateIndex {
	t.Helper()
	ts := httptest.NewServer(f)
	t.Cleanup(ts.Close)

	idx, err := NewWeaviateIndex(ts.Listener.Addr().String(), "http")
	require.NoError(t, err)
	return idx
}

func TestWeaviateIndex_SearchMissingClass(t *testing.T) {
	idx := newTestWeaviateIndex(t, &fakeWeaviate{classes: map[string]bool{}})

	results, err := idx.SimilaritySearch(context.Background(), "proj1", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestWeaviateIndex_Search(t *testing.T) {
	f := &fakeWeaviate{
		classes: map[string]bool{"Tfguard_proj1": true},
		getData: map[string]any{
			"Get": map[string]any{
				"Tfguard_proj1": []any{
					map[string]any{
						"entryId": "b", "sourcePath": "guardrails.md", "content": "encrypt buckets",
						"chunkIndex": 2, "chunkOffset": 900, "overlap": 50,
						"_additional": map[string]any{"distance": 0.4, "vector": []float64{0, 1}},
					},
					map[string]any{
						"entryId": "a", "sourcePath": "main.tf", "content": "resource",
						"chunkIndex": 0, "chunkOffset": 0, "overlap": 0,
						"_additional": map[string]any{"distance": 0.1, "vector": []float64{1, 0}},
					},
				},
			},
		},
	}
	idx := newTestWeaviateIndex(t, f)

	results, err := idx.SimilaritySearch(context.Background(), "proj1", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].Entry.ID)
	assert.InDelta(t, 0.9, results[0].Score, 1e-6)
	assert.Equal(t, []float32{1, 0}, results[0].Entry.Vector)
	assert.Equal(t, "encrypt buckets", results[1].Entry.Chunk.Text)
	assert.Equal(t, 900, results[1].Entry.Chunk.Offset)
	assert.Equal(t, 2, results[1].Entry.Chunk.Index)
}

func TestWeaviateIndex_DeleteNamespace(t *testing.T) {
	f := &fakeWeaviate{classes: map[string]bool{"Tfguard_proj1": true}}
	idx := newTestWeaviateIndex(t, f)
	ctx := context.Background()

	deleted, err := idx.DeleteNamespace(ctx, "proj1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{"Tfguard_proj1"}, f.deleted)

	deleted, err = idx.DeleteNamespace(ctx, "proj1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestWeaviateIndex_Namespaces(t *testing.T) {
	f := &fakeWeaviate{classes: map[string]bool{
		"Tfguard_proj1":      true,
		"Tfguard_team_dprod": true,
		"DocumentChunk":      true,
	}}
	idx := newTestWeaviateIndex(t, f)

	names, err := idx.Namespaces(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"proj1", "team-prod"}, names)
}

func TestWeaviateIndex_Upsert(t *testing.T) {
	f := &fakeWeaviate{classes: map[string]bool{}}
	idx := newTestWeaviateIndex(t, f)

	entries := []IndexEntry{
		entry("a", "resource \"aws_s3_bucket\" \"logs\" {}", 1, 0),
		{
			ID:     "b",
			Chunk:  chunk.Chunk{Text: "encrypt buckets", SourcePath: "guardrails.md", Index: 2, Offset: 900, Overlap: 50},
			Vector: []float32{0, 1},
		},
	}
	require.NoError(t, idx.Upsert(context.Background(), "team-prod", entries))

	f.mu.Lock()
	defer f.mu.Unlock()

	require.Len(t, f.created, 1)
	class := f.created[0]
	assert.Equal(t, "Tfguard_team_dprod", class.Class)
	assert.Equal(t, "none", class.Vectorizer)
	props := map[string][]string{}
	for _, p := range class.Properties {
		props[p.Name] = p.DataType
	}
	assert.Equal(t, map[string][]string{
		"entryId":     {"text"},
		"sourcePath":  {"text"},
		"content":     {"text"},
		"chunkIndex":  {"int"},
		"chunkOffset": {"int"},
		"overlap":     {"int"},
	}, props)

	require.Len(t, f.objects, 2)
	obj := f.objects[1]
	assert.Equal(t, "Tfguard_team_dprod", obj.Class)
	assert.Equal(t, models.C11yVector{0, 1}, obj.Vector)
	got, ok := obj.Properties.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "b", got["entryId"])
	assert.Equal(t, "guardrails.md", got["sourcePath"])
	assert.Equal(t, "encrypt buckets", got["content"])
	assert.EqualValues(t, 2, got["chunkIndex"])
	assert.EqualValues(t, 900, got["chunkOffset"])
	assert.EqualValues(t, 50, got["overlap"])
}

func TestWeaviateIndex_UpsertEmpty(t *testing.T) {
	f := &fakeWeaviate{classes: map[string]bool{}}
	idx := newTestWeaviateIndex(t, f)

	require.NoError(t, idx.Upsert(context.Background(), "proj1", nil))
	assert.Empty(t, f.created)
}

func TestWeaviateIndex_ConcurrentUpsertNewNamespace(t *testing.T) {
	f := &fakeWeaviate{classes: map[string]bool{}, checkDelay: 50 * time.Millisecond}
	idx := newTestWeaviateIndex(t, f)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = idx.Upsert(context.Background(), "proj1", []IndexEntry{
				entry(fmt.Sprintf("e%d", i), "resource", 1, 0),
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "upsert %d", i)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.created, 1)
	assert.Len(t, f.objects, 4)
}

func TestWeaviateIndex_ClassCreatedByAnotherWriter(t *testing.T) {
	f := &fakeWeaviate{classes: map[string]bool{}, checkDelay: 50 * time.Millisecond}
	ts := httptest.NewServer(f)
	t.Cleanup(ts.Close)

	// Two independent indexes model two processes racing on the same namespace
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		idx, err := NewWeaviateIndex(ts.Listener.Addr().String(), "http")
		require.NoError(t, err)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = idx.Upsert(context.Background(), "proj1", []IndexEntry{
				entry(fmt.Sprintf("e%d", i), "resource", 1, 0),
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "upsert %d", i)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.created, 1)
	assert.Len(t, f.objects, 2)
}

func TestClassAlreadyExists(t *testing.T) {
	assert.True(t, classAlreadyExists(&fault.WeaviateClientError{
		StatusCode: http.StatusUnprocessableEntity,
		Msg:        `{"error":[{"message":"class name Tfguard_proj1 already exists"}]}`,
	}))
	assert.False(t, classAlreadyExists(&fault.WeaviateClientError{StatusCode: http.StatusUnprocessableEntity, Msg: "invalid property"}))
	assert.False(t, classAlreadyExists(fmt.Errorf("boom")))
}
