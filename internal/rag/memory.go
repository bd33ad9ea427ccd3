package rag

import (
	"context"
	"sort"
	"sync"
)

// MemoryIndex is an in-process VectorIndex. Contents are lost when the process exits.
type MemoryIndex struct {
	mu         sync.RWMutex
	namespaces map[string][]IndexEntry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{namespaces: make(map[string][]IndexEntry)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, namespace string, entries []IndexEntry) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.namespaces[namespace]
	for _, e := range entries {
		e.Vector = append([]float32(nil), e.Vector...)
		stored = append(stored, e)
	}
	m.namespaces[namespace] = stored
	return nil
}

func (m *MemoryIndex) SimilaritySearch(ctx context.Context, namespace string, query []float32, k int) ([]SearchResult, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return rankEntries(m.namespaces[namespace], query, k), nil
}

func (m *MemoryIndex) DeleteNamespace(ctx context.Context, namespace string) (bool, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.namespaces[namespace]
	delete(m.namespaces, namespace)
	return ok, nil
}

func (m *MemoryIndex) Namespaces(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.namespaces))
	for ns := range m.namespaces {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of entries stored under namespace.
func (m *MemoryIndex) Count(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces[namespace])
}

func (m *MemoryIndex) Close() error { return nil }
