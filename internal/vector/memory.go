package vector

import (
	"context"
	"sync"

	"agentrag/internal/models"
)

type memoryEntry struct {
	passage *models.Passage
	vector  []float64
}

// MemoryStore is an in-memory Store using brute-force cosine search.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memoryEntry
	order       map[string][]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]*memoryEntry),
		order:       make(map[string][]string),
	}
}

func namespace(clientID, collection string) string {
	return clientID + "/" + collection
}

func (m *MemoryStore) Upsert(ctx context.Context, clientID, collection string, passages []*models.Passage, vectors [][]float64) error {
	if err := checkUpsert(passages, vectors); err != nil {
		return err
	}
	ns := namespace(clientID, collection)
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.collections[ns]
	if !ok {
		entries = make(map[string]*memoryEntry)
		m.collections[ns] = entries
	}
	for i, p := range passages {
		if _, exists := entries[p.ID]; !exists {
			m.order[ns] = append(m.order[ns], p.ID)
		}
		pc := *p
		vec := make([]float64, len(vectors[i]))
		copy(vec, vectors[i])
		entries[p.ID] = &memoryEntry{passage: &pc, vector: vec}
	}
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, clientID, collection string, vector []float64, topK int) ([]*models.Document, error) {
	ns := namespace(clientID, collection)
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.collections[ns]
	candidates := make([]scored, 0, len(entries))
	for _, id := range m.order[ns] {
		e := entries[id]
		candidates = append(candidates, scored{passage: e.passage, score: cosine(vector, e.vector)})
	}
	return topDocuments(candidates, topK), nil
}

func (m *MemoryStore) Count(ctx context.Context, clientID, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[namespace(clientID, collection)]), nil
}

func (m *MemoryStore) Close() error {
	return nil
}
