package embedding

import (
	"container/list"
	"context"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
)

// CachedEmbedder is an LRU cache in front of another embedder, keyed by text.
type CachedEmbedder struct {
	inner    embedding.Embedder
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float64
}

var _ embedding.Embedder = (*CachedEmbedder)(nil)

func NewCachedEmbedder(inner embedding.Embedder, capacity int) *CachedEmbedder {
	return &CachedEmbedder{
		inner:    inner,
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// EmbedStrings serves cached texts from memory and forwards the rest in one batch.
func (c *CachedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := c.get(text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vectors, err := c.inner.EmbedStrings(ctx, missing, opts...)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, ErrEmptyEmbedding
	}
	for j, vec := range vectors {
		out[missingIdx[j]] = vec
		c.set(missing[j], vec)
	}
	return out, nil
}

// Len returns the number of cached entries.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *CachedEmbedder) get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

func (c *CachedEmbedder) set(key string, value []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}
	elem := c.lru.PushFront(&cacheEntry{key: key, value: value})
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}
