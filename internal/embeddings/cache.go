package embeddings

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// cacheEntry holds a cached embedding with its insertion time
type cacheEntry struct {
	key       string
	embedding []float64
	createdAt time.Time
}

// CachedService wraps an embedding Service with an LRU cache keyed by a
// content hash. Entries expire after a TTL.
type CachedService struct {
	backend Service
	maxSize int
	ttl     time.Duration

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List

	hits   int64
	misses int64
}

// NewCachedService wraps a service with an LRU cache. maxSize <= 0 disables
// caching entirely and returns the backend unchanged.
func NewCachedService(backend Service, maxSize int, ttl time.Duration) Service {
	if maxSize <= 0 {
		return backend
	}
	return &CachedService{
		backend: backend,
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Generate returns a cached embedding or delegates to the backend
func (c *CachedService) Generate(ctx context.Context, text string) ([]float64, error) {
	key := cacheKey(text)

	if emb, ok := c.get(key); ok {
		return emb, nil
	}

	emb, err := c.backend.Generate(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(key, emb)
	return emb, nil
}

// GenerateBatch caches each text individually, embedding only the misses
func (c *CachedService) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if emb, ok := c.get(cacheKey(text)); ok {
			out[i] = emb
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}

	if len(missing) > 0 {
		fresh, err := c.backend.GenerateBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for i, emb := range fresh {
			out[missingIdx[i]] = emb
			c.put(cacheKey(missing[i]), emb)
		}
	}
	return out, nil
}

// Dimensions delegates to the backend
func (c *CachedService) Dimensions() int { return c.backend.Dimensions() }

// Model delegates to the backend
func (c *CachedService) Model() string { return c.backend.Model() }

// HealthCheck delegates to the backend
func (c *CachedService) HealthCheck(ctx context.Context) error { return c.backend.HealthCheck(ctx) }

// Stats returns cache hit and miss counts
func (c *CachedService) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *CachedService) get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && time.Since(entry.createdAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.items, key)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.embedding, true
}

func (c *CachedService) put(key string, embedding []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry).embedding = embedding
		elem.Value.(*cacheEntry).createdAt = time.Now()
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry{key: key, embedding: embedding, createdAt: time.Now()})
	c.items[key] = elem

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
