package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/logger"
	"github.com/timmy/memeprep/internal/repository"
)

// RetrievalStore is the part of the record store retrieval reads.
type RetrievalStore interface {
	GetByIDs(ctx context.Context, ids []int64) ([]domain.ImageRecord, error)
	TagsFor(ctx context.Context, ids []int64) (map[int64][]string, error)
}

// RetrievalConfig holds retrieval defaults.
type RetrievalConfig struct {
	K              int
	FinalCount     int
	QueryCacheSize int
	QueryCacheTTL  time.Duration
	MaxAttempts    int
	RetryDelay     time.Duration
}

// RetrieveRequest is one search.
type RetrieveRequest struct {
	Query      string
	K          int
	FinalCount int
	Tags       []string
}

// RankedImage is one result with its 1-based rank.
type RankedImage struct {
	ImageID int64 `json:"image_id"`
	Rank    int   `json:"rank"`
}

// RetrievalService answers queries with kNN search followed by an LLM rerank.
type RetrievalService struct {
	store    RetrievalStore
	provider EmbeddingProvider
	index    repository.VectorIndex
	ranker   Ranker
	cache    *queryVectorCache
	cfg      RetrievalConfig
}

// NewRetrievalService creates a new retrieval service.
func NewRetrievalService(store RetrievalStore, provider EmbeddingProvider, index repository.VectorIndex, ranker Ranker, cfg RetrievalConfig) *RetrievalService {
	if cfg.K <= 0 {
		cfg.K = 10
	}
	if cfg.FinalCount <= 0 {
		cfg.FinalCount = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var cache *queryVectorCache
	if cfg.QueryCacheSize > 0 && cfg.QueryCacheTTL > 0 {
		cache = newQueryVectorCache(cfg.QueryCacheSize, cfg.QueryCacheTTL)
	}

	return &RetrievalService{
		store:    store,
		provider: provider,
		index:    index,
		ranker:   ranker,
		cache:    cache,
		cfg:      cfg,
	}
}

// Retrieve runs the full pipeline. An empty candidate pool is a successful empty
// result; every other failure wraps domain.ErrRetrieval.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: query text, kNN size, final count and optional tag filter; zero sizes take defaults.
// Returns:
//   - []RankedImage: ranked results, ranks 1..n.
//   - error: wraps domain.ErrInvalidRequest for bad input, otherwise domain.ErrRetrieval.
func (s *RetrievalService) Retrieve(ctx context.Context, req RetrieveRequest) ([]RankedImage, error) {
	start := time.Now()

	query := normalizeWhitespace(strings.TrimSpace(req.Query))
	k := req.K
	if k == 0 {
		k = s.cfg.K
	}
	final := req.FinalCount
	if final == 0 {
		final = s.cfg.FinalCount
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidRequest)
	}
	if final <= 0 || k <= 0 || final > k {
		return nil, fmt.Errorf("%w: need 0 < final_count <= k, got final_count=%d k=%d", domain.ErrInvalidRequest, final, k)
	}

	vec, err := s.queryVector(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", domain.ErrRetrieval, err)
	}

	var filter *repository.VectorFilter
	if tags := dedupeStrings(req.Tags); len(tags) > 0 {
		filter = &repository.VectorFilter{Tags: tags}
	}

	hits, err := s.index.Search(ctx, vec, k, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", domain.ErrRetrieval, err)
	}

	candidates, err := s.hydrate(ctx, hits)
	if err != nil {
		return nil, fmt.Errorf("%w: hydrate candidates: %v", domain.ErrRetrieval, err)
	}
	if len(candidates) == 0 {
		logger.With(logger.Fields{"hits": len(hits)}).Info(ctx, "No candidates for query")
		return []RankedImage{}, nil
	}

	want := final
	if len(candidates) < want {
		want = len(candidates)
	}
	ids, err := s.ranker.Rank(ctx, query, candidates, want)
	if err != nil {
		return nil, fmt.Errorf("%w: rank: %v", domain.ErrRetrieval, err)
	}
	if len(ids) < want {
		return nil, fmt.Errorf("%w: ranker returned %d ids, need %d", domain.ErrRetrieval, len(ids), want)
	}

	results := make([]RankedImage, want)
	for i := 0; i < want; i++ {
		results[i] = RankedImage{ImageID: ids[i], Rank: i + 1}
	}

	logger.With(logger.Fields{
		"hits":       len(hits),
		"candidates": len(candidates),
	}).WithCount(len(results)).WithDuration(time.Since(start).Milliseconds()).Info(ctx, "Retrieval completed")

	return results, nil
}

func (s *RetrievalService) queryVector(ctx context.Context, query string) ([]float32, error) {
	if s.cache != nil {
		if vec, ok := s.cache.Get(query); ok {
			return vec, nil
		}
	}

	vectors, err := embedWithRetry(ctx, s.provider, []string{query}, TaskQuery, RetryPolicy{
		MaxAttempts: s.cfg.MaxAttempts,
		Backoff:     FixedBackoff(s.cfg.RetryDelay),
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(query, vectors[0])
	}
	return vectors[0], nil
}

// hydrate loads the hit records in index order, keeping only READY ones.
func (s *RetrievalService) hydrate(ctx context.Context, hits []repository.VectorHit) ([]domain.ImageRecord, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ImageID
	}

	records, err := s.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.ImageRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	tags, err := s.store.TagsFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ImageRecord, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok || rec.Status != domain.StatusReady {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rec.Tags = tags[id]
		out = append(out, rec)
	}
	return out, nil
}

// ============================================================================
// queryVectorCache - LRU cache with TTL
// ============================================================================

type cachedVector struct {
	vector    []float32
	timestamp time.Time
}

type queryVectorCache struct {
	mu      sync.RWMutex
	cache   map[string]*cachedVector
	ttl     time.Duration
	maxSize int
	order   []string // LRU order (oldest first)
}

func newQueryVectorCache(maxSize int, ttl time.Duration) *queryVectorCache {
	return &queryVectorCache{
		cache:   make(map[string]*cachedVector),
		ttl:     ttl,
		maxSize: maxSize,
		order:   make([]string, 0, maxSize),
	}
}

func (c *queryVectorCache) Get(query string) ([]float32, bool) {
	key := normalizeQuery(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.cache[key]
	if !ok {
		return nil, false
	}

	if time.Since(cached.timestamp) > c.ttl {
		delete(c.cache, key)
		c.removeFromOrder(key)
		return nil, false
	}

	// Move to end of order (most recently used)
	c.removeFromOrder(key)
	c.order = append(c.order, key)

	return cached.vector, true
}

func (c *queryVectorCache) Set(query string, vector []float32) {
	key := normalizeQuery(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.cache[key]; !exists {
		// Evict oldest if at capacity
		for len(c.cache) >= c.maxSize && len(c.order) > 0 {
			oldestKey := c.order[0]
			delete(c.cache, oldestKey)
			c.order = c.order[1:]
		}
	}

	c.cache[key] = &cachedVector{
		vector:    vector,
		timestamp: time.Now(),
	}

	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *queryVectorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *queryVectorCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// normalizeQuery keys the cache on the exact text sent to the provider, case included.
func normalizeQuery(query string) string {
	return normalizeWhitespace(strings.TrimSpace(query))
}
