package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/repository"
)

// fakeRanker returns a fixed order and records what it saw.
type fakeRanker struct {
	order      []int64
	err        error
	seen       []int64
	countAsked int
}

func (r *fakeRanker) Rank(ctx context.Context, query string, candidates []domain.ImageRecord, count int) ([]int64, error) {
	r.seen = idsOf(candidates)
	r.countAsked = count
	if r.err != nil {
		return nil, r.err
	}
	if len(r.order) > count {
		return r.order[:count], nil
	}
	return r.order, nil
}

func hits(ids ...int64) []repository.VectorHit {
	out := make([]repository.VectorHit, len(ids))
	for i, id := range ids {
		out[i] = repository.VectorHit{ImageID: id, Score: 1 - float32(i)*0.1}
	}
	return out
}

func newRetrievalFixture(ready ...int64) (*memStore, *fakeIndex) {
	store := newMemStore()
	for _, id := range ready {
		store.put(id, domain.StatusReady, "Caption: meme", domain.TagFunny, domain.TagSad)
	}
	return store, newFakeIndex()
}

func TestRetrieve_RanksCandidates(t *testing.T) {
	store, index := newRetrievalFixture(7, 2, 9, 1, 4)
	index.searchHits = hits(7, 2, 9, 1, 4)
	ranker := &fakeRanker{order: []int64{2, 7, 1}}
	provider := &fakeProvider{}

	svc := NewRetrievalService(store, provider, index, ranker, RetrievalConfig{})
	got, err := svc.Retrieve(context.Background(), RetrieveRequest{Query: "  when the code   compiles ", K: 5, FinalCount: 3})
	require.NoError(t, err)

	assert.Equal(t, []RankedImage{{ImageID: 2, Rank: 1}, {ImageID: 7, Rank: 2}, {ImageID: 1, Rank: 3}}, got)
	assert.Equal(t, []int64{7, 2, 9, 1, 4}, ranker.seen, "candidates keep index order")
	assert.Equal(t, 3, ranker.countAsked)
	assert.Equal(t, 5, index.lastK)
	assert.Equal(t, TaskQuery, provider.lastTask)
}

func TestRetrieve_DropsMissingAndNotReady(t *testing.T) {
	store, index := newRetrievalFixture(1, 3)
	store.put(2, domain.StatusDeleted, "Caption: gone")
	store.put(5, domain.StatusCaptioned, "Caption: not yet")
	index.searchHits = hits(1, 2, 3, 4, 5)
	ranker := &fakeRanker{order: []int64{3, 1}}

	svc := NewRetrievalService(store, &fakeProvider{}, index, ranker, RetrievalConfig{})
	got, err := svc.Retrieve(context.Background(), RetrieveRequest{Query: "q", K: 5, FinalCount: 5})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3}, ranker.seen)
	assert.Equal(t, 2, ranker.countAsked, "count shrinks to the candidate pool")
	assert.Equal(t, []RankedImage{{ImageID: 3, Rank: 1}, {ImageID: 1, Rank: 2}}, got)
}

func TestRetrieve_EmptyCandidatesIsSuccess(t *testing.T) {
	store, index := newRetrievalFixture()
	ranker := &fakeRanker{}

	svc := NewRetrievalService(store, &fakeProvider{}, index, ranker, RetrievalConfig{})
	got, err := svc.Retrieve(context.Background(), RetrieveRequest{Query: "nothing here"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Nil(t, ranker.seen, "ranker is not called")
}

func TestRetrieve_FailuresWrapRetrievalError(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *fakeProvider, idx *fakeIndex, r *fakeRanker)
	}{
		{"embed", func(p *fakeProvider, idx *fakeIndex, r *fakeRanker) { p.failures = 10 }},
		{"search", func(p *fakeProvider, idx *fakeIndex, r *fakeRanker) { idx.searchErr = errInjected }},
		{"rank", func(p *fakeProvider, idx *fakeIndex, r *fakeRanker) { r.err = errInjected }},
		{"short rank", func(p *fakeProvider, idx *fakeIndex, r *fakeRanker) { r.order = []int64{1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, index := newRetrievalFixture(1, 2, 3)
			index.searchHits = hits(1, 2, 3)
			provider := &fakeProvider{}
			ranker := &fakeRanker{order: []int64{1, 2}}
			tt.setup(provider, index, ranker)

			svc := NewRetrievalService(store, provider, index, ranker, RetrievalConfig{MaxAttempts: 2})
			got, err := svc.Retrieve(context.Background(), RetrieveRequest{Query: "q", K: 3, FinalCount: 2})
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrRetrieval))
			assert.Nil(t, got)
		})
	}
}

func TestRetrieve_InvalidRequest(t *testing.T) {
	store, index := newRetrievalFixture()
	svc := NewRetrievalService(store, &fakeProvider{}, index, &fakeRanker{}, RetrievalConfig{})

	tests := []struct {
		name string
		req  RetrieveRequest
	}{
		{"empty query", RetrieveRequest{Query: "   "}},
		{"final above k", RetrieveRequest{Query: "q", K: 3, FinalCount: 4}},
		{"negative final", RetrieveRequest{Query: "q", K: 3, FinalCount: -1}},
		{"negative k", RetrieveRequest{Query: "q", K: -1, FinalCount: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Retrieve(context.Background(), tt.req)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
			assert.NotErrorIs(t, err, domain.ErrRetrieval)
		})
	}
}

func TestRetrieve_TagFilterAndCache(t *testing.T) {
	store, index := newRetrievalFixture(1)
	index.searchHits = hits(1)
	provider := &fakeProvider{}

	svc := NewRetrievalService(store, provider, index, &fakeRanker{order: []int64{1}}, RetrievalConfig{
		QueryCacheSize: 10,
		QueryCacheTTL:  time.Minute,
	})
	ctx := context.Background()

	_, err := svc.Retrieve(ctx, RetrieveRequest{Query: "Cat", FinalCount: 1, Tags: []string{"animal", "animal"}})
	require.NoError(t, err)
	require.NotNil(t, index.lastFilter)
	assert.Equal(t, []string{"animal"}, index.lastFilter.Tags)

	_, err = svc.Retrieve(ctx, RetrieveRequest{Query: "  Cat ", FinalCount: 1})
	require.NoError(t, err)
	assert.Nil(t, index.lastFilter)
	assert.Equal(t, 1, provider.callCount(), "second query served from cache")
}

func TestRetrieve_CacheKeepsQueryCase(t *testing.T) {
	store, index := newRetrievalFixture(1)
	index.searchHits = hits(1)
	provider := &fakeProvider{}

	svc := NewRetrievalService(store, provider, index, &fakeRanker{order: []int64{1}}, RetrievalConfig{
		QueryCacheSize: 10,
		QueryCacheTTL:  time.Minute,
	})
	ctx := context.Background()

	for _, q := range []string{"LOL   Cat", "lol cat", " LOL Cat ", "lol  cat"} {
		_, err := svc.Retrieve(ctx, RetrieveRequest{Query: q, FinalCount: 1})
		require.NoError(t, err, q)
	}

	assert.Equal(t, 2, provider.callCount())
	assert.Equal(t, []string{"LOL Cat", "lol cat"}, provider.texts, "each cached vector comes from the text it is keyed on")
}

func TestQueryVectorCache(t *testing.T) {
	cache := newQueryVectorCache(3, 100*time.Millisecond)

	cache.Set("query1", []float32{1})
	cache.Set("query2", []float32{2})
	cache.Set("query3", []float32{3})

	for i, q := range []string{"query1", "query2", "query3"} {
		v, ok := cache.Get(q)
		require.True(t, ok, q)
		assert.Equal(t, float32(i+1), v[0])
	}

	// query1 is the least recently used after the reads above.
	cache.Set("query4", []float32{4})
	_, ok := cache.Get("query1")
	assert.False(t, ok, "query1 should have been evicted")
	_, ok = cache.Get("query2")
	assert.True(t, ok)
	assert.Equal(t, 3, cache.Len())

	time.Sleep(150 * time.Millisecond)
	_, ok = cache.Get("query2")
	assert.False(t, ok, "query2 should have expired")
}

func TestQueryVectorCache_Normalization(t *testing.T) {
	cache := newQueryVectorCache(10, time.Hour)
	cache.Set("  Test   Query  ", []float32{1})

	tests := []struct {
		query string
		hit   bool
	}{
		{"Test Query", true},
		{"  Test Query  ", true},
		{"Test\tQuery", true},
		{"test query", false},
		{"TEST QUERY", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, ok := cache.Get(tt.query)
			assert.Equal(t, tt.hit, ok)
		})
	}
}
