package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/memeprep/internal/domain"
)

// fakeCaptioner annotates every image except those whose first payload byte is listed in failFor.
type fakeCaptioner struct {
	mu      sync.Mutex
	failFor map[byte]bool
	calls   map[byte]int
}

func newFakeCaptioner(fail ...byte) *fakeCaptioner {
	c := &fakeCaptioner{failFor: map[byte]bool{}, calls: map[byte]int{}}
	for _, id := range fail {
		c.failFor[id] = true
	}
	return c
}

func (c *fakeCaptioner) Annotate(ctx context.Context, jpeg []byte) (*domain.Annotation, error) {
	id := jpeg[len(jpeg)-1]
	c.mu.Lock()
	c.calls[id]++
	fail := c.failFor[id]
	c.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return &domain.Annotation{
		OCR:     "",
		Caption: "a cat staring",
		Humor:   "relatable",
		Tags:    []string{domain.TagFunny, domain.TagAnimal},
	}, nil
}

func (c *fakeCaptioner) callsFor(id byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func newAnnotationFixture(ids ...int64) *memStore {
	store := newMemStore()
	for _, id := range ids {
		store.put(id, domain.StatusPending, "")
	}
	return store
}

func TestAnnotationService_PartialFailure(t *testing.T) {
	ctx := context.Background()
	store := newAnnotationFixture(1, 2, 3)
	captioner := newFakeCaptioner(2)

	svc := NewAnnotationService(store, newMemContent(1, 2, 3), captioner, AnnotationConfig{
		BatchSize:   10,
		MaxAttempts: 2,
		MaxRounds:   2,
		Concurrency: 2,
	})

	stats, err := svc.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCaptioned, store.status(1))
	assert.Equal(t, domain.StatusPending, store.status(2))
	assert.Equal(t, domain.StatusCaptioned, store.status(3))

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Captioned)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.Rounds)
	assert.Equal(t, []int64{2}, stats.Exhausted)
	// 2 attempts per round, 2 rounds.
	assert.Equal(t, 4, captioner.callsFor(2))
	assert.Equal(t, 1, captioner.callsFor(1))

	caption := *store.records[1].Caption
	assert.Equal(t, "Caption: a cat staring\nHumor: relatable", caption)
	assert.Equal(t, []string{"funny", "animal"}, store.tags[1])

	t.Run("rerun picks up only the leftover record", func(t *testing.T) {
		delete(captioner.failFor, 2)
		rerun := NewAnnotationService(store, newMemContent(1, 2, 3), captioner, AnnotationConfig{
			BatchSize:   10,
			MaxAttempts: 2,
			MaxRounds:   2,
			Concurrency: 2,
		})

		stats, err := rerun.Run(ctx)
		require.NoError(t, err)

		for _, id := range []int64{1, 2, 3} {
			assert.Equal(t, domain.StatusCaptioned, store.status(id), "image %d", id)
		}
		assert.Equal(t, 1, stats.Total)
		assert.Equal(t, 1, stats.Captioned)
		assert.Empty(t, stats.Exhausted)
		assert.Equal(t, 5, captioner.callsFor(2))
		assert.Equal(t, 1, captioner.callsFor(1))
		assert.Equal(t, 1, captioner.callsFor(3))
	})
}

func TestAnnotationService_MissingContentIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := newAnnotationFixture(1, 2)
	captioner := newFakeCaptioner()

	svc := NewAnnotationService(store, newMemContent(1), captioner, AnnotationConfig{MaxAttempts: 3, MaxRounds: 2})
	stats, err := svc.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCaptioned, store.status(1))
	assert.Equal(t, domain.StatusPending, store.status(2))
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 1, stats.Rounds, "skips are not retried")
	assert.Equal(t, 0, captioner.callsFor(2))
}

func TestAnnotationService_CommitFailure(t *testing.T) {
	ctx := context.Background()
	store := newAnnotationFixture(1, 2, 3)
	store.failCaptioned = true

	svc := NewAnnotationService(store, newMemContent(1, 2, 3), newFakeCaptioner(), AnnotationConfig{
		BatchSize:   2,
		MaxAttempts: 1,
		MaxRounds:   3,
	})
	stats, err := svc.Run(ctx)
	require.NoError(t, err)

	for _, id := range []int64{1, 2, 3} {
		assert.Equal(t, domain.StatusPending, store.status(id))
	}
	assert.Equal(t, 2, stats.FailedBatches)
	assert.Equal(t, 3, stats.Failed)
	assert.Equal(t, 0, stats.Captioned)
	assert.Equal(t, 2, store.captionedCalls, "failed commits are not retried")
}

func TestAnnotationService_NothingPending(t *testing.T) {
	svc := NewAnnotationService(newMemStore(), newMemContent(), newFakeCaptioner(), AnnotationConfig{})
	stats, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.Rounds)
}

func TestAnnotationService_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newAnnotationFixture(1)
	svc := NewAnnotationService(store, newMemContent(1), newFakeCaptioner(), AnnotationConfig{})
	_, err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StatusPending, store.status(1))
}

func TestFetchBatches(t *testing.T) {
	store := newAnnotationFixture(1, 2, 3, 4, 5)
	store.put(6, domain.StatusReady, "x")

	svc := NewAnnotationService(store, newMemContent(), newFakeCaptioner(), AnnotationConfig{})
	batches, err := svc.FetchBatches(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, []int64{1, 2}, idsOf(batches[0]))
	assert.Equal(t, []int64{5}, idsOf(batches[2]))
}
