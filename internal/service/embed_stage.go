package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/logger"
	"github.com/timmy/memeprep/internal/repository"
)

// EmbeddingStore is the part of the record store the embedding stage needs.
type EmbeddingStore interface {
	ListByStatus(ctx context.Context, status domain.ImageStatus) ([]domain.ImageRecord, error)
	TagsFor(ctx context.Context, ids []int64) (map[int64][]string, error)
	AdvanceToReady(ctx context.Context, ids []int64) (int64, error)
}

// EmbeddingStageConfig holds batch, commit and retry settings.
type EmbeddingStageConfig struct {
	BatchSize   int
	CommitSize  int
	MaxAttempts int
	RetryDelay  time.Duration
}

// EmbeddingStats holds statistics for an embedding run.
type EmbeddingStats struct {
	Total         int
	Embedded      int
	Indexed       int
	Advanced      int
	FailedCommits int
}

// Counters implements domain.RunCounters.
func (s *EmbeddingStats) Counters() (int, int, int, int) {
	return s.Total, s.Advanced, 0, s.Total - s.Advanced
}

// EmbeddingStage moves CAPTIONED records to READY by indexing their vectors.
type EmbeddingStage struct {
	store    EmbeddingStore
	provider EmbeddingProvider
	index    repository.VectorIndex
	cfg      EmbeddingStageConfig
}

// NewEmbeddingStage creates a new embedding stage.
func NewEmbeddingStage(store EmbeddingStore, provider EmbeddingProvider, index repository.VectorIndex, cfg EmbeddingStageConfig) *EmbeddingStage {
	if cfg.BatchSize <= 0 || cfg.BatchSize > 100 {
		cfg.BatchSize = 100
	}
	if cfg.CommitSize <= 0 {
		cfg.CommitSize = 500
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &EmbeddingStage{store: store, provider: provider, index: index, cfg: cfg}
}

// Run embeds every CAPTIONED record. Records are processed one commit chunk at
// a time: embed in sub-batches, normalize, upsert the chunk, then advance it to
// READY. A failed upsert leaves its chunk CAPTIONED and the run continues. An
// embedding call that still fails after its retries aborts the run; chunks
// committed before that stay READY.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - *EmbeddingStats: counters for the run.
//   - error: non-nil when the records cannot be read or embedding fails.
func (s *EmbeddingStage) Run(ctx context.Context) (*EmbeddingStats, error) {
	stats := &EmbeddingStats{}
	start := time.Now()

	records, err := s.store.ListByStatus(ctx, domain.StatusCaptioned)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch captioned records: %w", err)
	}
	stats.Total = len(records)
	if len(records) == 0 {
		logger.CtxInfo(ctx, "No captioned records to embed")
		return stats, nil
	}

	ids := make([]int64, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	tags, err := s.store.TagsFor(ctx, ids)
	if err != nil {
		return stats, fmt.Errorf("failed to load tags: %w", err)
	}

	logger.CtxInfo(ctx, "Starting embedding: captioned=%d, model=%s, commit_size=%d",
		len(records), s.provider.Model(), s.cfg.CommitSize)

	for n, part := range chunk(records, s.cfg.CommitSize) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		chunkCtx := logger.WithField(ctx, logger.FieldBatch, n+1)

		texts := make([]string, len(part))
		for i, rec := range part {
			texts[i] = buildEmbeddingText(rec.CaptionText(), tags[rec.ID])
		}

		vectors, err := s.embedAll(chunkCtx, texts)
		if err != nil {
			logger.With(logger.Fields{"embedded": stats.Embedded, "advanced": stats.Advanced}).
				WithError(err, domain.ErrorKind(err)).Error(chunkCtx, "Embedding aborted")
			return stats, fmt.Errorf("failed to embed chunk %d: %w", n+1, err)
		}
		stats.Embedded += len(vectors)

		points := make([]repository.VectorPoint, len(part))
		chunkIDs := make([]int64, len(part))
		for i, rec := range part {
			points[i] = repository.VectorPoint{ImageID: rec.ID, Vector: vectors[i], Tags: tags[rec.ID]}
			chunkIDs[i] = rec.ID
		}

		if err := s.index.Upsert(chunkCtx, points); err != nil {
			stats.FailedCommits++
			logger.With(logger.Fields{"image_ids": chunkIDs}).WithCount(len(points)).
				WithError(err, "store_write").Error(chunkCtx, "Failed to commit vectors")
			continue
		}
		stats.Indexed += len(points)

		advanced, err := s.store.AdvanceToReady(chunkCtx, chunkIDs)
		if err != nil {
			// Vectors are in the index; the next run re-upserts them idempotently.
			stats.FailedCommits++
			logger.With(logger.Fields{"image_ids": chunkIDs}).
				WithError(err, "store_write").Error(chunkCtx, "Failed to advance records to READY")
			continue
		}
		stats.Advanced += int(advanced)
		logger.With(logger.Fields{"advanced": advanced}).WithCount(len(points)).Info(chunkCtx, "Vectors committed")
	}

	logger.With(logger.Fields{
		"indexed":        stats.Indexed,
		"advanced":       stats.Advanced,
		"failed_commits": stats.FailedCommits,
	}).WithDuration(time.Since(start).Milliseconds()).Info(ctx, "Embedding completed")

	return stats, nil
}

// embedAll embeds texts in provider-sized sub-batches, each under the fixed-delay retry policy.
func (s *EmbeddingStage) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range chunk(texts, s.cfg.BatchSize) {
		vectors, err := embedWithRetry(ctx, s.provider, batch, TaskPassage, RetryPolicy{
			MaxAttempts: s.cfg.MaxAttempts,
			Backoff:     FixedBackoff(s.cfg.RetryDelay),
			OnRetry: func(attempt int, err error) {
				logger.With(logger.Fields{logger.FieldAttempt: attempt}).WithCount(len(batch)).
					WithError(err, domain.ErrorKind(err)).Warn(ctx, "Retrying embedding call")
			},
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// embedWithRetry calls the provider and normalizes the result; a wrong count or
// a zero vector counts as a failed attempt.
func embedWithRetry(ctx context.Context, provider EmbeddingProvider, texts []string, task EmbeddingTask, policy RetryPolicy) ([][]float32, error) {
	var vectors [][]float32
	outcome := Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		res, err := provider.Embed(ctx, texts, task)
		if err != nil {
			return err
		}
		if len(res) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrMalformedOutput, len(res), len(texts))
		}
		for i := range res {
			if _, err := Normalize(res[i]); err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
		}
		vectors = res
		return nil
	})
	if outcome.Kind != domain.OutcomeSucceeded {
		return nil, fmt.Errorf("embedding failed after %d attempts: %w", outcome.Attempts, outcome.Err)
	}
	return vectors, nil
}
