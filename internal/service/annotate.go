package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ContentStore reads the local JPEG of a record.
type ContentStore interface {
	// Read returns the image bytes or an error wrapping domain.ErrContentMissing.
	Read(imageID int64) ([]byte, error)
}

// AnnotationStore is the part of the record store the annotation stage needs.
type AnnotationStore interface {
	ListByStatus(ctx context.Context, status domain.ImageStatus) ([]domain.ImageRecord, error)
	AdvanceToCaptioned(ctx context.Context, items []domain.CaptionedItem) (int64, error)
}

// AnnotationConfig holds configuration for the annotation stage.
type AnnotationConfig struct {
	BatchSize         int
	MaxAttempts       int
	MaxRounds         int
	Concurrency       int
	RequestsPerSecond float64
	BackoffBase       time.Duration
}

// AnnotationStats holds statistics for an annotation run.
type AnnotationStats struct {
	Total         int
	Batches       int
	Captioned     int
	Skipped       int
	Failed        int
	FailedBatches int
	Rounds        int
	Exhausted     []int64
}

// Counters implements domain.RunCounters.
func (s *AnnotationStats) Counters() (int, int, int, int) {
	return s.Total, s.Captioned, s.Skipped, s.Failed
}

// AnnotationService moves PENDING records to CAPTIONED.
type AnnotationService struct {
	store     AnnotationStore
	content   ContentStore
	captioner Captioner
	limiter   *rate.Limiter
	cfg       AnnotationConfig
}

// NewAnnotationService creates a new annotation stage.
// Parameters:
//   - store: record store.
//   - content: local image content.
//   - captioner: vision model client.
//   - cfg: batch size, retry and concurrency settings; zero values take defaults.
// Returns:
//   - *AnnotationService: initialized stage.
func NewAnnotationService(store AnnotationStore, content ContentStore, captioner Captioner, cfg AnnotationConfig) *AnnotationService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 2
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BackoffBase < 0 {
		cfg.BackoffBase = 0
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &AnnotationService{
		store:     store,
		content:   content,
		captioner: captioner,
		limiter:   rate.NewLimiter(limit, cfg.Concurrency),
		cfg:       cfg,
	}
}

// FetchBatches splits the PENDING records into id-ordered batches.
func (s *AnnotationService) FetchBatches(ctx context.Context, size int) ([][]domain.ImageRecord, error) {
	records, err := s.store.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending records: %w", err)
	}
	return chunk(records, size), nil
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// Run annotates every PENDING record. Round 1 covers all of them; later rounds
// re-batch the items that failed. Each batch commits once with only its
// successful items. A failed commit leaves its batch PENDING and the run goes on.
// Parameters:
//   - ctx: context for cancellation; checked between batches and during retry sleeps.
// Returns:
//   - *AnnotationStats: counters for the run.
//   - error: non-nil if the pending records cannot be listed or ctx is cancelled.
func (s *AnnotationService) Run(ctx context.Context) (*AnnotationStats, error) {
	stats := &AnnotationStats{}
	start := time.Now()

	records, err := s.store.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch pending records: %w", err)
	}
	stats.Total = len(records)

	byID := make(map[int64]domain.ImageRecord, len(records))
	ids := make([]int64, len(records))
	for i, rec := range records {
		byID[rec.ID] = rec
		ids[i] = rec.ID
	}

	logger.CtxInfo(ctx, "Starting annotation: pending=%d, batch_size=%d, max_rounds=%d",
		len(records), s.cfg.BatchSize, s.cfg.MaxRounds)

	queue := NewRetryQueue(ids, s.cfg.MaxRounds)
	for {
		round, roundIDs, ok := queue.Next()
		if !ok {
			break
		}
		stats.Rounds = round
		if round > 1 {
			logger.With(logger.Fields{logger.FieldRound: round}).WithCount(len(roundIDs)).
				Info(ctx, "Retrying failed items")
		}

		for i, batchIDs := range chunk(roundIDs, s.cfg.BatchSize) {
			if err := ctx.Err(); err != nil {
				s.finish(stats, queue)
				return stats, err
			}
			stats.Batches++

			batch := make([]domain.ImageRecord, len(batchIDs))
			for j, id := range batchIDs {
				batch[j] = byID[id]
			}
			s.runBatch(ctx, round, i+1, batch, queue, stats)
		}
	}

	s.finish(stats, queue)

	if len(stats.Exhausted) > 0 {
		logger.With(logger.Fields{"image_ids": stats.Exhausted}).WithCount(len(stats.Exhausted)).
			Warn(ctx, "Items still failing after %d rounds", stats.Rounds)
	}
	logger.With(logger.Fields{
		"captioned":      stats.Captioned,
		"skipped":        stats.Skipped,
		"failed":         stats.Failed,
		"failed_batches": stats.FailedBatches,
		"rounds":         stats.Rounds,
	}).WithDuration(time.Since(start).Milliseconds()).Info(ctx, "Annotation completed")

	return stats, nil
}

func (s *AnnotationService) finish(stats *AnnotationStats, queue *RetryQueue) {
	stats.Exhausted = queue.Finish()
	stats.Skipped = queue.Count(QueueSkipped)
	stats.Failed = len(stats.Exhausted) + queue.Count(QueueFailed)
}

// runBatch annotates one batch concurrently and commits the successes in one transaction.
func (s *AnnotationService) runBatch(ctx context.Context, round, batchNo int, batch []domain.ImageRecord, queue *RetryQueue, stats *AnnotationStats) {
	batchCtx := logger.WithFields(ctx, logger.Fields{logger.FieldRound: round, logger.FieldBatch: batchNo})

	outcomes := make([]domain.Outcome, len(batch))
	annotations := make([]*domain.Annotation, len(batch))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := range batch {
		i := i
		g.Go(func() error {
			annotations[i], outcomes[i] = s.annotateOne(batchCtx, batch[i].ID)
			return nil
		})
	}
	_ = g.Wait()

	items := make([]domain.CaptionedItem, 0, len(batch))
	for i, rec := range batch {
		switch outcomes[i].Kind {
		case domain.OutcomeSucceeded:
			items = append(items, domain.CaptionedItem{
				ImageID: rec.ID,
				Caption: annotations[i].ComposeCaption(),
				Tags:    annotations[i].Tags,
			})
		case domain.OutcomeSkipped:
			queue.Mark(rec.ID, domain.OutcomeSkipped)
		default:
			queue.Mark(rec.ID, outcomes[i].Kind)
			entry := logger.With(logger.Fields{
				logger.FieldImageID: rec.ID,
				logger.FieldAttempt: outcomes[i].Attempts,
			})
			if outcomes[i].Err != nil {
				entry = entry.WithError(outcomes[i].Err, domain.ErrorKind(outcomes[i].Err))
			}
			entry.Warn(batchCtx, "Annotation failed")
		}
	}

	if len(items) == 0 {
		return
	}

	advanced, err := s.store.AdvanceToCaptioned(ctx, items)
	if err != nil {
		stats.FailedBatches++
		for _, item := range items {
			queue.Mark(item.ImageID, domain.OutcomeFatal)
		}
		logger.With(logger.Fields{logger.FieldStatus: "commit_failed"}).WithCount(len(items)).
			WithError(err, "store_write").Error(batchCtx, "Failed to commit annotation batch")
		return
	}

	for _, item := range items {
		queue.Mark(item.ImageID, domain.OutcomeSucceeded)
	}
	stats.Captioned += int(advanced)
	logger.With(logger.Fields{"advanced": advanced}).WithCount(len(batch)).Info(batchCtx, "Annotation batch committed")
}

// annotateOne reads the content and calls the captioner under the retry policy.
func (s *AnnotationService) annotateOne(ctx context.Context, imageID int64) (*domain.Annotation, domain.Outcome) {
	ctx = logger.WithField(ctx, logger.FieldImageID, imageID)

	policy := RetryPolicy{
		MaxAttempts: s.cfg.MaxAttempts,
		Backoff:     ExponentialBackoff(s.cfg.BackoffBase),
		OnRetry: func(attempt int, err error) {
			logger.With(logger.Fields{logger.FieldAttempt: attempt}).
				WithError(err, domain.ErrorKind(err)).Debug(ctx, "Retrying annotation")
		},
	}

	var ann *domain.Annotation
	outcome := Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		data, err := s.content.Read(imageID)
		if err != nil {
			return err
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		result, err := s.captioner.Annotate(ctx, data)
		if err != nil {
			return err
		}
		ann = result
		return nil
	})
	return ann, outcome
}
