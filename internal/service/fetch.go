package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/logger"
	"github.com/timmy/memeprep/internal/storage"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// LocalContent is the local image store the fetch stage writes into.
type LocalContent interface {
	Exists(imageID int64) bool
	Write(imageID int64, data []byte) error
}

// PendingLister lists records by status.
type PendingLister interface {
	ListByStatus(ctx context.Context, status domain.ImageStatus) ([]domain.ImageRecord, error)
}

// FetchConfig holds download and conversion settings.
type FetchConfig struct {
	Timeout           time.Duration
	Concurrency       int
	RequestsPerSecond float64
	MaxAttempts       int
	BackoffBase       time.Duration
	JPEGQuality       int
	MinWidth          int
	MinHeight         int
}

// FetchStats holds statistics for a fetch run.
type FetchStats struct {
	Total      int
	Downloaded int
	Present    int
	TooSmall   int
	Failed     int
}

// Counters implements domain.RunCounters. Already present and undersized images are skips.
func (s *FetchStats) Counters() (int, int, int, int) {
	return s.Total, s.Downloaded, s.Present + s.TooSmall, s.Failed
}

// FetchService downloads and converts the content of PENDING records.
type FetchService struct {
	store   PendingLister
	content LocalContent
	client  *resty.Client
	limiter *rate.Limiter
	cfg     FetchConfig
}

// NewFetchService creates a new fetch stage.
func NewFetchService(store PendingLister, content LocalContent, cfg FetchConfig) *FetchService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = storage.DefaultJPEGQuality
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", "memeprep/1.0")

	return &FetchService{
		store:   store,
		content: content,
		client:  client,
		limiter: rate.NewLimiter(limit, cfg.Concurrency),
		cfg:     cfg,
	}
}

// Run fetches every PENDING record that has no local content yet.
// Parameters:
//   - ctx: context for cancellation.
//   - limit: maximum number of records to fetch, 0 for all.
// Returns:
//   - *FetchStats: counters for the run.
//   - error: non-nil if the records cannot be listed or ctx is cancelled.
func (s *FetchService) Run(ctx context.Context, limit int) (*FetchStats, error) {
	stats := &FetchStats{}
	start := time.Now()

	records, err := s.store.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch pending records: %w", err)
	}

	todo := make([]domain.ImageRecord, 0, len(records))
	for _, rec := range records {
		if s.content.Exists(rec.ID) {
			stats.Present++
			continue
		}
		if limit > 0 && len(todo) >= limit {
			break
		}
		todo = append(todo, rec)
	}
	stats.Total = len(todo) + stats.Present

	logger.CtxInfo(ctx, "Starting fetch: missing=%d, present=%d, concurrency=%d",
		len(todo), stats.Present, s.cfg.Concurrency)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, rec := range todo {
		rec := rec
		g.Go(func() error {
			outcome := s.fetchOne(gctx, rec)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case outcome.Kind == domain.OutcomeSucceeded:
				stats.Downloaded++
			case errors.Is(outcome.Err, domain.ErrTooSmall):
				stats.TooSmall++
			default:
				stats.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	logger.With(logger.Fields{
		"downloaded": stats.Downloaded,
		"too_small":  stats.TooSmall,
		"failed":     stats.Failed,
	}).WithDuration(time.Since(start).Milliseconds()).Info(ctx, "Fetch completed")

	return stats, nil
}

func (s *FetchService) fetchOne(ctx context.Context, rec domain.ImageRecord) domain.Outcome {
	ctx = logger.WithField(ctx, logger.FieldImageID, rec.ID)

	outcome := Retry(ctx, RetryPolicy{
		MaxAttempts: s.cfg.MaxAttempts,
		Backoff:     ExponentialBackoff(s.cfg.BackoffBase),
	}, func(ctx context.Context, attempt int) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		data, err := s.download(ctx, rec.OriginalURL)
		if err != nil {
			return err
		}
		jpeg, _, err := storage.ToJPEG(data, storage.ConvertOptions{
			Quality:   s.cfg.JPEGQuality,
			MinWidth:  s.cfg.MinWidth,
			MinHeight: s.cfg.MinHeight,
		})
		if err != nil {
			return err
		}
		return s.content.Write(rec.ID, jpeg)
	})

	switch outcome.Kind {
	case domain.OutcomeSucceeded:
		logger.FromContext(ctx).Debugf("Image fetched")
	case domain.OutcomeSkipped:
		logger.With(logger.Fields{logger.FieldStatus: "skipped"}).
			WithError(outcome.Err, domain.ErrorKind(outcome.Err)).Info(ctx, "Image skipped")
	default:
		logger.With(logger.Fields{"url": rec.OriginalURL, logger.FieldAttempt: outcome.Attempts}).
			WithError(outcome.Err, domain.ErrorKind(outcome.Err)).Warn(ctx, "Failed to fetch image")
	}
	return outcome
}

func (s *FetchService) download(ctx context.Context, url string) ([]byte, error) {
	resp, err := s.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode())
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("download returned empty body")
	}
	return body, nil
}
