package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/logger"
	"github.com/timmy/memeprep/internal/storage"
)

// PublishStore is the part of the record store the publish stage needs.
type PublishStore interface {
	ListPublishable(ctx context.Context) ([]domain.ImageRecord, error)
	SetCloudURL(ctx context.Context, id int64, url string) error
}

// PublishStats holds statistics for a publish run.
type PublishStats struct {
	Total     int
	Published int
	Skipped   int
	Failed    int
}

// Counters implements domain.RunCounters.
func (s *PublishStats) Counters() (int, int, int, int) {
	return s.Total, s.Published, s.Skipped, s.Failed
}

// PublishService uploads READY images to object storage and records their cloud_url.
type PublishService struct {
	store       PublishStore
	content     ContentStore
	objects     storage.ObjectStorage
	maxAttempts int
}

// NewPublishService creates a new publish stage.
func NewPublishService(store PublishStore, content ContentStore, objects storage.ObjectStorage, maxAttempts int) *PublishService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &PublishService{store: store, content: content, objects: objects, maxAttempts: maxAttempts}
}

// Run publishes every READY record without a cloud_url.
func (s *PublishService) Run(ctx context.Context) (*PublishStats, error) {
	stats := &PublishStats{}
	start := time.Now()

	records, err := s.store.ListPublishable(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list publishable records: %w", err)
	}
	stats.Total = len(records)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		itemCtx := logger.WithField(ctx, logger.FieldImageID, rec.ID)

		url, err := s.publishOne(itemCtx, rec.ID)
		switch {
		case errors.Is(err, domain.ErrContentMissing):
			stats.Skipped++
			logger.FromContext(itemCtx).Debugf("No local content, skipping")
			continue
		case err != nil:
			stats.Failed++
			logger.With(logger.Fields{}).WithError(err, domain.ErrorKind(err)).Warn(itemCtx, "Failed to upload image")
			continue
		}

		if err := s.store.SetCloudURL(itemCtx, rec.ID, url); err != nil {
			stats.Failed++
			logger.With(logger.Fields{}).WithError(err, "store_write").Error(itemCtx, "Failed to record cloud_url")
			continue
		}
		stats.Published++
	}

	logger.With(logger.Fields{
		"published": stats.Published,
		"skipped":   stats.Skipped,
		"failed":    stats.Failed,
	}).WithDuration(time.Since(start).Milliseconds()).Info(ctx, "Publish completed")

	return stats, nil
}

// publishOne uploads the image unless an earlier run already stored it under its key.
func (s *PublishService) publishOne(ctx context.Context, imageID int64) (string, error) {
	key := storage.ImageKey(imageID)
	exists, err := s.objects.Exists(ctx, key)
	if err != nil {
		logger.With(logger.Fields{"key": key}).WithError(err, "storage").Debug(ctx, "Existence check failed, uploading")
	}
	if exists {
		logger.CtxDebug(ctx, "Object already stored, recording its URL")
		return s.objects.GetURL(key), nil
	}

	data, err := s.content.Read(imageID)
	if err != nil {
		return "", err
	}

	outcome := Retry(ctx, RetryPolicy{
		MaxAttempts: s.maxAttempts,
		Backoff:     ExponentialBackoff(500 * time.Millisecond),
	}, func(ctx context.Context, attempt int) error {
		return s.objects.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "image/jpeg")
	})
	if outcome.Kind != domain.OutcomeSucceeded {
		return "", outcome.Err
	}
	return s.objects.GetURL(key), nil
}
