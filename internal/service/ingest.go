package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/logger"
	"github.com/timmy/memeprep/internal/source"
)

// IngestService feeds source candidates through the dedup gate.
type IngestService struct {
	store          CandidateStore
	batchSize      int
	includeDeleted bool
}

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	BatchSize           int
	DedupIncludeDeleted bool
}

// NewIngestService creates a new ingest service
func NewIngestService(store CandidateStore, cfg *IngestConfig) *IngestService {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	return &IngestService{
		store:          store,
		batchSize:      batchSize,
		includeDeleted: cfg.DedupIncludeDeleted,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *IngestService) log(ctx context.Context) *logger.Logger {
	return logger.FromContext(ctx)
}

// IngestStats holds statistics for an ingestion run
type IngestStats struct {
	Total      int
	Registered int
	Duplicates int
	Invalid    int
	Failed     int
	StartTime  time.Time
	EndTime    time.Time
}

// Counters implements domain.RunCounters. Duplicates and invalid candidates are skips.
func (s *IngestStats) Counters() (int, int, int, int) {
	return s.Total, s.Registered, s.Duplicates + s.Invalid, s.Failed
}

// IngestFromSource pages through src and registers every candidate.
// Parameters:
//   - ctx: context for cancellation; checked between pages.
//   - src: candidate source.
//   - limit: maximum number of candidates to read; 0 reads everything.
// Returns:
//   - *IngestStats: counters for the run.
//   - error: non-nil if the gate cannot be seeded, a page cannot be read, or a store write fails.
func (s *IngestService) IngestFromSource(ctx context.Context, src source.Source, limit int) (*IngestStats, error) {
	stats := &IngestStats{StartTime: time.Now()}
	ctx = logger.WithField(ctx, logger.FieldSource, src.GetSourceID())

	gate, err := NewDedupGate(ctx, s.store, s.includeDeleted)
	if err != nil {
		return stats, err
	}

	s.log(ctx).WithFields(logger.Fields{
		"limit":      limit,
		"known_urls": gate.Seen(),
	}).Info("Starting ingestion")

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batchLimit := s.batchSize
		if limit > 0 {
			remaining := limit - stats.Total
			if remaining <= 0 {
				break
			}
			if batchLimit > remaining {
				batchLimit = remaining
			}
		}

		items, nextCursor, err := src.FetchBatch(ctx, cursor, batchLimit)
		if err != nil {
			return stats, fmt.Errorf("failed to fetch batch: %w", err)
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			stats.Total++
			id, created, err := gate.Register(ctx, item)
			switch {
			case errors.Is(err, domain.ErrInvalidCandidate):
				stats.Invalid++
				s.log(ctx).WithField("original_url", item.OriginalURL).Debugf("Skipping invalid candidate: %v", err)
			case err != nil:
				stats.Failed++
				stats.EndTime = time.Now()
				return stats, fmt.Errorf("failed to register candidate: %w", err)
			case created:
				stats.Registered++
				s.log(ctx).WithField(logger.FieldImageID, id).Debug("Registered candidate")
			default:
				stats.Duplicates++
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	stats.EndTime = time.Now()

	logger.With(logger.Fields{
		"total":      stats.Total,
		"registered": stats.Registered,
		"duplicates": stats.Duplicates,
		"invalid":    stats.Invalid,
	}).WithDuration(stats.EndTime.Sub(stats.StartTime).Milliseconds()).Info(ctx, "Ingestion completed")

	return stats, nil
}
