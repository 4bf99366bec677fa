package service

import (
	"context"
	"fmt"

	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/logger"
	"github.com/timmy/memeprep/internal/repository"
	"github.com/timmy/memeprep/internal/storage"
)

// CatalogStore is the record store as seen by browsing and operator commands.
type CatalogStore interface {
	GetByID(ctx context.Context, id int64) (*domain.ImageRecord, error)
	ListPage(ctx context.Context, page, size int, status *domain.ImageStatus) ([]domain.ImageRecord, int64, error)
	ListTags(ctx context.Context) ([]domain.Tag, error)
	StatusCounts(ctx context.Context) (map[domain.ImageStatus]int64, error)
	Like(ctx context.Context, id int64) (int, error)
	Unlike(ctx context.Context, id int64) (int, error)
	Popular(ctx context.Context, limit int) ([]domain.ImageRecord, error)
	SoftDelete(ctx context.Context, ids []int64) (int64, error)
	SetStatus(ctx context.Context, id int64, to domain.ImageStatus) error
}

// ImagePage is one page of a listing.
type ImagePage struct {
	Items []domain.ImageRecord `json:"items"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Size  int                  `json:"size"`
}

// ObjectRemover removes published objects.
type ObjectRemover interface {
	Delete(ctx context.Context, key string) error
}

// CatalogService serves record lookups and operator changes.
type CatalogService struct {
	store   CatalogStore
	index   repository.VectorIndex
	objects ObjectRemover
}

// NewCatalogService creates a catalog. index and objects may be nil; deletes
// then skip the vector index or the published copies.
func NewCatalogService(store CatalogStore, index repository.VectorIndex, objects ObjectRemover) *CatalogService {
	return &CatalogService{store: store, index: index, objects: objects}
}

// Get returns one record with its tags.
func (s *CatalogService) Get(ctx context.Context, id int64) (*domain.ImageRecord, error) {
	return s.store.GetByID(ctx, id)
}

// List returns one page, optionally filtered by status.
func (s *CatalogService) List(ctx context.Context, page, size int, status *domain.ImageStatus) (*ImagePage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	items, total, err := s.store.ListPage(ctx, page, size, status)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.ImageRecord{}
	}
	return &ImagePage{Items: items, Total: total, Page: page, Size: size}, nil
}

// Tags returns the vocabulary.
func (s *CatalogService) Tags(ctx context.Context) ([]domain.Tag, error) {
	return s.store.ListTags(ctx)
}

// Stats returns record counts per status.
func (s *CatalogService) Stats(ctx context.Context) (map[domain.ImageStatus]int64, error) {
	return s.store.StatusCounts(ctx)
}

func (s *CatalogService) Like(ctx context.Context, id int64) (int, error) {
	return s.store.Like(ctx, id)
}

func (s *CatalogService) Unlike(ctx context.Context, id int64) (int, error) {
	return s.store.Unlike(ctx, id)
}

// Popular returns the most liked READY records.
func (s *CatalogService) Popular(ctx context.Context, limit int) ([]domain.ImageRecord, error) {
	return s.store.Popular(ctx, limit)
}

// Delete soft-deletes the records and removes their vectors. A vector delete
// failure is logged; the records are DELETED either way and retrieval drops them.
func (s *CatalogService) Delete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no ids", domain.ErrInvalidRequest)
	}
	n, err := s.store.SoftDelete(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.purge(ctx, ids)
	logger.With(logger.Fields{"requested": len(ids)}).WithCount(int(n)).Info(ctx, "Records deleted")
	return n, nil
}

// SetStatus applies an operator status change to each id. Ids that fail are
// returned with their errors; the rest are applied.
func (s *CatalogService) SetStatus(ctx context.Context, ids []int64, to domain.ImageStatus) (int, map[int64]error) {
	failures := make(map[int64]error)
	applied := 0
	for _, id := range ids {
		if err := s.store.SetStatus(ctx, id, to); err != nil {
			failures[id] = err
			continue
		}
		applied++
	}
	if to == domain.StatusDeleted && applied > 0 {
		done := make([]int64, 0, applied)
		for _, id := range ids {
			if _, failed := failures[id]; !failed {
				done = append(done, id)
			}
		}
		s.purge(ctx, done)
	}
	return applied, failures
}

// purge drops the vectors and published objects of deleted records. Failures
// are logged; the records stay DELETED either way.
func (s *CatalogService) purge(ctx context.Context, ids []int64) {
	if s.index != nil {
		if err := s.index.Delete(ctx, ids); err != nil {
			logger.With(logger.Fields{"image_ids": ids}).
				WithError(err, "store_write").Warn(ctx, "Failed to delete vectors")
		}
	}
	if s.objects == nil {
		return
	}
	for _, id := range ids {
		key := storage.ImageKey(id)
		if err := s.objects.Delete(ctx, key); err != nil {
			logger.With(logger.Fields{logger.FieldImageID: id, "key": key}).
				WithError(err, "storage").Warn(ctx, "Failed to delete published object")
		}
	}
}
