package repository

import (
	"context"
	"fmt"

	"github.com/timmy/memeprep/internal/domain"
	"gorm.io/gorm"
)

// StageRunRepository journals pipeline stage runs.
type StageRunRepository struct {
	db *gorm.DB
}

// NewStageRunRepository creates a new StageRunRepository.
func NewStageRunRepository(db *gorm.DB) *StageRunRepository {
	return &StageRunRepository{db: db}
}

// Create inserts a run record.
func (r *StageRunRepository) Create(ctx context.Context, run *domain.StageRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create stage run: %w", err)
	}
	return nil
}

// Save persists the current counters and status of a run.
func (r *StageRunRepository) Save(ctx context.Context, run *domain.StageRun) error {
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to save stage run %s: %w", run.ID, err)
	}
	return nil
}

// ListRecent returns the latest runs, newest first.
func (r *StageRunRepository) ListRecent(ctx context.Context, limit int) ([]domain.StageRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []domain.StageRun
	err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stage runs: %w", err)
	}
	return runs, nil
}
