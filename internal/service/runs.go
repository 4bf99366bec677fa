package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/logger"
)

// StageFunc runs one pipeline stage and returns its counters.
type StageFunc func(ctx context.Context) (domain.RunCounters, error)

// RunJournal persists stage runs.
type RunJournal interface {
	Create(ctx context.Context, run *domain.StageRun) error
	Save(ctx context.Context, run *domain.StageRun) error
}

// RunTracker records each stage execution with its counters. A nil journal
// only logs.
type RunTracker struct {
	journal RunJournal
	now     func() time.Time
}

// NewRunTracker creates a tracker writing to journal.
func NewRunTracker(journal RunJournal) *RunTracker {
	return &RunTracker{journal: journal, now: time.Now}
}

// Track runs fn as one journaled execution of stage. The context passed to fn
// carries the run id and stage for logging. Journal write failures are logged
// and never fail the stage.
func (t *RunTracker) Track(ctx context.Context, stage domain.Stage, fn StageFunc) (*domain.StageRun, error) {
	run := &domain.StageRun{
		ID:        uuid.New().String(),
		Stage:     stage,
		Status:    domain.JobStatusRunning,
		StartedAt: t.now(),
	}
	ctx = logger.SetRun(ctx, string(stage), run.ID)

	if t.journal != nil {
		if err := t.journal.Create(ctx, run); err != nil {
			logger.With(logger.Fields{}).WithError(err, "store_write").Warn(ctx, "Failed to journal stage run")
		}
	}
	logger.CtxInfo(ctx, "Stage started")

	counters, err := fn(ctx)

	finished := t.now()
	run.FinishedAt = &finished
	if counters != nil {
		run.Total, run.Succeeded, run.Skipped, run.Failed = counters.Counters()
	}
	run.Status = domain.JobStatusCompleted
	if err != nil {
		run.Status = domain.JobStatusFailed
		run.ErrorMessage = err.Error()
	}

	if t.journal != nil {
		if saveErr := t.journal.Save(ctx, run); saveErr != nil {
			logger.With(logger.Fields{}).WithError(saveErr, "store_write").Warn(ctx, "Failed to update stage run")
		}
	}

	entry := logger.With(logger.Fields{
		logger.FieldStatus: run.Status,
		"total":            run.Total,
		"succeeded":        run.Succeeded,
		"skipped":          run.Skipped,
		"failed":           run.Failed,
	}).WithDuration(finished.Sub(run.StartedAt).Milliseconds())
	if err != nil {
		entry.WithError(err, domain.ErrorKind(err)).Error(ctx, "Stage failed")
	} else {
		entry.Info(ctx, "Stage finished")
	}

	return run, err
}
