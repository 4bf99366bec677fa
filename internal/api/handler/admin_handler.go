package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/logger"
	"github.com/timmy/memeprep/internal/service"
)

// StageTracker journals a stage execution around fn.
type StageTracker interface {
	Track(ctx context.Context, stage domain.Stage, fn service.StageFunc) (*domain.StageRun, error)
}

// RunLister lists recent stage runs.
type RunLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.StageRun, error)
}

// Deleter soft-deletes records.
type Deleter interface {
	Delete(ctx context.Context, ids []int64) (int64, error)
}

// AdminHandler handles admin operations. Only one stage runs at a time.
type AdminHandler struct {
	stages  map[domain.Stage]service.StageFunc
	tracker StageTracker
	runs    RunLister
	deleter Deleter

	// base is the context background runs derive from; cancelled on shutdown.
	base context.Context

	// Stage job state
	mu           sync.RWMutex
	isRunning    bool
	currentStage domain.Stage
	lastRun      *domain.StageRun
	wg           sync.WaitGroup
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - base: parent context for background stage runs.
//   - stages: runnable stages keyed by name.
//   - tracker: stage run journal.
//   - runs: optional lister for recent runs.
//   - deleter: record deletion service.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(base context.Context, stages map[domain.Stage]service.StageFunc, tracker StageTracker, runs RunLister, deleter Deleter) *AdminHandler {
	return &AdminHandler{
		stages:  stages,
		tracker: tracker,
		runs:    runs,
		deleter: deleter,
		base:    base,
	}
}

// StageStatusResponse represents the stage job status.
type StageStatusResponse struct {
	IsRunning    bool              `json:"is_running"`
	CurrentStage string            `json:"current_stage,omitempty"`
	Available    []string          `json:"available"`
	LastRun      *domain.StageRun  `json:"last_run,omitempty"`
	RecentRuns   []domain.StageRun `json:"recent_runs,omitempty"`
}

// TriggerStage handles POST /api/v1/admin/stages/:stage. The stage runs in the
// background; the response only confirms it started.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) TriggerStage(c *gin.Context) {
	ctx := c.Request.Context()

	stage, ok := domain.ParseStage(c.Param("stage"))
	fn, registered := h.stages[stage]
	if !ok || !registered {
		logger.CtxWarn(ctx, "Unknown stage requested: stage=%s, client_ip=%s", c.Param("stage"), c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown stage: " + c.Param("stage")})
		return
	}

	h.mu.Lock()
	if h.isRunning {
		running := h.currentStage
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Stage request rejected: stage=%s, running=%s", stage, running)
		c.JSON(http.StatusConflict, gin.H{"error": "Stage " + string(running) + " is already running"})
		return
	}
	h.isRunning = true
	h.currentStage = stage
	h.mu.Unlock()

	// Detach from the request so the run outlives it, but keep the request id.
	runCtx := logger.SetComponent(logger.SetRequestID(h.base, logger.GetRequestID(ctx)), "admin")

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		run, err := h.tracker.Track(runCtx, stage, fn)

		h.mu.Lock()
		h.isRunning = false
		h.currentStage = ""
		h.lastRun = run
		h.mu.Unlock()

		if err != nil {
			logger.CtxError(runCtx, "Background stage failed: stage=%s, error=%v", stage, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Stage " + string(stage) + " started",
		"stage":   stage,
	})
}

// GetStageStatus handles GET /api/v1/admin/stages/status.
func (h *AdminHandler) GetStageStatus(c *gin.Context) {
	ctx := c.Request.Context()

	h.mu.RLock()
	resp := StageStatusResponse{
		IsRunning:    h.isRunning,
		CurrentStage: string(h.currentStage),
		LastRun:      h.lastRun,
	}
	h.mu.RUnlock()

	for st := range h.stages {
		resp.Available = append(resp.Available, string(st))
	}
	sort.Strings(resp.Available)

	if h.runs != nil {
		recent, err := h.runs.ListRecent(ctx, 10)
		if err != nil {
			logger.CtxWarn(ctx, "Failed to list recent runs: %v", err)
		} else {
			resp.RecentRuns = recent
		}
	}

	logger.CtxDebug(ctx, "Stage status requested: client_ip=%s, is_running=%v", c.ClientIP(), resp.IsRunning)
	c.JSON(http.StatusOK, resp)
}

// DeleteRequest is the body of POST /api/v1/admin/images/delete.
type DeleteRequest struct {
	IDs []int64 `json:"ids" binding:"required,min=1,dive,min=1"`
}

// DeleteImages handles POST /api/v1/admin/images/delete.
func (h *AdminHandler) DeleteImages(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	n, err := h.deleter.Delete(c.Request.Context(), req.IDs)
	if err != nil {
		respondError(c, "Failed to delete images", err)
		return
	}

	logger.With(logger.Fields{"requested": len(req.IDs)}).WithCount(int(n)).
		WithDuration(time.Since(start).Milliseconds()).Info(c.Request.Context(), "Images deleted via admin")
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// Wait blocks until background stage runs have returned.
func (h *AdminHandler) Wait() {
	h.wg.Wait()
}
