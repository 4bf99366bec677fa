package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/service"
)

// Catalog is the browsing side of the record store.
type Catalog interface {
	Get(ctx context.Context, id int64) (*domain.ImageRecord, error)
	List(ctx context.Context, page, size int, status *domain.ImageStatus) (*service.ImagePage, error)
	Popular(ctx context.Context, limit int) ([]domain.ImageRecord, error)
	Like(ctx context.Context, id int64) (int, error)
	Unlike(ctx context.Context, id int64) (int, error)
	Tags(ctx context.Context) ([]domain.Tag, error)
	Stats(ctx context.Context) (map[domain.ImageStatus]int64, error)
}

// ImageHandler handles image and vocabulary endpoints.
type ImageHandler struct {
	catalog Catalog
}

// NewImageHandler creates a new image handler.
// Parameters:
//   - catalog: catalog service instance.
// Returns:
//   - *ImageHandler: initialized handler.
func NewImageHandler(catalog Catalog) *ImageHandler {
	return &ImageHandler{catalog: catalog}
}

// ListImages handles GET /api/v1/images.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImageHandler) ListImages(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	var status *domain.ImageStatus
	if s := c.Query("status"); s != "" {
		st, err := domain.ParseImageStatus(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status = &st
	}

	result, err := h.catalog.List(c.Request.Context(), page, size, status)
	if err != nil {
		respondError(c, "Failed to list images", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PopularImages handles GET /api/v1/images/popular.
func (h *ImageHandler) PopularImages(c *gin.Context) {
	images, err := h.catalog.Popular(c.Request.Context(), 10)
	if err != nil {
		respondError(c, "Failed to list popular images", err)
		return
	}
	if images == nil {
		images = []domain.ImageRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"items": images, "total": len(images)})
}

// GetImage handles GET /api/v1/images/:id.
func (h *ImageHandler) GetImage(c *gin.Context) {
	id, ok := imageID(c)
	if !ok {
		return
	}

	image, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Image not found", err)
		return
	}
	c.JSON(http.StatusOK, image)
}

// Like handles POST /api/v1/images/:id/like.
func (h *ImageHandler) Like(c *gin.Context) {
	h.adjustLikes(c, h.catalog.Like)
}

// Unlike handles DELETE /api/v1/images/:id/like.
func (h *ImageHandler) Unlike(c *gin.Context) {
	h.adjustLikes(c, h.catalog.Unlike)
}

func (h *ImageHandler) adjustLikes(c *gin.Context, fn func(context.Context, int64) (int, error)) {
	id, ok := imageID(c)
	if !ok {
		return
	}
	likes, err := fn(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to update likes", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image_id": id, "like_count": likes})
}

// ListTags handles GET /api/v1/tags.
func (h *ImageHandler) ListTags(c *gin.Context) {
	tags, err := h.catalog.Tags(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list tags", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags, "total": len(tags)})
}

// GetStats handles GET /api/v1/stats.
func (h *ImageHandler) GetStats(c *gin.Context) {
	counts, err := h.catalog.Stats(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to get stats", err)
		return
	}

	var total int64
	byStatus := make(map[string]int64, len(counts))
	for st, n := range counts {
		byStatus[string(st)] = n
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "by_status": byStatus})
}

func imageID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid image id %q", c.Param("id"))})
		return 0, false
	}
	return id, true
}
