package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/memeprep/internal/service"
)

// Retriever answers a search request with ranked image ids.
type Retriever interface {
	Retrieve(ctx context.Context, req service.RetrieveRequest) ([]service.RankedImage, error)
}

// SearchHandler handles search-related endpoints.
type SearchHandler struct {
	retriever Retriever
	maxCount  int
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - retriever: retrieval service instance.
//   - maxCount: largest count a request may ask for, normally the configured kNN size; 0 leaves the bound to the retriever.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(retriever Retriever, maxCount int) *SearchHandler {
	return &SearchHandler{retriever: retriever, maxCount: maxCount}
}

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Text  string   `json:"text" binding:"required"`
	Count int      `json:"count" binding:"omitempty,min=1"`
	Tags  []string `json:"tags"`
}

// SearchResponse is the reply of POST /api/v1/search.
type SearchResponse struct {
	Count           int                   `json:"count"`
	Recommendations []service.RankedImage `json:"recommendations"`
}

// Search handles POST /api/v1/search.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	if h.maxCount > 0 && req.Count > h.maxCount {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: count must be at most %d", h.maxCount),
		})
		return
	}

	results, err := h.retriever.Retrieve(c.Request.Context(), service.RetrieveRequest{
		Query:      req.Text,
		FinalCount: req.Count,
		Tags:       req.Tags,
	})
	if err != nil {
		respondError(c, "Search failed", err)
		return
	}

	c.JSON(http.StatusOK, SearchResponse{
		Count:           len(results),
		Recommendations: results,
	})
}
