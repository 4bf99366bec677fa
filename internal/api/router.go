package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/memeprep/internal/api/handler"
	"github.com/timmy/memeprep/internal/api/middleware"
)

// Handlers bundles the endpoint handlers the router mounts.
type Handlers struct {
	Health *handler.HealthHandler
	Search *handler.SearchHandler
	Images *handler.ImageHandler
	Admin  *handler.AdminHandler
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(h Handlers, mode string, cors middleware.CORSConfig) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware("api"))
	r.Use(middleware.CORS(cors))

	healthHandler := h.Health
	if healthHandler == nil {
		healthHandler = handler.NewHealthHandler()
	}

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		if h.Search != nil {
			v1.POST("/search", h.Search.Search)
		}

		if h.Images != nil {
			v1.GET("/images", h.Images.ListImages)
			v1.GET("/images/popular", h.Images.PopularImages)
			v1.GET("/images/:id", h.Images.GetImage)
			v1.POST("/images/:id/like", h.Images.Like)
			v1.DELETE("/images/:id/like", h.Images.Unlike)

			v1.GET("/tags", h.Images.ListTags)
			v1.GET("/stats", h.Images.GetStats)
		}

		if h.Admin != nil {
			admin := v1.Group("/admin")
			admin.GET("/stages/status", h.Admin.GetStageStatus)
			admin.POST("/stages/:stage", h.Admin.TriggerStage)
			admin.POST("/images/delete", h.Admin.DeleteImages)
		}
	}

	return r
}
