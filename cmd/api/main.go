package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/memeprep/internal/api"
	"github.com/timmy/memeprep/internal/api/handler"
	"github.com/timmy/memeprep/internal/api/middleware"
	"github.com/timmy/memeprep/internal/app"
	"github.com/timmy/memeprep/internal/config"
	"github.com/timmy/memeprep/internal/logger"
)

func main() {
	appLogger := logger.NewFromEnv(logger.LoadFromEnv("api"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(appLogger.WithContext(context.Background()))
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize application: %v", err)
	}
	defer application.Close()

	// Ensure vector collection exists
	if err := application.Index.EnsureCollection(ctx); err != nil {
		logger.Fatal("Failed to ensure vector collection: %v", err)
	}

	admin := handler.NewAdminHandler(ctx, application.Stages(), application.Tracker, application.Runs, application.Catalog)
	handlers := api.Handlers{
		Health: handler.NewHealthHandler(handler.HealthCheck{Name: "database", Check: application.Ping}),
		Images: handler.NewImageHandler(application.Catalog),
		Admin:  admin,
	}
	if application.Retrieval != nil {
		handlers.Search = handler.NewSearchHandler(application.Retrieval, cfg.Retrieval.K)
	} else {
		logger.Warn("Search endpoint disabled: no embedding provider")
	}

	router := api.SetupRouter(handlers, cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port":           cfg.Server.Port,
			"mode":           cfg.Server.Mode,
			"vector_backend": cfg.Vector.Backend,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown: %v", err)
	}

	// Stop background stage runs and wait for them to return
	cancel()
	admin.Wait()

	logger.Info("Server exited")
}
