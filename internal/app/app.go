// Package app wires the record store, vector index, model clients and pipeline
// stages from configuration. Both the API server and the operator console run
// on top of it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/timmy/memeprep/internal/config"
	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/logger"
	"github.com/timmy/memeprep/internal/repository"
	"github.com/timmy/memeprep/internal/service"
	"github.com/timmy/memeprep/internal/source"
	"github.com/timmy/memeprep/internal/source/boardlist"
	"github.com/timmy/memeprep/internal/source/staging"
	"github.com/timmy/memeprep/internal/storage"
	"gorm.io/gorm"
)

// Source names accepted by Ingest.
const (
	SourceStaging   = "staging"
	SourceBoardList = "boardlist"
)

// App holds every wired component. Components whose configuration is
// incomplete stay nil and the operations needing them report why.
type App struct {
	Config *config.Config

	DB      *gorm.DB
	Images  *repository.ImageRepository
	Runs    *repository.StageRunRepository
	Index   repository.VectorIndex
	Content *storage.LocalImageStore
	Objects storage.ObjectStorage

	Catalog   *service.CatalogService
	Ingester  *service.IngestService
	Fetcher   *service.FetchService
	Annotator *service.AnnotationService
	Embedder  *service.EmbeddingStage
	Retrieval *service.RetrievalService
	Publisher *service.PublishService
	Exporter  *service.ExportService
	Tracker   *service.RunTracker

	providerErr error
	storageErr  error
}

// New connects to the record store and vector index and builds the stages.
// Parameters:
//   - ctx: context used while constructing clients.
//   - cfg: loaded configuration.
// Returns:
//   - *App: wired application.
//   - error: non-nil when the record store or the vector index cannot be opened.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{
		Config:  cfg,
		DB:      db,
		Images:  repository.NewImageRepository(db),
		Runs:    repository.NewStageRunRepository(db),
		Content: storage.NewLocalImageStore(cfg.Content.Dir),
	}
	a.Tracker = service.NewRunTracker(a.Runs)

	a.Index, err = newVectorIndex(cfg, db)
	if err != nil {
		a.closeDB()
		return nil, err
	}

	a.Ingester = service.NewIngestService(a.Images, &service.IngestConfig{
		BatchSize:           cfg.Ingest.BatchSize,
		DedupIncludeDeleted: cfg.Ingest.DedupIncludeDeleted,
	})
	a.Fetcher = service.NewFetchService(a.Images, a.Content, service.FetchConfig{
		Timeout:           cfg.Content.DownloadTimeout,
		Concurrency:       cfg.Content.Concurrency,
		RequestsPerSecond: cfg.Content.RequestsPerSecond,
		MaxAttempts:       cfg.Content.MaxAttempts,
		BackoffBase:       cfg.Content.BackoffBase,
		JPEGQuality:       cfg.Content.JPEGQuality,
		MinWidth:          cfg.Content.MinWidth,
		MinHeight:         cfg.Content.MinHeight,
	})
	a.Annotator = service.NewAnnotationService(a.Images, a.Content, service.NewVLMCaptioner(&service.VLMConfig{
		Model:     cfg.VLM.Model,
		APIKey:    cfg.VLM.APIKey,
		BaseURL:   cfg.VLM.BaseURL,
		MaxTokens: cfg.VLM.MaxTokens,
		Timeout:   cfg.VLM.Timeout,
	}), service.AnnotationConfig{
		BatchSize:         cfg.Annotation.BatchSize,
		MaxAttempts:       cfg.Annotation.MaxAttempts,
		MaxRounds:         cfg.Annotation.MaxRounds,
		Concurrency:       cfg.Annotation.Concurrency,
		RequestsPerSecond: cfg.Annotation.RequestsPerSecond,
		BackoffBase:       cfg.Annotation.BackoffBase,
	})
	a.Exporter = service.NewExportService(a.Images)

	provider, err := service.NewEmbeddingProvider(ctx, &cfg.Embedding)
	if err != nil {
		a.providerErr = err
		logger.CtxWarn(ctx, "Embedding provider unavailable, embed and search are disabled: %v", err)
	} else {
		a.Embedder = service.NewEmbeddingStage(a.Images, provider, a.Index, service.EmbeddingStageConfig{
			BatchSize:   cfg.Embedding.BatchSize,
			CommitSize:  cfg.Embedding.CommitSize,
			MaxAttempts: cfg.Embedding.MaxAttempts,
			RetryDelay:  cfg.Embedding.RetryDelay,
		})
		a.Retrieval = service.NewRetrievalService(a.Images, provider, a.Index, service.NewLLMRanker(&service.RankerConfig{
			Model:   cfg.Ranker.Model,
			APIKey:  cfg.Ranker.APIKey,
			BaseURL: cfg.Ranker.BaseURL,
			Timeout: cfg.Ranker.Timeout,
		}), service.RetrievalConfig{
			K:              cfg.Retrieval.K,
			FinalCount:     cfg.Retrieval.FinalCount,
			QueryCacheSize: cfg.Retrieval.QueryCacheSize,
			QueryCacheTTL:  cfg.Retrieval.QueryCacheTTL,
			MaxAttempts:    cfg.Embedding.MaxAttempts,
			RetryDelay:     cfg.Embedding.RetryDelay,
		})
	}

	if cfg.Storage.Endpoint == "" {
		a.storageErr = errors.New("storage endpoint is not configured")
	} else if objects, err := storage.NewStorage(storage.S3ConfigFrom(&cfg.Storage)); err != nil {
		a.storageErr = err
		logger.CtxWarn(ctx, "Object storage unavailable, publish is disabled: %v", err)
	} else {
		a.Objects = objects
		a.Publisher = service.NewPublishService(a.Images, a.Content, objects, cfg.Content.MaxAttempts)
	}

	var remover service.ObjectRemover
	if a.Objects != nil {
		remover = a.Objects
	}
	a.Catalog = service.NewCatalogService(a.Images, a.Index, remover)

	return a, nil
}

func newVectorIndex(cfg *config.Config, db *gorm.DB) (repository.VectorIndex, error) {
	switch strings.ToLower(cfg.Vector.Backend) {
	case "pgvector":
		if cfg.Database.Driver != "postgres" {
			return nil, fmt.Errorf("pgvector backend requires the postgres driver, got %q", cfg.Database.Driver)
		}
		idx, err := repository.NewPgVectorIndex(db, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize pgvector index: %w", err)
		}
		return idx, nil
	case "qdrant", "":
		idx, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:            cfg.Vector.Qdrant.Host,
			Port:            cfg.Vector.Qdrant.Port,
			Collection:      cfg.Vector.Collection,
			APIKey:          cfg.Vector.Qdrant.APIKey,
			UseTLS:          cfg.Vector.Qdrant.UseTLS,
			VectorDimension: cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize qdrant index: %w", err)
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
}

// Init migrates the schema, seeds the tag vocabulary, prepares the vector index
// and, when object storage is configured, makes sure its bucket exists.
func (a *App) Init(ctx context.Context) error {
	if err := repository.Migrate(a.DB); err != nil {
		return err
	}
	if err := repository.SeedTags(ctx, a.DB); err != nil {
		return err
	}
	if err := a.Index.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to prepare vector index: %w", err)
	}
	if a.Objects != nil {
		if err := a.Objects.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to prepare object storage: %w", err)
		}
	}
	return nil
}

// Ping checks the record store connection.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stages returns the stages that can be run without arguments, keyed by name.
// Stages whose dependencies are not configured fail with the reason.
func (a *App) Stages() map[domain.Stage]service.StageFunc {
	return map[domain.Stage]service.StageFunc{
		domain.StageFetch: func(ctx context.Context) (domain.RunCounters, error) {
			stats, err := a.Fetcher.Run(ctx, 0)
			if stats == nil {
				return nil, err
			}
			return stats, err
		},
		domain.StageCaption: func(ctx context.Context) (domain.RunCounters, error) {
			stats, err := a.Annotator.Run(ctx)
			if stats == nil {
				return nil, err
			}
			return stats, err
		},
		domain.StageEmbed: func(ctx context.Context) (domain.RunCounters, error) {
			if a.Embedder == nil {
				return nil, fmt.Errorf("embedding provider not configured: %w", a.providerErr)
			}
			stats, err := a.Embedder.Run(ctx)
			if stats == nil {
				return nil, err
			}
			return stats, err
		},
		domain.StagePublish: func(ctx context.Context) (domain.RunCounters, error) {
			if a.Publisher == nil {
				return nil, fmt.Errorf("object storage not configured: %w", a.storageErr)
			}
			stats, err := a.Publisher.Run(ctx)
			if stats == nil {
				return nil, err
			}
			return stats, err
		},
	}
}

// RunStage runs one argument-free stage under the run tracker.
func (a *App) RunStage(ctx context.Context, stage domain.Stage) (*domain.StageRun, error) {
	fn, ok := a.Stages()[stage]
	if !ok {
		return nil, fmt.Errorf("%w: stage %q cannot be run directly", domain.ErrInvalidRequest, stage)
	}
	return a.Tracker.Track(ctx, stage, fn)
}

// Ingest reads candidates from the named source and registers them.
// Parameters:
//   - ctx: context for cancellation.
//   - sourceName: SourceStaging or SourceBoardList.
//   - path: source file; empty uses the configured path.
//   - limit: maximum number of candidates, 0 for all.
// Returns:
//   - *domain.StageRun: the journaled run.
//   - error: non-nil for unknown sources or failed runs.
func (a *App) Ingest(ctx context.Context, sourceName, path string, limit int) (*domain.StageRun, error) {
	src, err := a.openSource(sourceName, path)
	if err != nil {
		return nil, err
	}
	return a.Tracker.Track(ctx, domain.StageIngest, func(ctx context.Context) (domain.RunCounters, error) {
		stats, err := a.Ingester.IngestFromSource(ctx, src, limit)
		if stats == nil {
			return nil, err
		}
		return stats, err
	})
}

func (a *App) openSource(name, path string) (source.Source, error) {
	switch name {
	case SourceStaging:
		if path == "" {
			path = a.Config.Sources.StagingPath
		}
		return staging.NewAdapter(path), nil
	case SourceBoardList:
		if path == "" {
			path = a.Config.Sources.BoardListPath
		}
		return boardlist.NewAdapter(path), nil
	default:
		return nil, fmt.Errorf("%w: unknown source %q", domain.ErrInvalidRequest, name)
	}
}

// Export writes the READY snapshot under dir, or the configured export dir when empty.
func (a *App) Export(ctx context.Context, dir string) (*service.ExportResult, error) {
	if dir == "" {
		dir = a.Config.Export.Dir
	}
	var result *service.ExportResult
	_, err := a.Tracker.Track(ctx, domain.StageExport, func(ctx context.Context) (domain.RunCounters, error) {
		res, err := a.Exporter.Export(ctx, dir)
		if res == nil {
			return nil, err
		}
		result = res
		return res, err
	})
	return result, err
}

// Search ranks READY images for a free-text query.
func (a *App) Search(ctx context.Context, req service.RetrieveRequest) ([]service.RankedImage, error) {
	if a.Retrieval == nil {
		return nil, fmt.Errorf("%w: embedding provider not configured: %v", domain.ErrRetrieval, a.providerErr)
	}
	return a.Retrieval.Retrieve(ctx, req)
}

// Close releases the vector index and the database connection.
func (a *App) Close() error {
	var errs []error
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeDB(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeDB() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Stats returns record counts per status.
func (a *App) Stats(ctx context.Context) (map[domain.ImageStatus]int64, error) {
	return a.Catalog.Stats(ctx)
}

// List returns one page of records.
func (a *App) List(ctx context.Context, page, size int, status *domain.ImageStatus) (*service.ImagePage, error) {
	return a.Catalog.List(ctx, page, size, status)
}

// Delete soft-deletes the records and drops their vectors.
func (a *App) Delete(ctx context.Context, ids []int64) (int64, error) {
	return a.Catalog.Delete(ctx, ids)
}

// SetStatus moves each record to status, reporting per-record failures.
func (a *App) SetStatus(ctx context.Context, ids []int64, to domain.ImageStatus) (int, map[int64]error) {
	return a.Catalog.SetStatus(ctx, ids, to)
}
