// Package cli implements the prep operator console.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/timmy/memeprep/internal/app"
	"github.com/timmy/memeprep/internal/config"
	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/logger"
	"github.com/timmy/memeprep/internal/service"
)

// Backend is what the console commands operate on. *app.App implements it.
type Backend interface {
	Init(ctx context.Context) error
	Stats(ctx context.Context) (map[domain.ImageStatus]int64, error)
	List(ctx context.Context, page, size int, status *domain.ImageStatus) (*service.ImagePage, error)
	Ingest(ctx context.Context, sourceName, path string, limit int) (*domain.StageRun, error)
	RunStage(ctx context.Context, stage domain.Stage) (*domain.StageRun, error)
	Export(ctx context.Context, dir string) (*service.ExportResult, error)
	Delete(ctx context.Context, ids []int64) (int64, error)
	SetStatus(ctx context.Context, ids []int64, to domain.ImageStatus) (int, map[int64]error)
	Search(ctx context.Context, req service.RetrieveRequest) ([]service.RankedImage, error)
	Close() error
}

// Opener builds a Backend from a config file path.
type Opener func(ctx context.Context, configPath string) (Backend, error)

// Open loads configuration and wires the application.
func Open(ctx context.Context, configPath string) (Backend, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type console struct {
	open       Opener
	configPath string
	backend    Backend
}

// backendFor opens the backend on first use.
func (c *console) backendFor(cmd *cobra.Command) (Backend, error) {
	if c.backend != nil {
		return c.backend, nil
	}
	if c.open == nil {
		return nil, errors.New("no backend configured")
	}
	b, err := c.open(cmd.Context(), c.configPath)
	if err != nil {
		return nil, err
	}
	c.backend = b
	return b, nil
}

func (c *console) close() error {
	if c.backend == nil {
		return nil
	}
	err := c.backend.Close()
	c.backend = nil
	return err
}

// NewRootCmd builds the prep command tree.
// Parameters:
//   - open: builds the backend the first time a command needs it.
// Returns:
//   - *cobra.Command: root command with every subcommand attached.
func NewRootCmd(open Opener) *cobra.Command {
	root, _ := newRootCmd(open)
	return root
}

func newRootCmd(open Opener) (*cobra.Command, *console) {
	c := &console{open: open}

	root := &cobra.Command{
		Use:   "prep",
		Short: "Operate the image preparation pipeline",
		Long: `prep drives the image pipeline by hand: register candidates, fetch and
caption images, embed captions into the vector index, publish, export and search.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(logger.SetComponent(ctx, "prep"))
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file path (default ./configs/config.yaml)")

	root.AddCommand(
		c.initCmd(),
		c.statusCmd(),
		c.listCmd(),
		c.ingestCmd(),
		c.stageCmd(domain.StageFetch, "Download PENDING images into local content"),
		c.stageCmd(domain.StageCaption, "Caption and tag PENDING images"),
		c.stageCmd(domain.StageEmbed, "Embed CAPTIONED records into the vector index"),
		c.stageCmd(domain.StagePublish, "Upload READY images to object storage"),
		c.exportCmd(),
		c.deleteCmd(),
		c.setStatusCmd(),
		c.searchCmd(),
	)
	return root, c
}

// Execute runs the prep console with the default backend and releases it afterwards.
func Execute(ctx context.Context) error {
	root, c := newRootCmd(Open)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, c.close())
}
