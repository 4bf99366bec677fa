package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/timmy/memeprep/internal/app"
	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/service"
)

func (c *console) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the schema, seed the tag vocabulary and prepare the vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := c.backendFor(cmd)
			if err != nil {
				return err
			}
			if err := b.Init(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			cmd.Printf("Initialized record store (%d tags) and vector index\n", len(domain.TagVocabulary))
			return nil
		},
	}
}

func (c *console) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show record counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := c.backendFor(cmd)
			if err != nil {
				return err
			}
			counts, err := b.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read status counts: %w", err)
			}

			var total int64
			for _, st := range domain.AllStatuses {
				cmd.Printf("  %-10s %d\n", st, counts[st])
				total += counts[st]
			}
			cmd.Printf("  %-10s %d\n", "TOTAL", total)
			return nil
		},
	}
}

func (c *console) listCmd() *cobra.Command {
	var (
		page, size int
		status     string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records page by page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter *domain.ImageStatus
			if status != "" {
				st, err := domain.ParseImageStatus(strings.ToUpper(status))
				if err != nil {
					return err
				}
				filter = &st
			}

			b, err := c.backendFor(cmd)
			if err != nil {
				return err
			}
			result, err := b.List(cmd.Context(), page, size, filter)
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}

			if len(result.Items) == 0 {
				cmd.Println("No records found")
				return nil
			}
			for _, rec := range result.Items {
				caption := ""
				if rec.Caption != nil {
					caption = truncate(*rec.Caption, 60)
				}
				cmd.Printf("%6d  %-9s  %s\n", rec.ID, rec.Status, rec.OriginalURL)
				if caption != "" {
					cmd.Printf("        %s\n", caption)
				}
			}
			cmd.Printf("\nPage %d, %d of %d records\n", result.Page, len(result.Items), result.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number, starting at 1")
	cmd.Flags().IntVar(&size, "size", 20, "Records per page (1-100)")
	cmd.Flags().StringVar(&status, "status", "", "Only list records in this status")
	return cmd
}

func (c *console) ingestCmd() *cobra.Command {
	var (
		sourceName, path string
		limit            int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Register candidates from a source",
		Long: `Reads candidates from the staging manifest or a board list and registers every
original_url not seen before as a PENDING record.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sourceName != app.SourceStaging && sourceName != app.SourceBoardList {
				return fmt.Errorf("unknown source %q (want %s or %s)", sourceName, app.SourceStaging, app.SourceBoardList)
			}
			b, err := c.backendFor(cmd)
			if err != nil {
				return err
			}
			run, err := b.Ingest(cmd.Context(), sourceName, path, limit)
			printRun(cmd, run)
			return err
		},
	}
	cmd.Flags().StringVar(&sourceName, "source", app.SourceStaging, "Candidate source: staging or boardlist")
	cmd.Flags().StringVar(&path, "path", "", "Source file, defaults to the configured path")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum candidates to read, 0 for all")
	return cmd
}

func (c *console) stageCmd(stage domain.Stage, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(stage),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := c.backendFor(cmd)
			if err != nil {
				return err
			}
			run, err := b.RunStage(cmd.Context(), stage)
			printRun(cmd, run)
			return err
		},
	}
}

func (c *console) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a tags.json and images.json snapshot of READY records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := c.backendFor(cmd)
			if err != nil {
				return err
			}
			result, err := b.Export(cmd.Context(), out)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			cmd.Printf("Exported %d images and %d tags to %s\n", result.Images, result.Tags, result.Dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Parent directory of the snapshot, defaults to the configured export dir")
	return cmd
}

func (c *console) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <selection>",
		Short: "Soft-delete records, e.g. prep delete \"15, 17-19, 34\"",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := ParseIDSelection(strings.Join(args, ","))
			if err != nil {
				return err
			}
			b, err := c.backendFor(cmd)
			if err != nil {
				return err
			}
			n, err := b.Delete(cmd.Context(), ids)
			if err != nil {
				return fmt.Errorf("failed to delete records: %w", err)
			}
			cmd.Printf("Deleted %d of %d selected records\n", n, len(ids))
			return nil
		},
	}
}

func (c *console) setStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <selection> <STATUS>",
		Short: "Move records to another status",
		Long: `Moves each selected record to STATUS. Only forward transitions and DELETED are
allowed; records that cannot move are reported and left unchanged.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := domain.ParseImageStatus(strings.ToUpper(args[len(args)-1]))
			if err != nil {
				return err
			}
			ids, err := ParseIDSelection(strings.Join(args[:len(args)-1], ","))
			if err != nil {
				return err
			}
			b, err := c.backendFor(cmd)
			if err != nil {
				return err
			}

			applied, failures := b.SetStatus(cmd.Context(), ids, to)
			failed := make([]int64, 0, len(failures))
			for id := range failures {
				failed = append(failed, id)
			}
			sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
			for _, id := range failed {
				cmd.Printf("  %d: %v\n", id, failures[id])
			}
			cmd.Printf("Moved %d of %d records to %s\n", applied, len(ids), to)
			if applied == 0 && len(failures) > 0 {
				return fmt.Errorf("no record moved to %s", to)
			}
			return nil
		},
	}
}

func (c *console) searchCmd() *cobra.Command {
	var (
		count int
		tags  []string
	)
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Rank READY images for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := c.backendFor(cmd)
			if err != nil {
				return err
			}
			results, err := b.Search(cmd.Context(), service.RetrieveRequest{
				Query:      strings.Join(args, " "),
				FinalCount: count,
				Tags:       tags,
			})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if len(results) == 0 {
				cmd.Println("No results")
				return nil
			}
			for _, r := range results {
				cmd.Printf("%2d. image %d\n", r.Rank, r.ImageID)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of results, defaults to the configured final count")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Only consider images carrying one of these tags")
	return cmd
}

func printRun(cmd *cobra.Command, run *domain.StageRun) {
	if run == nil {
		return
	}
	cmd.Printf("%s %s: total=%d succeeded=%d skipped=%d failed=%d (run %s)\n",
		run.Stage, run.Status, run.Total, run.Succeeded, run.Skipped, run.Failed, run.ID)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
