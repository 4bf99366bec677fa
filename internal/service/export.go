package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/logger"
)

// ExportStore is the part of the record store export reads.
type ExportStore interface {
	ListTags(ctx context.Context) ([]domain.Tag, error)
	ReadyForExport(ctx context.Context) ([]domain.ImageRecord, error)
}

// ExportedImage is one entry of images.json.
type ExportedImage struct {
	ImageID     int64    `json:"image_id"`
	OriginalURL string   `json:"original_url"`
	SrcURL      string   `json:"src_url"`
	CloudURL    *string  `json:"cloud_url"`
	Caption     string   `json:"caption"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	LikeCount   int      `json:"like_count"`
	Tags        []string `json:"tags"`
}

// ExportResult describes a finished export.
type ExportResult struct {
	Dir    string
	Tags   int
	Images int
}

// Counters implements domain.RunCounters.
func (r *ExportResult) Counters() (int, int, int, int) {
	return r.Images, r.Images, 0, 0
}

// ExportService snapshots READY records and the tag vocabulary to JSON files.
type ExportService struct {
	store ExportStore
	now   func() time.Time
}

// NewExportService creates a new export service.
func NewExportService(store ExportStore) *ExportService {
	return &ExportService{store: store, now: time.Now}
}

// Export writes dir/export_YYYYMMDD_HHMMSS/{tags.json,images.json}.
// Parameters:
//   - ctx: context for the store reads.
//   - dir: parent directory, created if missing.
// Returns:
//   - *ExportResult: output directory and entry counts.
//   - error: non-nil on read or write failure.
func (s *ExportService) Export(ctx context.Context, dir string) (*ExportResult, error) {
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}
	records, err := s.store.ReadyForExport(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ready images: %w", err)
	}

	images := make([]ExportedImage, 0, len(records))
	for _, rec := range records {
		if rec.Status != domain.StatusReady {
			continue
		}
		imgTags := rec.Tags
		if imgTags == nil {
			imgTags = []string{}
		}
		var cloudURL *string
		if rec.CloudURL != nil && *rec.CloudURL != "" {
			cloudURL = rec.CloudURL
		}
		images = append(images, ExportedImage{
			ImageID:     rec.ID,
			OriginalURL: rec.OriginalURL,
			SrcURL:      rec.SrcURL,
			CloudURL:    cloudURL,
			Caption:     rec.CaptionText(),
			Width:       rec.Width,
			Height:      rec.Height,
			LikeCount:   rec.LikeCount,
			Tags:        imgTags,
		})
	}
	if tags == nil {
		tags = []domain.Tag{}
	}

	out := filepath.Join(dir, "export_"+s.now().Format("20060102_150405"))
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := writeJSON(filepath.Join(out, "tags.json"), tags); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(out, "images.json"), images); err != nil {
		return nil, err
	}

	logger.With(logger.Fields{"dir": out, "tags": len(tags)}).WithCount(len(images)).
		Info(ctx, "Export written")

	return &ExportResult{Dir: out, Tags: len(tags), Images: len(images)}, nil
}

func writeJSON(path string, v interface{}) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
