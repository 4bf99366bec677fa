package staging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/source"
)

// ManifestFileName is the JSONL manifest file name looked up when the adapter is given a directory.
const ManifestFileName = "manifest.jsonl"

// ManifestItem represents one line of the staging manifest, as written by the scrapers.
type ManifestItem struct {
	OriginalURL string `json:"original_url"`
	SrcURL      string `json:"src_url"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Adapter implements the Source interface for a staging manifest.
type Adapter struct {
	path      string
	items     []domain.Candidate
	malformed int
	loaded    bool
}

// NewAdapter creates a new staging adapter.
// Parameters:
//   - path: manifest file, or a directory containing manifest.jsonl.
// Returns:
//   - *Adapter: initialized staging adapter.
func NewAdapter(path string) *Adapter {
	return &Adapter{path: path}
}

// GetSourceID returns the unique identifier for this source.
func (a *Adapter) GetSourceID() string {
	return "staging:" + filepath.Base(a.manifestPath())
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Staging (%s)", a.manifestPath())
}

// FetchBatch returns the next page of manifest candidates.
// Parameters:
//   - ctx: context for cancellation and deadlines (unused for local reads).
//   - cursor: pagination cursor as an index string.
//   - limit: maximum number of candidates to fetch.
// Returns:
//   - []domain.Candidate: batch of candidates in manifest order.
//   - string: next cursor or empty if no more items.
//   - error: non-nil if loading fails or the cursor is invalid.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]domain.Candidate, string, error) {
	if err := a.ensureLoaded(); err != nil {
		return nil, "", err
	}
	return source.Page(a.items, cursor, limit)
}

// Malformed returns how many manifest lines could not be parsed.
func (a *Adapter) Malformed() int {
	return a.malformed
}

// GetTotalCount returns the number of parsed candidates.
func (a *Adapter) GetTotalCount() (int, error) {
	if err := a.ensureLoaded(); err != nil {
		return 0, err
	}
	return len(a.items), nil
}

func (a *Adapter) ensureLoaded() error {
	if a.loaded {
		return nil
	}
	if err := a.loadItems(); err != nil {
		return fmt.Errorf("failed to load staging items: %w", err)
	}
	a.loaded = true
	return nil
}

func (a *Adapter) manifestPath() string {
	if info, err := os.Stat(a.path); err == nil && info.IsDir() {
		return filepath.Join(a.path, ManifestFileName)
	}
	return a.path
}

// loadItems reads the manifest line by line. Malformed lines are counted and skipped.
func (a *Adapter) loadItems() error {
	manifestPath := a.manifestPath()

	file, err := os.Open(manifestPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("manifest file not found: %s", manifestPath)
	}
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	a.items = []domain.Candidate{}
	a.malformed = 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var item ManifestItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			a.malformed++
			continue
		}

		a.items = append(a.items, domain.Candidate{
			OriginalURL: strings.TrimSpace(item.OriginalURL),
			SrcURL:      strings.TrimSpace(item.SrcURL),
			Width:       item.Width,
			Height:      item.Height,
		})
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}
	return nil
}
