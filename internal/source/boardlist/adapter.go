package boardlist

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/source"
)

// Adapter reads a hand-curated board list: one "original_url,src_url,width,height"
// row per image. A header row and lines starting with '#' are ignored.
type Adapter struct {
	path      string
	items     []domain.Candidate
	malformed int
	loaded    bool
}

// NewAdapter creates a board list adapter for the CSV file at path.
func NewAdapter(path string) *Adapter {
	return &Adapter{path: path}
}

// GetSourceID returns the unique identifier for this source.
func (a *Adapter) GetSourceID() string {
	return "boardlist:" + filepath.Base(a.path)
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Board list (%s)", a.path)
}

// FetchBatch returns the next page of board list candidates.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]domain.Candidate, string, error) {
	if !a.loaded {
		if err := a.load(); err != nil {
			return nil, "", fmt.Errorf("failed to load board list: %w", err)
		}
		a.loaded = true
	}
	return source.Page(a.items, cursor, limit)
}

// Malformed returns how many rows were rejected while parsing.
func (a *Adapter) Malformed() int {
	return a.malformed
}

func (a *Adapter) load() error {
	file, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", a.path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	a.items = []domain.Candidate{}
	a.malformed = 0

	first := true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				a.malformed++
				continue
			}
			return fmt.Errorf("failed to read %s: %w", a.path, err)
		}

		if first {
			first = false
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "original_url") {
				continue
			}
		}

		c, ok := parseRow(row)
		if !ok {
			a.malformed++
			continue
		}
		a.items = append(a.items, c)
	}
	return nil
}

// parseRow accepts a bare URL or the full four-column form.
func parseRow(row []string) (domain.Candidate, bool) {
	if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
		return domain.Candidate{}, false
	}
	c := domain.Candidate{OriginalURL: strings.TrimSpace(row[0])}
	if len(row) > 1 {
		c.SrcURL = strings.TrimSpace(row[1])
	}
	if len(row) >= 4 {
		w, werr := strconv.Atoi(strings.TrimSpace(row[2]))
		h, herr := strconv.Atoi(strings.TrimSpace(row[3]))
		if werr != nil || herr != nil {
			return domain.Candidate{}, false
		}
		c.Width, c.Height = w, h
	}
	return c, true
}
