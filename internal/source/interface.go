package source

import (
	"context"

	"github.com/timmy/memeprep/internal/domain"
)

// Source defines the interface for candidate image sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	// Parameters: none.
	// Returns:
	//   - string: display-friendly source name.
	GetDisplayName() string

	// FetchBatch fetches a batch of candidates starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of candidates to fetch.
	// Returns:
	//   - items: batch of candidates.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []domain.Candidate, nextCursor string, err error)
}

// Page slices a fully loaded candidate list with an index cursor.
// Parameters:
//   - items: all candidates in source order.
//   - cursor: start index as a decimal string, empty for the beginning.
//   - limit: maximum number of candidates to return.
// Returns:
//   - []domain.Candidate: the page.
//   - string: next cursor or empty when exhausted.
//   - error: non-nil if cursor is not a valid index.
func Page(items []domain.Candidate, cursor string, limit int) ([]domain.Candidate, string, error) {
	start := 0
	if cursor != "" {
		var err error
		start, err = parseCursor(cursor)
		if err != nil {
			return nil, "", err
		}
	}
	if limit <= 0 {
		limit = len(items)
	}
	if start >= len(items) {
		return []domain.Candidate{}, "", nil
	}

	end := start + limit
	if end > len(items) {
		end = len(items)
	}

	next := ""
	if end < len(items) {
		next = formatCursor(end)
	}
	return items[start:end], next, nil
}
