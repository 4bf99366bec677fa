package service

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/timmy/memeprep/internal/domain"
)

// trackingParams are query parameters that never change the image a URL points at.
var trackingParams = map[string]struct{}{
	"fbclid": {}, "gclid": {}, "igshid": {}, "si": {},
	"ref": {}, "ref_src": {}, "mc_cid": {}, "mc_eid": {},
}

// sizeSegment matches CDN size path segments such as "236x" or "736x1104".
var sizeSegment = regexp.MustCompile(`^\d+x\d*$`)

// NormalizeURL maps every spelling of an image URL to one canonical key.
// The scheme and host are lowercased, tracking parameters and the fragment are
// dropped, and CDN size segments are rewritten to "originals". Input that does
// not parse as an absolute URL is returned trimmed.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return trimmed
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			lower := strings.ToLower(key)
			if _, ok := trackingParams[lower]; ok || strings.HasPrefix(lower, "utm_") {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}

	if u.Path != "" {
		segments := strings.Split(u.Path, "/")
		for i, seg := range segments {
			if sizeSegment.MatchString(seg) {
				segments[i] = "originals"
			}
		}
		u.Path = strings.Join(segments, "/")
		u.RawPath = ""
	}

	return u.String()
}

// CandidateStore is the part of the record store the dedup gate needs.
type CandidateStore interface {
	ExistingURLs(ctx context.Context, includeDeleted bool) ([]string, error)
	Create(ctx context.Context, c domain.Candidate) (int64, error)
}

// DedupGate admits each normalized original_url at most once.
type DedupGate struct {
	store CandidateStore
	mu    sync.Mutex
	seen  map[string]struct{}
}

// NewDedupGate seeds the seen set from the store.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - store: record store to read existing URLs from and create records in.
//   - includeDeleted: whether URLs of DELETED records also block re-ingest.
// Returns:
//   - *DedupGate: gate ready for Register calls.
//   - error: non-nil if the existing URLs cannot be read.
func NewDedupGate(ctx context.Context, store CandidateStore, includeDeleted bool) (*DedupGate, error) {
	urls, err := store.ExistingURLs(ctx, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to seed dedup gate: %w", err)
	}
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if key := NormalizeURL(u); key != "" {
			seen[key] = struct{}{}
		}
	}
	return &DedupGate{store: store, seen: seen}, nil
}

// Register creates a PENDING record for c unless its URL was seen before.
// Returns:
//   - int64: new record id, 0 when nothing was created.
//   - bool: true if a record was created.
//   - error: domain.ErrInvalidCandidate for unusable candidates, or the store error.
func (g *DedupGate) Register(ctx context.Context, c domain.Candidate) (int64, bool, error) {
	if err := c.Validate(); err != nil {
		return 0, false, err
	}
	key := NormalizeURL(c.OriginalURL)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[key]; ok {
		return 0, false, nil
	}

	id, err := g.store.Create(ctx, c)
	if err != nil {
		return 0, false, err
	}
	g.seen[key] = struct{}{}
	return id, true, nil
}

// Seen returns the number of distinct normalized URLs known to the gate.
func (g *DedupGate) Seen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
