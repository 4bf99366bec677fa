package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParseIDSelection parses an id selection such as "15, 17-19, 34" into sorted,
// unique ids. Ranges are inclusive; a range whose start exceeds its end, a
// non-positive id and any non-numeric part are rejected.
func ParseIDSelection(s string) ([]int64, error) {
	seen := make(map[int64]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi := part, part
		if i := strings.Index(part, "-"); i > 0 {
			lo, hi = strings.TrimSpace(part[:i]), strings.TrimSpace(part[i+1:])
		}

		start, err := parseID(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid selection %q: %w", part, err)
		}
		end, err := parseID(hi)
		if err != nil {
			return nil, fmt.Errorf("invalid selection %q: %w", part, err)
		}
		if start > end {
			return nil, fmt.Errorf("invalid selection %q: range start exceeds end", part)
		}
		for id := start; id <= end; id++ {
			seen[id] = struct{}{}
		}
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("empty selection")
	}

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if id <= 0 {
		return 0, fmt.Errorf("id %d must be positive", id)
	}
	return id, nil
}
