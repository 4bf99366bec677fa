package source

import (
	"fmt"
	"strconv"
)

func parseCursor(cursor string) (int, error) {
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	return n, nil
}

func formatCursor(n int) string {
	return strconv.Itoa(n)
}
