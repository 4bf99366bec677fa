package service

import (
	"fmt"
	"math"

	"github.com/timmy/memeprep/internal/domain"
)

// Normalize scales v to unit L2 norm in place and returns it.
// A zero or non-finite vector cannot be normalized and is reported as malformed.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("%w: vector of length %d has norm %v", domain.ErrMalformedOutput, len(v), norm)
	}
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
	return v, nil
}
