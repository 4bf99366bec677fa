package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/memeprep/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
	}{
		{"3-4-5", []float32{3, 4}},
		{"already unit", []float32{1, 0, 0}},
		{"negative", []float32{-2, 2, -1}},
		{"tiny", []float32{1e-20, 1e-20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Normalize(tt.in)
			require.NoError(t, err)
			var sum float64
			for _, x := range out {
				sum += float64(x) * float64(x)
			}
			assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
		})
	}
}

func TestNormalize_InPlace(t *testing.T) {
	v := []float32{3, 4}
	_, err := Normalize(v)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestNormalize_Invalid(t *testing.T) {
	nan := float32(math.NaN())
	for _, v := range [][]float32{{0, 0, 0}, {}, {nan, 1}} {
		_, err := Normalize(v)
		assert.ErrorIs(t, err, domain.ErrMalformedOutput)
	}
}
