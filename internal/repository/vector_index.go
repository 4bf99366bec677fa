package repository

import "context"

// VectorPoint is one embedding keyed by image id.
type VectorPoint struct {
	ImageID int64
	Vector  []float32
	Tags    []string
}

// VectorHit is one nearest-neighbor result. Higher scores are more similar.
type VectorHit struct {
	ImageID int64
	Score   float32
}

// VectorFilter narrows a search. Tags matches points carrying any of the tags.
type VectorFilter struct {
	Tags []string
}

// VectorIndex stores image embeddings and answers cosine nearest-neighbor queries.
type VectorIndex interface {
	// EnsureCollection prepares the index for vectors of the configured dimension.
	EnsureCollection(ctx context.Context) error

	// Upsert writes all points as one commit. Either the whole commit succeeds or it fails.
	Upsert(ctx context.Context, points []VectorPoint) error

	// Search returns up to k hits ordered by decreasing similarity.
	Search(ctx context.Context, vector []float32, k int, filter *VectorFilter) ([]VectorHit, error)

	// Delete removes the points of the given images.
	Delete(ctx context.Context, ids []int64) error

	Close() error
}
