package storage

import (
	"context"
	"io"
	"strconv"
)

// ObjectStorage defines the interface for object storage operations
type ObjectStorage interface {
	// Upload uploads an object to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// GetURL returns the public URL for accessing an object
	GetURL(key string) string

	// Delete deletes an object from storage
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// EnsureBucket creates the bucket when the backend allows it
	EnsureBucket(ctx context.Context) error
}

// ImageKey is the object key a published image is stored under.
func ImageKey(imageID int64) string {
	return "images/" + strconv.FormatInt(imageID, 10) + ".jpg"
}
