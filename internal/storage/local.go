package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/timmy/memeprep/internal/domain"
)

// LocalImageStore keeps the converted JPEG of each record at <dir>/<id>.jpg.
type LocalImageStore struct {
	dir string
}

// NewLocalImageStore creates a store rooted at dir. The directory is created on first write.
func NewLocalImageStore(dir string) *LocalImageStore {
	return &LocalImageStore{dir: dir}
}

// Dir returns the root directory.
func (s *LocalImageStore) Dir() string {
	return s.dir
}

// Path returns the file path for an image id.
func (s *LocalImageStore) Path(imageID int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(imageID, 10)+".jpg")
}

// Read returns the stored bytes, or domain.ErrContentMissing when there are none.
func (s *LocalImageStore) Read(imageID int64) ([]byte, error) {
	data, err := os.ReadFile(s.Path(imageID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("image %d: %w", imageID, domain.ErrContentMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read image %d: %w", imageID, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image %d is empty: %w", imageID, domain.ErrContentMissing)
	}
	return data, nil
}

// Write stores data atomically through a temp file and rename.
func (s *LocalImageStore) Write(imageID int64, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create content dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*.jpg")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write image %d: %w", imageID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close image %d: %w", imageID, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(imageID)); err != nil {
		return fmt.Errorf("failed to store image %d: %w", imageID, err)
	}
	return nil
}

// Exists reports whether non-empty content is stored for the id.
func (s *LocalImageStore) Exists(imageID int64) bool {
	info, err := os.Stat(s.Path(imageID))
	return err == nil && info.Size() > 0
}
