package storage

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/timmy/memeprep/internal/domain"
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality is used when ConvertOptions.Quality is unset.
const DefaultJPEGQuality = 90

// ConvertOptions controls ToJPEG.
type ConvertOptions struct {
	Quality   int
	MinWidth  int
	MinHeight int
}

// ToJPEG decodes a jpeg, png, gif or webp image and re-encodes it as JPEG.
// Images smaller than the configured minimum are rejected with domain.ErrTooSmall.
// Parameters:
//   - data: raw image bytes as downloaded.
//   - opts: target quality and minimum dimensions.
// Returns:
//   - []byte: JPEG bytes.
//   - image.Point: decoded width and height.
//   - error: non-nil if the image cannot be decoded, is too small, or fails to encode.
func ToJPEG(data []byte, opts ConvertOptions) ([]byte, image.Point, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("failed to decode image: %w", err)
	}

	size := img.Bounds().Size()
	if size.X < opts.MinWidth || size.Y < opts.MinHeight {
		return nil, size, fmt.Errorf("%w: %s image is %dx%d, minimum %dx%d",
			domain.ErrTooSmall, format, size.X, size.Y, opts.MinWidth, opts.MinHeight)
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, size, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), size, nil
}
