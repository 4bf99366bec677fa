package storage

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/memeprep/internal/domain"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestToJPEG(t *testing.T) {
	out, size, err := ToJPEG(pngBytes(t, 240, 220), ConvertOptions{MinWidth: 200, MinHeight: 200})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(240, 220), size)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 240, img.Bounds().Dx())
}

func TestToJPEG_TooSmall(t *testing.T) {
	_, size, err := ToJPEG(pngBytes(t, 120, 300), ConvertOptions{MinWidth: 200, MinHeight: 200})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTooSmall))
	assert.Equal(t, image.Pt(120, 300), size)
}

func TestToJPEG_Garbage(t *testing.T) {
	_, _, err := ToJPEG([]byte("<html>not an image</html>"), ConvertOptions{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrTooSmall))
}

func TestLocalImageStore(t *testing.T) {
	store := NewLocalImageStore(t.TempDir())

	_, err := store.Read(7)
	assert.True(t, errors.Is(err, domain.ErrContentMissing))
	assert.False(t, store.Exists(7))

	require.NoError(t, store.Write(7, []byte{0xff, 0xd8, 0xff}))
	assert.True(t, store.Exists(7))

	data, err := store.Read(7)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, data)
	assert.Equal(t, "7.jpg", store.Path(7)[len(store.Dir())+1:])
}

func TestDetectStorageType(t *testing.T) {
	tests := []struct {
		endpoint string
		want     StorageType
	}{
		{"https://abc.r2.cloudflarestorage.com", StorageTypeR2},
		{"s3.us-west-2.amazonaws.com", StorageTypeS3},
		{"localhost:9000", StorageTypeS3Compatible},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, detectStorageType(tt.endpoint))
		})
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "localhost:9000", normalizeEndpoint("http://localhost:9000/bucket/"))
	assert.Equal(t, "cdn.example.com", normalizeEndpoint("https://cdn.example.com"))
}

func TestS3Storage_GetURL(t *testing.T) {
	s, err := NewS3Storage(&S3Config{
		Endpoint:  "http://localhost:9000",
		Bucket:    "memes",
		KeyPrefix: "/prod/",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/memes/prod/images/42.jpg", s.GetURL(ImageKey(42)))

	s, err = NewS3Storage(&S3Config{
		Endpoint:  "https://abc.r2.cloudflarestorage.com",
		Bucket:    "memes",
		UseSSL:    true,
		PublicURL: "https://pub.example.dev/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pub.example.dev/images/1.jpg", s.GetURL(ImageKey(1)))
}
