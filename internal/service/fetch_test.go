package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
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

func TestFetchService_Run(t *testing.T) {
	big := pngBytes(t, 64, 64)
	small := pngBytes(t, 8, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/big.png":
			_, _ = w.Write(big)
		case "/small.png":
			_, _ = w.Write(small)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := newMemStore()
	store.put(1, domain.StatusPending, "")
	store.put(2, domain.StatusPending, "")
	store.put(3, domain.StatusPending, "")
	store.put(4, domain.StatusPending, "")
	store.put(5, domain.StatusReady, "x")
	store.records[1].OriginalURL = srv.URL + "/big.png"
	store.records[2].OriginalURL = srv.URL + "/small.png"
	store.records[3].OriginalURL = srv.URL + "/missing.png"

	content := newMemContent(4)
	svc := NewFetchService(store, content, FetchConfig{
		Concurrency: 2,
		MaxAttempts: 2,
		MinWidth:    32,
		MinHeight:   32,
	})

	stats, err := svc.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Downloaded)
	assert.Equal(t, 1, stats.TooSmall)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Present)
	assert.Equal(t, 4, stats.Total)

	data, err := content.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2], "stored as JPEG")

	assert.False(t, content.Exists(2), "undersized image is not written")
	assert.False(t, content.Exists(5), "only PENDING records are fetched")
	assert.Equal(t, domain.StatusPending, store.status(1), "fetch does not change status")
}

func TestFetchService_Limit(t *testing.T) {
	store := newMemStore()
	store.put(1, domain.StatusPending, "")
	store.put(2, domain.StatusPending, "")

	payload := pngBytes(t, 16, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()
	store.records[1].OriginalURL = srv.URL + "/a.png"
	store.records[2].OriginalURL = srv.URL + "/b.png"

	content := newMemContent()
	stats, err := NewFetchService(store, content, FetchConfig{}).Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Downloaded)
	assert.True(t, content.Exists(1))
	assert.False(t, content.Exists(2))
}
