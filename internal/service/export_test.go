package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/memeprep/internal/domain"
)

func TestExport_ReadyOnly(t *testing.T) {
	store := newMemStore()
	store.put(1, domain.StatusReady, "Caption: 猫咪 <3 & friends", domain.TagCute, domain.TagAnimal)
	store.put(2, domain.StatusPending, "")
	store.put(3, domain.StatusCaptioned, "Caption: almost")
	store.put(4, domain.StatusDeleted, "Caption: gone")
	store.put(5, domain.StatusReady, "Caption: plain")
	cloud := "https://cdn.example.com/images/1.jpg"
	store.records[1].CloudURL = &cloud

	svc := NewExportService(store)
	svc.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) }

	dir := t.TempDir()
	res, err := svc.Export(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "export_20240309_140507"), res.Dir)
	assert.Equal(t, 2, res.Images)
	assert.Equal(t, len(domain.TagVocabulary), res.Tags)

	raw, err := os.ReadFile(filepath.Join(res.Dir, "images.json"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "猫咪 <3 & friends"), "non-ASCII and HTML characters are written literally")
	assert.Contains(t, string(raw), "\n  {", "output is indented")

	var images []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &images))
	require.Len(t, images, 2)

	assert.EqualValues(t, 1, images[0]["image_id"])
	assert.Equal(t, cloud, images[0]["cloud_url"])
	assert.Equal(t, []interface{}{"cute", "animal"}, images[0]["tags"])

	assert.EqualValues(t, 5, images[1]["image_id"])
	v, present := images[1]["cloud_url"]
	assert.True(t, present)
	assert.Nil(t, v, "missing cloud_url is null")
	assert.Equal(t, []interface{}{}, images[1]["tags"])

	raw, err = os.ReadFile(filepath.Join(res.Dir, "tags.json"))
	require.NoError(t, err)
	var tags []domain.Tag
	require.NoError(t, json.Unmarshal(raw, &tags))
	require.Len(t, tags, len(domain.TagVocabulary))
	assert.Equal(t, domain.Tag{ID: 1, Name: "funny"}, tags[0])
}

func TestExport_EmptyStore(t *testing.T) {
	svc := NewExportService(newMemStore())
	res, err := svc.Export(context.Background(), t.TempDir())
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(res.Dir, "images.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(raw))
}
