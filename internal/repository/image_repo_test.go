package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/memeprep/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func seedImages(t *testing.T, repo *ImageRepository, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 1; i <= n; i++ {
		id, err := repo.Create(context.Background(), domain.Candidate{
			OriginalURL: fmt.Sprintf("https://img.example.com/originals/%d.jpg", i),
			SrcURL:      fmt.Sprintf("https://example.com/pin/%d", i),
			Width:       640,
			Height:      480,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func statusOf(t *testing.T, repo *ImageRepository, id int64) domain.ImageStatus {
	t.Helper()
	rec, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return rec.Status
}

func TestImageRepository_CreateAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t))
	ids := seedImages(t, repo, 3)

	assert.Equal(t, []int64{1, 2, 3}, ids)

	pending, err := repo.ListByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, int64(1), pending[0].ID)
	assert.Equal(t, 0, pending[0].LikeCount)
	assert.Nil(t, pending[0].Caption)

	deleted, err := repo.ListByStatus(ctx, domain.StatusDeleted)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestImageRepository_CaptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t))
	ids := seedImages(t, repo, 1)

	a := domain.Annotation{
		OCR:     "  when the build is green on the first try ✨ ",
		Caption: "A cat in sunglasses, smug. \"quoted\" text\tand tabs",
		Humor:   "Irony: nobody believes it. 웃긴 상황",
		Tags:    []string{"funny", "animal"},
	}
	caption := a.ComposeCaption()

	n, err := repo.AdvanceToCaptioned(ctx, []domain.CaptionedItem{{ImageID: ids[0], Caption: caption, Tags: a.Tags}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := repo.GetByID(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, rec.Caption)
	assert.Equal(t, caption, *rec.Caption)
	assert.Equal(t, domain.StatusCaptioned, rec.Status)
	assert.Equal(t, []string{"funny", "animal"}, rec.Tags)
}

func TestImageRepository_AdvanceToCaptionedIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewImageRepository(db)
	ids := seedImages(t, repo, 2)

	require.NoError(t, db.Migrator().DropTable(&domain.ImageTag{}))

	_, err := repo.AdvanceToCaptioned(ctx, []domain.CaptionedItem{
		{ImageID: ids[0], Caption: "one", Tags: []string{"funny", "sad"}},
		{ImageID: ids[1], Caption: "two", Tags: []string{"cute", "animal"}},
	})
	require.Error(t, err)

	for _, id := range ids {
		rec, err := repo.get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, rec.Status)
		assert.Nil(t, rec.Caption)
	}
}

func TestImageRepository_AdvanceToCaptionedSkipsNonPending(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t))
	ids := seedImages(t, repo, 2)

	_, err := repo.SoftDelete(ctx, []int64{ids[1]})
	require.NoError(t, err)

	n, err := repo.AdvanceToCaptioned(ctx, []domain.CaptionedItem{
		{ImageID: ids[0], Caption: "one", Tags: []string{"funny", "sad"}},
		{ImageID: ids[1], Caption: "two", Tags: []string{"cute", "animal"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, domain.StatusDeleted, statusOf(t, repo, ids[1]))
}

func TestImageRepository_AdvanceToReady(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t))
	ids := seedImages(t, repo, 3)

	_, err := repo.AdvanceToCaptioned(ctx, []domain.CaptionedItem{
		{ImageID: ids[0], Caption: "one", Tags: []string{"funny", "sad"}},
		{ImageID: ids[1], Caption: "two", Tags: []string{"cute", "animal"}},
	})
	require.NoError(t, err)

	// ids[2] is still PENDING and 999 does not exist; neither fails the call.
	n, err := repo.AdvanceToReady(ctx, []int64{ids[0], ids[2], 999})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, domain.StatusReady, statusOf(t, repo, ids[0]))
	assert.Equal(t, domain.StatusCaptioned, statusOf(t, repo, ids[1]))
	assert.Equal(t, domain.StatusPending, statusOf(t, repo, ids[2]))
}

func TestImageRepository_SoftDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t))
	ids := seedImages(t, repo, 2)

	n, err := repo.SoftDelete(ctx, []int64{ids[0]})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.SoftDelete(ctx, []int64{ids[0]})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	pending, err := repo.ListByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[1], pending[0].ID)

	live, err := repo.ExistingURLs(ctx, false)
	require.NoError(t, err)
	assert.Len(t, live, 1)

	all, err := repo.ExistingURLs(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Soft delete keeps the row.
	rec, err := repo.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, rec.Status)
}

func TestImageRepository_StatusCountsTreatsNullAsPending(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewImageRepository(db)
	ids := seedImages(t, repo, 4)

	require.NoError(t, db.Exec("UPDATE images SET status = NULL WHERE image_id = ?", ids[0]).Error)
	_, err := repo.AdvanceToCaptioned(ctx, []domain.CaptionedItem{{ImageID: ids[1], Caption: "c", Tags: []string{"sad", "person"}}})
	require.NoError(t, err)
	_, err = repo.SoftDelete(ctx, []int64{ids[3]})
	require.NoError(t, err)

	counts, err := repo.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[domain.StatusPending])
	assert.Equal(t, int64(1), counts[domain.StatusCaptioned])
	assert.Equal(t, int64(0), counts[domain.StatusReady])
	assert.Equal(t, int64(1), counts[domain.StatusDeleted])

	// The NULL row is still picked up as PENDING work.
	pending, err := repo.ListByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestImageRepository_LifecycleNeverRegresses(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t))
	ids := seedImages(t, repo, 1)
	id := ids[0]

	observed := []domain.ImageStatus{statusOf(t, repo, id)}

	err := repo.SetStatus(ctx, id, domain.StatusReady)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	_, err = repo.AdvanceToCaptioned(ctx, []domain.CaptionedItem{{ImageID: id, Caption: "c", Tags: []string{"cute", "cartoon"}}})
	require.NoError(t, err)
	observed = append(observed, statusOf(t, repo, id))

	err = repo.SetStatus(ctx, id, domain.StatusPending)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	_, err = repo.AdvanceToReady(ctx, []int64{id})
	require.NoError(t, err)
	observed = append(observed, statusOf(t, repo, id))

	// A second caption pass must not pull a READY record back.
	_, err = repo.AdvanceToCaptioned(ctx, []domain.CaptionedItem{{ImageID: id, Caption: "other", Tags: []string{"sad", "person"}}})
	require.NoError(t, err)
	observed = append(observed, statusOf(t, repo, id))

	require.NoError(t, repo.SetStatus(ctx, id, domain.StatusDeleted))
	observed = append(observed, statusOf(t, repo, id))

	err = repo.SetStatus(ctx, id, domain.StatusReady)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	_, err = repo.AdvanceToReady(ctx, []int64{id})
	require.NoError(t, err)
	observed = append(observed, statusOf(t, repo, id))

	assert.Equal(t, []domain.ImageStatus{
		domain.StatusPending,
		domain.StatusCaptioned,
		domain.StatusReady,
		domain.StatusReady,
		domain.StatusDeleted,
		domain.StatusDeleted,
	}, observed)

	rec, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "c", rec.CaptionText())
}

func TestImageRepository_Likes(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(newTestDB(t))
	ids := seedImages(t, repo, 1)

	n, err := repo.Like(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.Unlike(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = repo.Unlike(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = repo.Like(ctx, 404)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestImageRepository_ListPageAndTags(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewImageRepository(db)
	seedImages(t, repo, 5)
	require.NoError(t, SeedTags(ctx, db))
	require.NoError(t, SeedTags(ctx, db))

	page, total, err := repo.ListPage(ctx, 2, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].ID)

	tags, err := repo.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, len(domain.TagVocabulary))
	assert.Equal(t, int64(1), tags[0].ID)
	assert.Equal(t, domain.TagFunny, tags[0].Name)
}
