package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/memeprep/internal/domain"
	"gorm.io/gorm"
)

// ImageRepository is the record store: images, their tags, and lifecycle status.
type ImageRepository struct {
	db *gorm.DB
}

// NewImageRepository creates a new ImageRepository.
func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// pendingClause matches PENDING records, including legacy rows with a NULL status.
const pendingClause = "(status = ? OR status IS NULL)"

// Create inserts a PENDING record. The caller is responsible for deduplication.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - c: candidate descriptor.
// Returns:
//   - int64: id assigned by the store.
//   - error: non-nil if the insert fails.
func (r *ImageRepository) Create(ctx context.Context, c domain.Candidate) (int64, error) {
	rec := &domain.ImageRecord{
		OriginalURL: c.OriginalURL,
		SrcURL:      c.SrcURL,
		Width:       c.Width,
		Height:      c.Height,
		Status:      domain.StatusPending,
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, fmt.Errorf("failed to create image record: %w", err)
	}
	return rec.ID, nil
}

// ListByStatus returns every non-DELETED record in the given status ordered by id.
func (r *ImageRepository) ListByStatus(ctx context.Context, status domain.ImageStatus) ([]domain.ImageRecord, error) {
	var records []domain.ImageRecord
	if status == domain.StatusDeleted {
		return records, nil
	}

	q := r.db.WithContext(ctx).Model(&domain.ImageRecord{})
	if status == domain.StatusPending {
		q = q.Where(pendingClause, status)
	} else {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("image_id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", status, err)
	}
	return records, nil
}

// AdvanceToCaptioned writes captions and tags and moves the records to CAPTIONED
// in a single transaction. Any error rolls back the whole batch. Records that are
// no longer PENDING are left untouched.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - items: successfully annotated records.
// Returns:
//   - int64: number of records advanced.
//   - error: non-nil if the transaction fails.
func (r *ImageRepository) AdvanceToCaptioned(ctx context.Context, items []domain.CaptionedItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	var advanced int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			res := tx.Model(&domain.ImageRecord{}).
				Where("image_id = ? AND "+pendingClause, item.ImageID, domain.StatusPending).
				Updates(map[string]interface{}{
					"caption": item.Caption,
					"status":  domain.StatusCaptioned,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to caption image %d: %w", item.ImageID, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			advanced++

			if err := tx.Where("image_id = ?", item.ImageID).Delete(&domain.ImageTag{}).Error; err != nil {
				return fmt.Errorf("failed to clear tags of image %d: %w", item.ImageID, err)
			}
			if len(item.Tags) == 0 {
				continue
			}
			rows := make([]domain.ImageTag, len(item.Tags))
			for i, tag := range item.Tags {
				rows[i] = domain.ImageTag{ImageID: item.ImageID, Tag: tag}
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("failed to tag image %d: %w", item.ImageID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return advanced, nil
}

// AdvanceToReady moves CAPTIONED records to READY. Ids that are unknown or not
// CAPTIONED are skipped without failing the call.
func (r *ImageRepository) AdvanceToReady(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&domain.ImageRecord{}).
		Where("image_id IN ? AND status = ?", ids, domain.StatusCaptioned).
		Update("status", domain.StatusReady)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to advance records to READY: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SoftDelete marks records DELETED. Already deleted ids are left as they are.
func (r *ImageRepository) SoftDelete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&domain.ImageRecord{}).
		Where("image_id IN ? AND (status IS NULL OR status <> ?)", ids, domain.StatusDeleted).
		Update("status", domain.StatusDeleted)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SetStatus applies an operator status change, refusing transitions that would
// regress the record.
func (r *ImageRepository) SetStatus(ctx context.Context, id int64, to domain.ImageStatus) error {
	rec, err := r.get(ctx, id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(rec.Status, to) {
		return fmt.Errorf("%w: image %d %s -> %s", domain.ErrInvalidTransition, id, rec.Status, to)
	}

	q := r.db.WithContext(ctx).Model(&domain.ImageRecord{})
	if rec.Status == domain.StatusPending {
		q = q.Where("image_id = ? AND "+pendingClause, id, rec.Status)
	} else {
		q = q.Where("image_id = ? AND status = ?", id, rec.Status)
	}
	res := q.Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("failed to set status of image %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: image %d changed concurrently", domain.ErrInvalidTransition, id)
	}
	return nil
}

// StatusCounts counts records per status, reading NULL as PENDING. Every status
// appears in the result.
func (r *ImageRepository) StatusCounts(ctx context.Context) (map[domain.ImageStatus]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&domain.ImageRecord{}).
		Select("COALESCE(status, 'PENDING') AS status, COUNT(*) AS count").
		Group("COALESCE(status, 'PENDING')").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}

	counts := make(map[domain.ImageStatus]int64, len(domain.AllStatuses))
	for _, st := range domain.AllStatuses {
		counts[st] = 0
	}
	for _, row := range rows {
		counts[domain.ImageStatus(row.Status)] += row.Count
	}
	return counts, nil
}

// ExistingURLs returns every non-empty original_url of non-DELETED records, or of
// all records when includeDeleted is set.
func (r *ImageRepository) ExistingURLs(ctx context.Context, includeDeleted bool) ([]string, error) {
	q := r.db.WithContext(ctx).Model(&domain.ImageRecord{}).
		Where("original_url IS NOT NULL AND original_url <> ''")
	if !includeDeleted {
		q = q.Where("(status IS NULL OR status <> ?)", domain.StatusDeleted)
	}

	var urls []string
	if err := q.Pluck("original_url", &urls).Error; err != nil {
		return nil, fmt.Errorf("failed to list urls: %w", err)
	}
	return urls, nil
}

// GetByID returns one record with its tags.
func (r *ImageRepository) GetByID(ctx context.Context, id int64) (*domain.ImageRecord, error) {
	rec, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	tags, err := r.TagsFor(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	rec.Tags = tags[id]
	return rec, nil
}

func (r *ImageRepository) get(ctx context.Context, id int64) (*domain.ImageRecord, error) {
	var rec domain.ImageRecord
	err := r.db.WithContext(ctx).Where("image_id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("image %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image %d: %w", id, err)
	}
	return &rec, nil
}

// GetByIDs returns the records that exist among ids, in no particular order.
func (r *ImageRepository) GetByIDs(ctx context.Context, ids []int64) ([]domain.ImageRecord, error) {
	var records []domain.ImageRecord
	if len(ids) == 0 {
		return records, nil
	}
	if err := r.db.WithContext(ctx).Where("image_id IN ?", ids).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get images by IDs: %w", err)
	}
	return records, nil
}

// TagsFor returns tag names per image id in insertion order.
func (r *ImageRepository) TagsFor(ctx context.Context, ids []int64) (map[int64][]string, error) {
	result := make(map[int64][]string, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var rows []domain.ImageTag
	err := r.db.WithContext(ctx).
		Where("image_id IN ?", ids).
		Order("image_tag_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	for _, row := range rows {
		result[row.ImageID] = append(result[row.ImageID], row.Tag)
	}
	return result, nil
}

// ListPage returns one page of records (1-based) and the total matching count.
// A nil status lists every record including DELETED ones.
func (r *ImageRepository) ListPage(ctx context.Context, page, size int, status *domain.ImageStatus) ([]domain.ImageRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}

	q := r.db.WithContext(ctx).Model(&domain.ImageRecord{})
	if status != nil {
		if *status == domain.StatusPending {
			q = q.Where(pendingClause, *status)
		} else {
			q = q.Where("status = ?", *status)
		}
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count images: %w", err)
	}

	var records []domain.ImageRecord
	err := q.Order("image_id ASC").Offset((page - 1) * size).Limit(size).Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list images: %w", err)
	}
	return records, total, nil
}

// ListTags returns the vocabulary ordered by tag id.
func (r *ImageRepository) ListTags(ctx context.Context) ([]domain.Tag, error) {
	var tags []domain.Tag
	if err := r.db.WithContext(ctx).Order("tag_id ASC").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	return tags, nil
}

// ReadyForExport returns all READY records with their tags attached.
func (r *ImageRepository) ReadyForExport(ctx context.Context) ([]domain.ImageRecord, error) {
	records, err := r.ListByStatus(ctx, domain.StatusReady)
	if err != nil {
		return nil, err
	}
	return r.attachTags(ctx, records)
}

// ListPublishable returns READY records that have no cloud_url yet.
func (r *ImageRepository) ListPublishable(ctx context.Context) ([]domain.ImageRecord, error) {
	var records []domain.ImageRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND (cloud_url IS NULL OR cloud_url = '')", domain.StatusReady).
		Order("image_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list publishable images: %w", err)
	}
	return records, nil
}

// SetCloudURL records where a published image is served from.
func (r *ImageRepository) SetCloudURL(ctx context.Context, id int64, url string) error {
	err := r.db.WithContext(ctx).Model(&domain.ImageRecord{}).
		Where("image_id = ?", id).
		Update("cloud_url", url).Error
	if err != nil {
		return fmt.Errorf("failed to set cloud_url of image %d: %w", id, err)
	}
	return nil
}

// Like increments the like counter of a live record and returns the new value.
func (r *ImageRepository) Like(ctx context.Context, id int64) (int, error) {
	return r.adjustLikes(ctx, id, gorm.Expr("like_cnt + 1"))
}

// Unlike decrements the like counter without going below zero.
func (r *ImageRepository) Unlike(ctx context.Context, id int64) (int, error) {
	return r.adjustLikes(ctx, id, gorm.Expr("CASE WHEN like_cnt > 0 THEN like_cnt - 1 ELSE 0 END"))
}

func (r *ImageRepository) adjustLikes(ctx context.Context, id int64, expr interface{}) (int, error) {
	res := r.db.WithContext(ctx).Model(&domain.ImageRecord{}).
		Where("image_id = ? AND (status IS NULL OR status <> ?)", id, domain.StatusDeleted).
		Update("like_cnt", expr)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update likes of image %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("image %d: %w", id, domain.ErrNotFound)
	}
	rec, err := r.get(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.LikeCount, nil
}

// Popular returns the most liked READY records.
func (r *ImageRepository) Popular(ctx context.Context, limit int) ([]domain.ImageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var records []domain.ImageRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.StatusReady).
		Order("like_cnt DESC, image_id ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list popular images: %w", err)
	}
	return r.attachTags(ctx, records)
}

func (r *ImageRepository) attachTags(ctx context.Context, records []domain.ImageRecord) ([]domain.ImageRecord, error) {
	ids := make([]int64, len(records))
	for i := range records {
		ids[i] = records[i].ID
	}
	tags, err := r.TagsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Tags = tags[records[i].ID]
	}
	return records, nil
}
