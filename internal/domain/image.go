package domain

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// ImageStatus is the lifecycle state of an image record.
// Records move PENDING -> CAPTIONED -> READY, and may be moved to DELETED from any state.
type ImageStatus string

const (
	StatusPending   ImageStatus = "PENDING"
	StatusCaptioned ImageStatus = "CAPTIONED"
	StatusReady     ImageStatus = "READY"
	StatusDeleted   ImageStatus = "DELETED"
)

// AllStatuses lists every lifecycle state in pipeline order.
var AllStatuses = []ImageStatus{StatusPending, StatusCaptioned, StatusReady, StatusDeleted}

// ParseImageStatus converts an operator-supplied string into an ImageStatus.
// Parameters:
//   - s: status name, case-sensitive upper case.
// Returns:
//   - ImageStatus: parsed status.
//   - error: non-nil if s is not a known status.
func ParseImageStatus(s string) (ImageStatus, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Value implements driver.Valuer.
func (s ImageStatus) Value() (driver.Value, error) {
	if s == "" {
		return string(StatusPending), nil
	}
	return string(s), nil
}

// Scan implements sql.Scanner. Legacy rows with a NULL status read as PENDING.
func (s *ImageStatus) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = StatusPending
	case string:
		*s = ImageStatus(v)
	case []byte:
		*s = ImageStatus(v)
	default:
		return fmt.Errorf("failed to scan ImageStatus from %T", value)
	}
	if *s == "" {
		*s = StatusPending
	}
	return nil
}

// CanTransition reports whether a record may move from one status to another.
// DELETED is reachable from every state and nothing leaves it; otherwise only
// single forward steps are allowed.
func CanTransition(from, to ImageStatus) bool {
	if from == StatusDeleted {
		return false
	}
	if to == StatusDeleted {
		return true
	}
	switch from {
	case StatusPending, "":
		return to == StatusCaptioned
	case StatusCaptioned:
		return to == StatusReady
	default:
		return false
	}
}

// ImageRecord is a single ingested image and its lifecycle state.
type ImageRecord struct {
	ID          int64       `gorm:"column:image_id;primaryKey;autoIncrement" json:"image_id"`
	OriginalURL string      `gorm:"column:original_url;type:text;index:idx_images_original_url" json:"original_url"`
	SrcURL      string      `gorm:"column:src_url;type:text" json:"src_url"`
	Width       int         `gorm:"column:width" json:"width"`
	Height      int         `gorm:"column:height" json:"height"`
	LikeCount   int         `gorm:"column:like_cnt;not null;default:0" json:"like_count"`
	Caption     *string     `gorm:"column:caption;type:text" json:"caption"`
	CloudURL    *string     `gorm:"column:cloud_url;type:text" json:"cloud_url"`
	Status      ImageStatus `gorm:"column:status;type:varchar(16);index:idx_images_status;default:PENDING" json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	Tags []string `gorm:"-" json:"tags,omitempty"`
}

// TableName returns the database table name for ImageRecord.
func (ImageRecord) TableName() string {
	return "images"
}

// CaptionText returns the caption or an empty string when unset.
func (r *ImageRecord) CaptionText() string {
	if r.Caption == nil {
		return ""
	}
	return *r.Caption
}

// Candidate is an image descriptor offered to the ingest gate by a source.
type Candidate struct {
	OriginalURL string `json:"original_url"`
	SrcURL      string `json:"src_url"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Validate checks that the candidate can become a record.
func (c Candidate) Validate() error {
	if c.OriginalURL == "" {
		return fmt.Errorf("%w: empty original_url", ErrInvalidCandidate)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: non-positive dimensions %dx%d", ErrInvalidCandidate, c.Width, c.Height)
	}
	return nil
}
