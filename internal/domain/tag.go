package domain

// Controlled tag vocabulary. Annotation picks between MinTags and MaxTags of these.
const (
	TagFunny     = "funny"
	TagSad       = "sad"
	TagCute      = "cute"
	TagAnimal    = "animal"
	TagPerson    = "person"
	TagCartoon   = "cartoon"
	TagCharacter = "character"
)

const (
	MinTags = 2
	MaxTags = 4
)

// TagVocabulary is the fixed, ordered tag list. Seeding follows this order so tag ids are stable.
var TagVocabulary = []string{TagFunny, TagSad, TagCute, TagAnimal, TagPerson, TagCartoon, TagCharacter}

// IsKnownTag reports whether name belongs to the vocabulary.
func IsKnownTag(name string) bool {
	for _, t := range TagVocabulary {
		if t == name {
			return true
		}
	}
	return false
}

// Tag is a vocabulary entry.
type Tag struct {
	ID   int64  `gorm:"column:tag_id;primaryKey;autoIncrement" json:"tag_id"`
	Name string `gorm:"column:tag_name;type:varchar(64);uniqueIndex" json:"tag_name"`
}

// TableName returns the database table name for Tag.
func (Tag) TableName() string {
	return "tags"
}

// ImageTag links an image record to one tag name.
type ImageTag struct {
	ID      int64  `gorm:"column:image_tag_id;primaryKey;autoIncrement"`
	ImageID int64  `gorm:"column:image_id;not null;index:idx_image_tags_image"`
	Tag     string `gorm:"column:tag;type:varchar(64);not null"`
}

// TableName returns the database table name for ImageTag.
func (ImageTag) TableName() string {
	return "image_tags"
}
