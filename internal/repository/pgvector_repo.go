package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// imageVector is one row of the pgvector-backed index.
type imageVector struct {
	ImageID   int64           `gorm:"column:image_id;primaryKey;autoIncrement:false"`
	Embedding pgvector.Vector `gorm:"column:embedding"`
	Tags      string          `gorm:"column:tags;type:jsonb"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (imageVector) TableName() string {
	return "image_vectors"
}

// PgVectorIndex is a VectorIndex stored next to the records in PostgreSQL.
type PgVectorIndex struct {
	db         *gorm.DB
	dimensions int
}

// NewPgVectorIndex creates a pgvector index on a PostgreSQL connection.
// Parameters:
//   - db: GORM handle opened with the postgres driver.
//   - dimensions: embedding vector size.
// Returns:
//   - *PgVectorIndex: index bound to db.
//   - error: non-nil if db is not PostgreSQL.
func NewPgVectorIndex(db *gorm.DB, dimensions int) (*PgVectorIndex, error) {
	if name := db.Dialector.Name(); name != "postgres" {
		return nil, fmt.Errorf("pgvector index requires postgres, got %s", name)
	}
	if dimensions <= 0 {
		dimensions = defaultVectorDimension
	}
	return &PgVectorIndex{db: db, dimensions: dimensions}, nil
}

// EnsureCollection installs the extension and creates the table and its HNSW index.
func (p *PgVectorIndex) EnsureCollection(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS image_vectors (
			image_id BIGINT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			tags JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, p.dimensions),
		"CREATE INDEX IF NOT EXISTS image_vectors_embedding_idx ON image_vectors USING hnsw (embedding vector_cosine_ops)",
	}
	for _, stmt := range stmts {
		if err := p.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to prepare pgvector schema: %w", err)
		}
	}
	return nil
}

// Upsert writes all points in a single INSERT ... ON CONFLICT statement.
func (p *PgVectorIndex) Upsert(ctx context.Context, points []VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	now := time.Now()
	rows := make([]imageVector, 0, len(points))
	for _, pt := range points {
		if len(pt.Vector) != p.dimensions {
			return fmt.Errorf("image %d: vector has %d dimensions, expected %d", pt.ImageID, len(pt.Vector), p.dimensions)
		}
		tags, err := json.Marshal(nonNilTags(pt.Tags))
		if err != nil {
			return fmt.Errorf("failed to encode tags of image %d: %w", pt.ImageID, err)
		}
		rows = append(rows, imageVector{
			ImageID:   pt.ImageID,
			Embedding: pgvector.NewVector(pt.Vector),
			Tags:      string(tags),
			UpdatedAt: now,
		})
	}

	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "image_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"embedding", "tags", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to upsert %d vectors: %w", len(points), err)
	}
	return nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// Search orders by cosine distance and reports 1 - distance as the score.
func (p *PgVectorIndex) Search(ctx context.Context, vector []float32, k int, filter *VectorFilter) ([]VectorHit, error) {
	vec := pgvector.NewVector(vector)

	query := p.db.WithContext(ctx).Table("image_vectors").
		Select("image_id, 1 - (embedding <=> ?) AS score", vec)
	if filter != nil && len(filter.Tags) > 0 {
		query = query.Where("jsonb_exists_any(tags, ?)", filter.Tags)
	}

	var rows []struct {
		ImageID int64
		Score   float32
	}
	err := query.
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{vec}}).
		Limit(k).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]VectorHit, len(rows))
	for i, row := range rows {
		hits[i] = VectorHit{ImageID: row.ImageID, Score: row.Score}
	}
	return hits, nil
}

// Delete removes the vectors of the given images.
func (p *PgVectorIndex) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := p.db.WithContext(ctx).Where("image_id IN ?", ids).Delete(&imageVector{}).Error; err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the record store.
func (p *PgVectorIndex) Close() error {
	return nil
}
