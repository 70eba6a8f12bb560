package vectorstore

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"docchat-go/internal/config"
)

// pgChunk 对应 pgvector 表中的一行。
type pgChunk struct {
	ID            string          `gorm:"primaryKey;type:text"`
	DocumentID    uint            `gorm:"index;not null"`
	DocumentTitle string          `gorm:"type:text"`
	ChunkIndex    int             `gorm:"not null"`
	Text          string          `gorm:"type:text"`
	ModelVersion  string          `gorm:"type:varchar(128)"`
	Embedding     pgvector.Vector `gorm:"type:vector"`
}

// PgvectorIndex 使用 PostgreSQL + pgvector 实现 Index，按余弦距离 (<=>) 排序。
type PgvectorIndex struct {
	db    *gorm.DB
	table string
	dims  int
}

// NewPgvectorIndex 连接数据库并确保扩展和表存在。
func NewPgvectorIndex(ctx context.Context, cfg config.PgvectorConfig, dims int) (*PgvectorIndex, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect pgvector database: %w", err)
	}
	return NewPgvectorIndexWithDB(ctx, db, cfg.Table, dims)
}

// NewPgvectorIndexWithDB 在已有连接上创建索引。
func NewPgvectorIndexWithDB(ctx context.Context, db *gorm.DB, table string, dims int) (*PgvectorIndex, error) {
	if table == "" {
		table = "document_chunks"
	}
	idx := &PgvectorIndex{db: db, table: table, dims: dims}
	if err := idx.migrate(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (p *PgvectorIndex) migrate(ctx context.Context) error {
	db := p.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to enable pgvector extension: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id text PRIMARY KEY,
		document_id bigint NOT NULL,
		document_title text,
		chunk_index integer NOT NULL,
		text text,
		model_version varchar(128),
		embedding vector(%d)
	)`, p.table, p.dims)
	if err := db.Exec(ddl).Error; err != nil {
		return fmt.Errorf("failed to create table %s: %w", p.table, err)
	}
	idxDDL := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_document_id ON %s (document_id)", p.table, p.table)
	return db.Exec(idxDDL).Error
}

func (p *PgvectorIndex) Upsert(ctx context.Context, e Entry) error {
	if len(e.Embedding) != p.dims {
		return fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, p.dims, len(e.Embedding))
	}
	row := pgChunk{
		ID:            e.ID,
		DocumentID:    e.Metadata.DocumentID,
		DocumentTitle: e.Metadata.DocumentTitle,
		ChunkIndex:    e.Metadata.ChunkIndex,
		Text:          e.Text,
		ModelVersion:  e.ModelVersion,
		Embedding:     pgvector.NewVector(e.Embedding),
	}
	return p.db.WithContext(ctx).Table(p.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (p *PgvectorIndex) Query(ctx context.Context, vector []float32, k int, modelVersion string) ([]Match, error) {
	scoped := func() *gorm.DB {
		db := p.db.WithContext(ctx).Table(p.table)
		if modelVersion != "" {
			db = db.Where("model_version = ?", modelVersion)
		}
		return db
	}

	var count int64
	if err := scoped().Count(&count).Error; err != nil {
		return nil, err
	}
	k = clampK(k, int(count))
	if k == 0 {
		return []Match{}, nil
	}

	var rows []struct {
		pgChunk
		Distance float64 `gorm:"column:distance"`
	}
	err := scoped().
		Select("id, document_id, document_title, chunk_index, text, model_version, embedding <=> ? AS distance", pgvector.NewVector(vector)).
		Order("distance ASC").
		Limit(k).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pgvector search failed: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, Match{
			Text: r.Text,
			Metadata: Metadata{
				DocumentID:    r.DocumentID,
				DocumentTitle: r.DocumentTitle,
				ChunkIndex:    r.ChunkIndex,
			},
			Score: 1 - r.Distance,
		})
	}
	return matches, nil
}

func (p *PgvectorIndex) DeleteByDocument(ctx context.Context, documentID uint) error {
	return p.db.WithContext(ctx).Table(p.table).Where("document_id = ?", documentID).Delete(&pgChunk{}).Error
}

func (p *PgvectorIndex) Count(ctx context.Context) (int, error) {
	var n int64
	if err := p.db.WithContext(ctx).Table(p.table).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

func (p *PgvectorIndex) CountByDocument(ctx context.Context, documentID uint) (int, error) {
	var n int64
	if err := p.db.WithContext(ctx).Table(p.table).Where("document_id = ?", documentID).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}
