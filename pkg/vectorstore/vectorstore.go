// Package vectorstore 提供文档分块向量的存储与最近邻检索。
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"

	"docchat-go/internal/config"
)

// Metadata 是每个分块随向量一起保存的来源信息。
type Metadata struct {
	DocumentID    uint   `json:"document_id"`
	DocumentTitle string `json:"document_title"`
	ChunkIndex    int    `json:"chunk_index"`
}

// Entry 是索引中的一条记录。ID 在整个索引内唯一。
type Entry struct {
	ID           string
	Embedding    []float32
	Text         string
	Metadata     Metadata
	ModelVersion string
}

// Match 是一次检索的命中结果，Score 为余弦相似度。
type Match struct {
	Text     string
	Metadata Metadata
	Score    float64
}

// Index 定义向量索引的行为。实现必须支持并发读。
type Index interface {
	// Upsert 按 Entry.ID 写入，已存在则整体覆盖。
	Upsert(ctx context.Context, e Entry) error
	// Query 返回至多 k 条最相似的记录，按相似度降序；索引为空时返回空结果。
	// modelVersion 非空时只检索由该模型生成的向量。
	Query(ctx context.Context, vector []float32, k int, modelVersion string) ([]Match, error)
	// DeleteByDocument 删除某个文档的全部分块。
	DeleteByDocument(ctx context.Context, documentID uint) error
	Count(ctx context.Context) (int, error)
	// CountByDocument 返回某个文档当前在索引中的分块数。
	CountByDocument(ctx context.Context, documentID uint) (int, error)
}

// ErrDimensionMismatch 表示写入或查询的向量维度与索引不一致。
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// EntryID 返回分块记录的标识 doc_{documentID}_chunk_{chunkIndex}。
func EntryID(documentID uint, chunkIndex int) string {
	return fmt.Sprintf("doc_%d_chunk_%d", documentID, chunkIndex)
}

// NewIndex 根据配置创建向量索引，dims 为 embedding 维度。
func NewIndex(ctx context.Context, cfg config.VectorStoreConfig, dims int) (Index, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryIndex(dims), nil
	case "elasticsearch":
		return NewElasticsearchIndex(ctx, cfg.Elasticsearch, dims)
	case "pgvector":
		return NewPgvectorIndex(ctx, cfg.Pgvector, dims)
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
}

// clampK 将 k 限制在 [0, count] 内。
func clampK(k, count int) int {
	if k <= 0 || count <= 0 {
		return 0
	}
	if k > count {
		return count
	}
	return k
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
