package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex 是进程内的向量索引，使用暴力余弦相似度检索。
type MemoryIndex struct {
	mu      sync.RWMutex
	dims    int
	entries map[string]Entry
}

func NewMemoryIndex(dims int) *MemoryIndex {
	return &MemoryIndex{dims: dims, entries: make(map[string]Entry)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, e Entry) error {
	if m.dims > 0 && len(e.Embedding) != m.dims {
		return fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, m.dims, len(e.Embedding))
	}
	vec := make([]float32, len(e.Embedding))
	copy(vec, e.Embedding)
	e.Embedding = vec

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int, modelVersion string) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		id    string
		score float64
	}
	all := make([]scored, 0, len(m.entries))
	for id, e := range m.entries {
		// 换模型后旧向量不可比，直接跳过
		if modelVersion != "" && e.ModelVersion != modelVersion {
			continue
		}
		all = append(all, scored{id: id})
	}

	k = clampK(k, len(all))
	if k == 0 {
		return []Match{}, nil
	}
	if m.dims > 0 && len(vector) != m.dims {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, m.dims, len(vector))
	}
	for i := range all {
		all[i].score = cosine(vector, m.entries[all[i].id].Embedding)
	}
	// 相似度相同时按 id 排序，保证结果稳定
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].id < all[j].id
	})

	matches := make([]Match, 0, k)
	for _, s := range all[:k] {
		e := m.entries[s.id]
		matches = append(matches, Match{Text: e.Text, Metadata: e.Metadata, Score: s.score})
	}
	return matches, nil
}

func (m *MemoryIndex) DeleteByDocument(ctx context.Context, documentID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.Metadata.DocumentID == documentID {
			delete(m.entries, id)
		}
	}
	return nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryIndex) CountByDocument(ctx context.Context, documentID uint) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.Metadata.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}
