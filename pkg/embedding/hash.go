package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashClient 是一个无需外部服务的确定性向量化实现：
// 词元经 FNV-1a 散列到 D 个桶（带符号），结果做 L2 归一化。
type HashClient struct {
	dims int
}

// NewHashClient 创建指定维度的 HashClient。
func NewHashClient(dims int) *HashClient {
	if dims <= 0 {
		dims = 384
	}
	return &HashClient{dims: dims}
}

func (c *HashClient) Dimensions() int { return c.dims }

func (c *HashClient) Model() string { return fmt.Sprintf("hash-%d", c.dims) }

// CreateEmbedding 对同一输入总是返回相同的向量。
func (c *HashClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, c.dims)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(c.dims))
		if (sum>>63)&1 == 1 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, c.dims)
	if norm == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
