// Package chunker 将纯文本切分为按词计数、相互重叠的窗口。
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// ErrInvalidChunkParameters 表示窗口参数会导致步长非正。
var ErrInvalidChunkParameters = errors.New("invalid chunk parameters")

// Chunker 按空白分词后生成重叠窗口，原有的空白结构不保留。
type Chunker struct {
	chunkSize int
	overlap   int
}

// New 校验参数并创建 Chunker，overlap 必须小于 chunkSize。
func New(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 || overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk_size=%d overlap=%d", ErrInvalidChunkParameters, chunkSize, overlap)
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// Default 返回 500/50 的默认 Chunker。
func Default() *Chunker {
	return &Chunker{chunkSize: DefaultChunkSize, overlap: DefaultOverlap}
}

// ChunkSize 返回窗口大小（词数）。
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap 返回相邻窗口的重叠词数。
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk 切分文本。窗口 i 覆盖 words[i*step : i*step+chunkSize]，空文本返回空切片。
func (c *Chunker) Chunk(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{}
	}

	step := c.chunkSize - c.overlap
	chunks := make([]string, 0, (len(words)+step-1)/step)
	for start := 0; start < len(words); start += step {
		end := start + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}
