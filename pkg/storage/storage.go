// Package storage 保存上传的原始文档文件。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"docchat-go/internal/config"
)

// ErrObjectNotFound 表示对象不存在。
var ErrObjectNotFound = errors.New("object not found")

// Store 定义了原始文件的存取操作。
type Store interface {
	// Put 写入对象，size 未知时传 -1。
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// Fetch 返回一个可读的本地文件路径，用完后调用 cleanup。
	Fetch(ctx context.Context, key string) (path string, cleanup func(), err error)
	Remove(ctx context.Context, key string) error
}

// New 根据配置创建 Store。
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocalStore(cfg.LocalDir)
	case "minio":
		return NewMinIOStore(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
