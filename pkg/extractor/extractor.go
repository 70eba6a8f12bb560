// Package extractor 把上传的原始文档转换为纯文本，按文件扩展名分派到具体的解析函数。
package extractor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"docchat-go/pkg/log"
)

var (
	// ErrUnsupportedFormat 表示文件扩展名不在支持列表中。
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrExtraction 表示文件不可读、已损坏或提取超时。
	ErrExtraction = errors.New("text extraction failed")
)

// extractFunc 从本地文件路径读取文本。
type extractFunc func(path string) (string, error)

// handlers 是扩展名到提取函数的封闭分派表。
var handlers = map[string]extractFunc{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".txt":  extractText,
}

// Extractor 负责文本提取，timeout 为 0 时不限制耗时。
type Extractor struct {
	timeout time.Duration
}

// New 创建一个新的 Extractor 实例。
func New(timeout time.Duration) *Extractor {
	return &Extractor{timeout: timeout}
}

// Supported 判断扩展名（带或不带 "."，大小写不敏感）是否可被提取。
func Supported(ext string) bool {
	_, ok := handlers[normalizeExt(ext)]
	return ok
}

// SupportedExtensions 返回排好序的受支持扩展名列表。
func SupportedExtensions() []string {
	exts := make([]string, 0, len(handlers))
	for ext := range handlers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract 根据 path 的扩展名提取纯文本。
// 未知扩展名返回 ErrUnsupportedFormat；读取或解析失败返回 ErrExtraction，不会静默返回空文本。
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	ext := normalizeExt(filepath.Ext(path))
	handler, ok := handlers[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := safeExtract(handler, path)
		done <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		log.Warnf("[Extractor] 提取超时或被取消, path: %s", path)
		return "", fmt.Errorf("%w: %s: %w", ErrExtraction, path, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrExtraction, path, r.err)
		}
		log.Infof("[Extractor] 文本提取成功, path: %s, 长度: %d 字节", path, len(r.text))
		return r.text, nil
	}
}

// safeExtract 把解析库内部的 panic 转换为错误，损坏的 PDF 常会触发这种情况。
func safeExtract(fn extractFunc, path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	return fn(path)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
