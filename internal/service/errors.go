// Package service 包含了应用的业务逻辑层。
package service

import "errors"

var (
	ErrDocumentNotFound    = errors.New("document not found")
	ErrSessionNotFound     = errors.New("chat session not found")
	ErrEmptyMessage        = errors.New("message must not be empty")
	ErrUnsupportedFileType = errors.New("unsupported file type")
)
