package extractor

import (
	"errors"
	"os"
	"strings"
	"unicode/utf8"
)

var errInvalidUTF8 = errors.New("file is not valid UTF-8")

// extractText 以 UTF-8 读取整个文件。
func extractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errInvalidUTF8
	}
	return strings.TrimPrefix(string(data), "\ufeff"), nil
}
