package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

var errMissingDocumentXML = errors.New("word/document.xml not found")

// extractDOCX 拼接正文各段落的文本，段落之间以换行连接。
func extractDOCX(path string) (string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", err
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		return parseDocumentXML(content)
	}
	return "", errMissingDocumentXML
}

// parseDocumentXML 按文档顺序收集正文中每个段落 (w:p) 内的全部 w:t 文本。
// 超链接 (w:hyperlink)、修订插入 (w:ins) 等容器里的 run 同样计入，删除的文本 (w:delText) 不计入。
func parseDocumentXML(content []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	var (
		paragraphs []string
		sb         strings.Builder
		inBody     bool
		paraDepth  int
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "body":
				inBody = true
			case inBody && t.Name.Local == "p":
				paraDepth++
			case paraDepth > 0 && t.Name.Local == "t":
				inText = true
			}
		case xml.EndElement:
			switch {
			case t.Name.Local == "body":
				inBody = false
			case inBody && t.Name.Local == "p" && paraDepth > 0:
				// 文本框等嵌套段落并入外层段落
				if paraDepth--; paraDepth == 0 {
					paragraphs = append(paragraphs, sb.String())
					sb.Reset()
				}
			case t.Name.Local == "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.Join(paragraphs, "\n"), nil
}
