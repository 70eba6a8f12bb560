package handler

import (
	"github.com/gin-gonic/gin"

	"docchat-go/pkg/vectorstore"
)

// IndexHandler 暴露向量索引的状态。
type IndexHandler struct {
	index vectorstore.Index
}

func NewIndexHandler(index vectorstore.Index) *IndexHandler {
	return &IndexHandler{index: index}
}

// Stats 返回索引中的分块数量。
func (h *IndexHandler) Stats(c *gin.Context) {
	n, err := h.index.Count(c.Request.Context())
	if err != nil {
		failWithError(c, "IndexStats", err)
		return
	}
	success(c, "success", gin.H{"entries": n})
}
