package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-go/internal/model"
	"docchat-go/internal/service"
	"docchat-go/pkg/log"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService  service.DocumentService
	maxUploadMB int64
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService, maxUploadMB int64) *DocumentHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &DocumentHandler{docService: docService, maxUploadMB: maxUploadMB}
}

// Upload 处理 multipart 文档上传，字段 document 为文件，title 可选。
func (h *DocumentHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadMB<<20)

	fileHeader, err := c.FormFile("document")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "文件过大")
			return
		}
		fail(c, http.StatusBadRequest, "缺少上传文件 document")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "无法读取上传文件")
		return
	}
	defer file.Close()

	doc, err := h.docService.Upload(c.Request.Context(), service.UploadRequest{
		Title:    c.PostForm("title"),
		FileName: fileHeader.Filename,
		Content:  file,
		Size:     fileHeader.Size,
	})
	if err != nil {
		log.Warnf("Upload: 文档 %s 处理失败: %v", fileHeader.Filename, err)
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			// 入库失败属于文件本身的问题时返回 422
			status = http.StatusUnprocessableEntity
		}
		fail(c, status, "Error processing document: "+err.Error())
		return
	}

	message := "文档上传并处理成功"
	if !doc.Processed {
		message = "文档已上传，正在后台处理"
	}
	success(c, message, doc.ToDTO())
}

// List 返回全部文档，?processed=true 时仅返回已处理的文档。
func (h *DocumentHandler) List(c *gin.Context) {
	var (
		docs []model.Document
		err  error
	)
	if c.Query("processed") == "true" {
		docs, err = h.docService.ListProcessed()
	} else {
		docs, err = h.docService.List()
	}
	if err != nil {
		failWithError(c, "ListDocuments", err)
		return
	}
	out := make([]model.DocumentDTO, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ToDTO())
	}
	success(c, "获取文档列表成功", out)
}

// Get 返回单个文档。
func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	doc, err := h.docService.Get(id)
	if err != nil {
		failWithError(c, "GetDocument", err)
		return
	}
	success(c, "获取文档成功", doc.ToDTO())
}

// Delete 删除文档及其全部索引分块。
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.docService.Delete(c.Request.Context(), id); err != nil {
		failWithError(c, "DeleteDocument", err)
		return
	}
	success(c, "文档删除成功", nil)
}
