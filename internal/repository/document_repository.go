// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"gorm.io/gorm"

	"docchat-go/internal/model"
)

// DocumentRepository 接口定义了文档元数据的持久化操作。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id uint) (*model.Document, error)
	FindByMD5(fileMD5 string) (*model.Document, error)
	FindAll() ([]model.Document, error)
	FindProcessed() ([]model.Document, error)
	MarkProcessed(id uint, chunkCount int) error
	Delete(id uint) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// FindByID 不存在时返回 gorm.ErrRecordNotFound。
func (r *documentRepository) FindByID(id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.First(&doc, id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByMD5 返回内容相同的第一个文档。
func (r *documentRepository) FindByMD5(fileMD5 string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("file_md5 = ?", fileMD5).Order("id ASC").First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindAll 按上传时间倒序返回所有文档。
func (r *documentRepository) FindAll() ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Order("uploaded_at DESC, id DESC").Find(&docs).Error
	return docs, err
}

func (r *documentRepository) FindProcessed() ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("processed = ?", true).Order("uploaded_at DESC, id DESC").Find(&docs).Error
	return docs, err
}

func (r *documentRepository) MarkProcessed(id uint, chunkCount int) error {
	res := r.db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed":   true,
		"chunk_count": chunkCount,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *documentRepository) Delete(id uint) error {
	return r.db.Delete(&model.Document{}, id).Error
}
