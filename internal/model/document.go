// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Document 对应于数据库中的 documents 表，记录上传文档的元数据与入库状态。
type Document struct {
	ID            uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Title         string `gorm:"type:varchar(255);not null" json:"title"`
	FileName      string `gorm:"type:varchar(255);not null" json:"fileName"`
	FileExtension string `gorm:"type:varchar(16);not null" json:"fileExtension"`
	// ObjectKey 是原始文件在对象存储中的键。
	ObjectKey  string    `gorm:"type:varchar(255);not null" json:"-"`
	FileMD5    string    `gorm:"type:varchar(32);index" json:"fileMd5"`
	Size       int64     `gorm:"not null" json:"size"`
	Processed  bool      `gorm:"not null;default:false;index" json:"processed"`
	ChunkCount int       `gorm:"not null;default:0" json:"chunkCount"`
	UploadedAt time.Time `gorm:"autoCreateTime" json:"uploadedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// DocumentDTO 是返回给客户端的文档结构。
type DocumentDTO struct {
	ID            uint      `json:"id"`
	Title         string    `json:"title"`
	FileName      string    `json:"fileName"`
	FileExtension string    `json:"fileExtension"`
	FileMD5       string    `json:"fileMd5"`
	Size          int64     `json:"size"`
	Processed     bool      `json:"processed"`
	ChunkCount    int       `json:"chunkCount"`
	UploadedAt    LocalTime `json:"uploadedAt"`
}

// ToDTO 转换为对外输出的结构。
func (d Document) ToDTO() DocumentDTO {
	return DocumentDTO{
		ID:            d.ID,
		Title:         d.Title,
		FileName:      d.FileName,
		FileExtension: d.FileExtension,
		FileMD5:       d.FileMD5,
		Size:          d.Size,
		Processed:     d.Processed,
		ChunkCount:    d.ChunkCount,
		UploadedAt:    LocalTime(d.UploadedAt),
	}
}
