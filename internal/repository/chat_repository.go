package repository

import (
	"gorm.io/gorm"

	"docchat-go/internal/model"
)

// ChatRepository 定义了会话与消息的持久化操作。
type ChatRepository interface {
	CreateSession(session *model.ChatSession) error
	FindSession(id uint) (*model.ChatSession, error)
	ListSessions() ([]model.ChatSession, error)
	UpdateSessionTitle(id uint, title string) error
	// DeleteSession 删除会话及其全部消息。
	DeleteSession(id uint) error
	AppendMessage(msg *model.ChatMessage) error
	// ListMessages 按创建顺序返回会话的消息。
	ListMessages(sessionID uint) ([]model.ChatMessage, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) CreateSession(session *model.ChatSession) error {
	return r.db.Create(session).Error
}

func (r *chatRepository) FindSession(id uint) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := r.db.First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions 按创建时间倒序返回所有会话。
func (r *chatRepository) ListSessions() ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.db.Order("created_at DESC, id DESC").Find(&sessions).Error
	return sessions, err
}

func (r *chatRepository) UpdateSessionTitle(id uint, title string) error {
	return r.db.Model(&model.ChatSession{}).Where("id = ?", id).Update("title", title).Error
}

func (r *chatRepository) DeleteSession(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.ChatSession{}, id).Error
	})
}

func (r *chatRepository) AppendMessage(msg *model.ChatMessage) error {
	return r.db.Create(msg).Error
}

func (r *chatRepository) ListMessages(sessionID uint) ([]model.ChatMessage, error) {
	var msgs []model.ChatMessage
	err := r.db.Where("session_id = ?", sessionID).Order("created_at ASC, id ASC").Find(&msgs).Error
	return msgs, err
}
