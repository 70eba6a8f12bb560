package model

import "time"

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultSessionTitle 是新建会话的默认标题，收到第一条用户消息后会被替换。
const DefaultSessionTitle = "New Chat"

// ChatSession 代表一次独立的对话。
type ChatSession struct {
	ID        uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	Title     string        `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"createdAt"`
	Messages  []ChatMessage `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage 代表会话中的单条消息。
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID uint      `gorm:"index;not null" json:"sessionId"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"` // "user" 或 "assistant"
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// ChatMessageDTO 是返回给客户端的消息结构。
type ChatMessageDTO struct {
	ID        uint      `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp LocalTime `json:"timestamp"`
}

// ChatSessionDTO 是返回给客户端的会话结构。
type ChatSessionDTO struct {
	ID        uint             `json:"id"`
	Title     string           `json:"title"`
	CreatedAt LocalTime        `json:"createdAt"`
	Messages  []ChatMessageDTO `json:"messages,omitempty"`
}

// ToDTO 转换为对外输出的结构，messages 为 nil 时不输出消息列表。
func (s ChatSession) ToDTO(messages []ChatMessage) ChatSessionDTO {
	dto := ChatSessionDTO{ID: s.ID, Title: s.Title, CreatedAt: LocalTime(s.CreatedAt)}
	if messages != nil {
		dto.Messages = make([]ChatMessageDTO, 0, len(messages))
		for _, m := range messages {
			dto.Messages = append(dto.Messages, m.ToDTO())
		}
	}
	return dto
}

func (m ChatMessage) ToDTO() ChatMessageDTO {
	return ChatMessageDTO{ID: m.ID, Role: m.Role, Content: m.Content, Timestamp: LocalTime(m.CreatedAt)}
}
