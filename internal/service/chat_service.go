package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"docchat-go/internal/model"
	"docchat-go/internal/pipeline"
	"docchat-go/internal/repository"
	"docchat-go/pkg/log"
)

const maxTitleRunes = 50

// Answerer 回答问题，不返回错误。
type Answerer interface {
	Ask(ctx context.Context, query string) pipeline.Answer
}

// SourceDTO 描述回答引用的文档分块。
type SourceDTO struct {
	DocumentID    uint    `json:"documentId"`
	DocumentTitle string  `json:"documentTitle"`
	ChunkIndex    int     `json:"chunkIndex"`
	Score         float64 `json:"score"`
}

// ChatReply 是一次发送消息的结果。
type ChatReply struct {
	UserMessage      model.ChatMessage
	AssistantMessage model.ChatMessage
	Sources          []SourceDTO
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	CreateSession(title string) (*model.ChatSession, error)
	ListSessions() ([]model.ChatSession, error)
	GetSession(id uint) (*model.ChatSession, []model.ChatMessage, error)
	DeleteSession(id uint) error
	// SendMessage 先保存用户消息，再生成并保存回答。回答失败时以错误文本作为回答保存。
	SendMessage(ctx context.Context, sessionID uint, text string) (*ChatReply, error)
}

type chatService struct {
	chatRepo repository.ChatRepository
	answerer Answerer
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(chatRepo repository.ChatRepository, answerer Answerer) ChatService {
	return &chatService{chatRepo: chatRepo, answerer: answerer}
}

func (s *chatService) CreateSession(title string) (*model.ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = model.DefaultSessionTitle
	}
	session := &model.ChatSession{Title: title}
	if err := s.chatRepo.CreateSession(session); err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}
	return session, nil
}

func (s *chatService) ListSessions() ([]model.ChatSession, error) {
	return s.chatRepo.ListSessions()
}

func (s *chatService) GetSession(id uint) (*model.ChatSession, []model.ChatMessage, error) {
	session, err := s.findSession(id)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.chatRepo.ListMessages(id)
	if err != nil {
		return nil, nil, err
	}
	return session, msgs, nil
}

func (s *chatService) DeleteSession(id uint) error {
	if _, err := s.findSession(id); err != nil {
		return err
	}
	return s.chatRepo.DeleteSession(id)
}

func (s *chatService) SendMessage(ctx context.Context, sessionID uint, text string) (*ChatReply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	session, err := s.findSession(sessionID)
	if err != nil {
		return nil, err
	}

	// 1. 保存用户消息
	userMsg := model.ChatMessage{SessionID: sessionID, Role: model.RoleUser, Content: text}
	if err := s.chatRepo.AppendMessage(&userMsg); err != nil {
		return nil, fmt.Errorf("保存用户消息失败: %w", err)
	}
	if session.Title == model.DefaultSessionTitle {
		if err := s.chatRepo.UpdateSessionTitle(sessionID, truncateRunes(text, maxTitleRunes)); err != nil {
			log.Warnf("[ChatService] 更新会话标题失败, SessionID: %d, Error: %v", sessionID, err)
		}
	}

	// 2. 生成回答
	answer := s.answerer.Ask(ctx, text)

	// 3. 保存回答
	assistantMsg := model.ChatMessage{SessionID: sessionID, Role: model.RoleAssistant, Content: answer.Text}
	if err := s.chatRepo.AppendMessage(&assistantMsg); err != nil {
		return nil, fmt.Errorf("保存回答失败: %w", err)
	}

	sources := make([]SourceDTO, 0, len(answer.Sources))
	for _, m := range answer.Sources {
		sources = append(sources, SourceDTO{
			DocumentID:    m.Metadata.DocumentID,
			DocumentTitle: m.Metadata.DocumentTitle,
			ChunkIndex:    m.Metadata.ChunkIndex,
			Score:         m.Score,
		})
	}
	return &ChatReply{UserMessage: userMsg, AssistantMessage: assistantMsg, Sources: sources}, nil
}

func (s *chatService) findSession(id uint) (*model.ChatSession, error) {
	session, err := s.chatRepo.FindSession(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	return session, err
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
