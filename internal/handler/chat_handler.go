package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"docchat-go/internal/model"
	"docchat-go/internal/service"
	"docchat-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理会话与消息相关的请求。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

type createSessionRequest struct {
	Title string `json:"title"`
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// CreateSession 新建会话，title 可选。
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	// 请求体可以为空
	_ = c.ShouldBindJSON(&req)
	session, err := h.chatService.CreateSession(req.Title)
	if err != nil {
		failWithError(c, "CreateSession", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "会话创建成功", "data": session.ToDTO(nil)})
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	sessions, err := h.chatService.ListSessions()
	if err != nil {
		failWithError(c, "ListSessions", err)
		return
	}
	out := make([]model.ChatSessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ToDTO(nil))
	}
	success(c, "获取会话列表成功", out)
}

// GetSession 返回会话及其全部消息。
func (h *ChatHandler) GetSession(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	session, msgs, err := h.chatService.GetSession(id)
	if err != nil {
		failWithError(c, "GetSession", err)
		return
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	success(c, "获取会话成功", session.ToDTO(msgs))
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.chatService.DeleteSession(id); err != nil {
		failWithError(c, "DeleteSession", err)
		return
	}
	success(c, "会话删除成功", nil)
}

// SendMessage 处理 {"message": "..."}，返回 {"status":"success","response":"..."}。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request"})
		return
	}

	reply, err := h.chatService.SendMessage(c.Request.Context(), id, req.Message)
	if err != nil {
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			log.Errorf("SendMessage: failed: %v", err)
		}
		c.JSON(status, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"response": reply.AssistantMessage.Content,
		"sources":  reply.Sources,
	})
}

// wsFrame 是服务端发往 websocket 客户端的消息。
type wsFrame struct {
	Type      string              `json:"type"` // response | error
	Response  string              `json:"response,omitempty"`
	Message   string              `json:"message,omitempty"`
	Sources   []service.SourceDTO `json:"sources,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// Handle 处理一个会话的 WebSocket 连接：每收到一个问题返回一条完整回答。
// 客户端可发送纯文本或 {"message": "..."}。
func (h *ChatHandler) Handle(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if _, _, err := h.chatService.GetSession(id); err != nil {
		failWithError(c, "ChatWebsocket", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，会话: %d", id)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		text := string(message)
		if len(message) > 0 && message[0] == '{' {
			var req sendMessageRequest
			if err := json.Unmarshal(message, &req); err == nil {
				text = req.Message
			}
		}

		frame := wsFrame{Timestamp: time.Now().UnixMilli()}
		reply, err := h.chatService.SendMessage(c.Request.Context(), id, strings.TrimSpace(text))
		switch {
		case errors.Is(err, service.ErrEmptyMessage):
			frame.Type, frame.Message = "error", err.Error()
		case err != nil:
			log.Errorf("WebSocket 处理消息失败: %v", err)
			frame.Type, frame.Message = "error", "处理消息失败"
		default:
			frame.Type, frame.Response, frame.Sources = "response", reply.AssistantMessage.Content, reply.Sources
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Warnf("写入 WebSocket 消息失败: %v", err)
			return
		}
	}
}
