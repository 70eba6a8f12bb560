package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-go/internal/middleware"
)

// Handlers 汇总所有控制器。
type Handlers struct {
	Document *DocumentHandler
	Chat     *ChatHandler
	Index    *IndexHandler
}

// NewRouter 注册所有路由。
func NewRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		docs := api.Group("/documents")
		docs.POST("", h.Document.Upload)
		docs.GET("", h.Document.List)
		docs.GET("/:id", h.Document.Get)
		docs.DELETE("/:id", h.Document.Delete)

		chat := api.Group("/chat/sessions")
		chat.POST("", h.Chat.CreateSession)
		chat.GET("", h.Chat.ListSessions)
		chat.GET("/:id", h.Chat.GetSession)
		chat.DELETE("/:id", h.Chat.DeleteSession)
		chat.POST("/:id/messages", h.Chat.SendMessage)

		api.GET("/index/stats", h.Index.Stats)
	}

	r.GET("/chat/ws/:id", h.Chat.Handle)
	return r
}
