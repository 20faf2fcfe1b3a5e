package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/galaxy-chat/internal/attach"
	"github.com/suPer8Hu/galaxy-chat/internal/common"
	"github.com/suPer8Hu/galaxy-chat/internal/config"
	"github.com/suPer8Hu/galaxy-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/galaxy-chat/internal/httpapi/middleware"
	"go.uber.org/zap"
)

func NewRouter(cfg config.Config, h *handlers.Handler, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	if cfg.AttachBackend == "local" {
		r.Static(attach.LocalPrefix, cfg.UploadDir)
	}

	api := r.Group("/api")
	api.Use(middleware.AuthRequired(cfg.JWTSecret))

	api.POST("/chat", h.Chat)
	api.POST("/upload", h.Upload)

	api.GET("/conversations", h.ListConversations)
	api.POST("/conversations", h.CreateConversation)
	api.POST("/conversations/generate-title", h.GenerateTitle)
	api.GET("/conversations/:conversationId", h.GetConversation)
	api.PATCH("/conversations/:conversationId", h.RenameConversation)
	api.DELETE("/conversations/:conversationId", h.DeleteConversation)
	api.GET("/conversations/:conversationId/status", h.ConversationStatus)

	api.POST("/messages/check-duplicate", h.CheckDuplicate)
	api.GET("/messages/:conversationId", h.ListMessages)
	api.DELETE("/messages/:conversationId/delete-after", h.DeleteAfter)
	api.PUT("/messages/:conversationId/:messageId", h.EditMessage)
	api.DELETE("/messages/:conversationId/:messageId", h.DeleteMessage)
	api.POST("/messages/:conversationId/:messageId/reask", h.ReAsk)
	return r
}
