package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/galaxy-chat/internal/common"
)

type createConversationReq struct {
	Title    string `json:"title"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (h *Handler) CreateConversation(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	var req createConversationReq
	_ = c.ShouldBindJSON(&req) // allow empty body

	conv, err := h.ChatSvc.CreateConversation(c.Request.Context(), owner, req.Title, req.Provider, req.Model)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) ListConversations(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	convs, err := h.ChatSvc.ListConversations(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"conversations": convs})
}

func (h *Handler) GetConversation(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	conv, err := h.ChatSvc.GetConversation(c.Request.Context(), owner, c.Param("conversationId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, conv)
}

type renameReq struct {
	Title string `json:"title"`
}

func (h *Handler) RenameConversation(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	conv, err := h.ChatSvc.RenameConversation(c.Request.Context(), owner, c.Param("conversationId"), req.Title)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, conv)
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.DeleteConversation(c.Request.Context(), owner, c.Param("conversationId")); err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"success": true})
}

// ConversationStatus reports where the conversation's current operation is.
func (h *Handler) ConversationStatus(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	conv, err := h.ChatSvc.GetConversation(c.Request.Context(), owner, c.Param("conversationId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"state": h.ChatSvc.TurnState(conv.ConversationID)})
}

type generateTitleReq struct {
	ConversationID string `json:"conversationId"`
	FirstMessage   string `json:"firstMessage"`
}

func (h *Handler) GenerateTitle(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	var req generateTitleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	title, err := h.ChatSvc.GenerateTitle(c.Request.Context(), owner, req.ConversationID, req.FirstMessage)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"title": title, "success": true})
}
