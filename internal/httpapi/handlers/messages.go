package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/galaxy-chat/internal/chat"
	"github.com/suPer8Hu/galaxy-chat/internal/common"
)

func (h *Handler) ListMessages(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), owner, c.Param("conversationId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}

type deleteAfterReq struct {
	AfterMessageID string `json:"afterMessageId"`
}

func (h *Handler) DeleteAfter(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	var req deleteAfterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	n, err := h.ChatSvc.TruncateAfter(c.Request.Context(), owner, c.Param("conversationId"), req.AfterMessageID)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"success": true, "deletedCount": n})
}

type editMessageReq struct {
	Content      string `json:"content"`
	TriggerReAsk bool   `json:"triggerReAsk"`
}

// EditMessage updates a message. With triggerReAsk the response is the
// streamed reply to the edited question.
func (h *Handler) EditMessage(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	var req editMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	ctx := c.Request.Context()
	messageID := c.Param("messageId")
	if _, err := h.ChatSvc.GetMessage(ctx, owner, c.Param("conversationId"), messageID); err != nil {
		h.fail(c, err)
		return
	}

	if !req.TriggerReAsk {
		m, _, err := h.ChatSvc.EditMessage(ctx, owner, messageID, req.Content, false, nil)
		if err != nil {
			h.fail(c, err)
			return
		}
		common.OK(c, m)
		return
	}

	c.Header(headerMessageID, messageID)
	h.stream(c, func(sink chat.Sink) (*chat.TurnResult, error) {
		_, res, err := h.ChatSvc.EditMessage(ctx, owner, messageID, req.Content, true, sink)
		return res, err
	})
}

func (h *Handler) ReAsk(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	messageID := c.Param("messageId")
	if _, err := h.ChatSvc.GetMessage(ctx, owner, c.Param("conversationId"), messageID); err != nil {
		h.fail(c, err)
		return
	}
	c.Header(headerMessageID, messageID)
	h.stream(c, func(sink chat.Sink) (*chat.TurnResult, error) {
		return h.ChatSvc.ReAsk(ctx, owner, messageID, sink)
	})
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.DeleteMessage(c.Request.Context(), owner, c.Param("conversationId"), c.Param("messageId")); err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"success": true})
}

type checkDuplicateReq struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Role           string `json:"role"`
}

func (h *Handler) CheckDuplicate(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	var req checkDuplicateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	dup, err := h.ChatSvc.CheckDuplicate(c.Request.Context(), owner, req.ConversationID, req.Role, req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"isDuplicate": dup})
}
