package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/galaxy-chat/internal/chat"
	"github.com/suPer8Hu/galaxy-chat/internal/common"
)

const maxIdempotencyKey = 128

type chatReq struct {
	ConversationID string            `json:"conversationId"`
	Query          string            `json:"query"`
	Attachments    []chat.Attachment `json:"attachments"`
	SkipUserSave   bool              `json:"skipUserSave"`
}

// Chat runs one turn and streams the assistant reply.
func (h *Handler) Chat(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(key) > maxIdempotencyKey {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	h.stream(c, func(sink chat.Sink) (*chat.TurnResult, error) {
		return h.ChatSvc.HandleTurn(c.Request.Context(), owner, chat.TurnRequest{
			ConversationID: req.ConversationID,
			Query:          req.Query,
			Attachments:    req.Attachments,
			SkipUserSave:   req.SkipUserSave,
			IdempotencyKey: key,
		}, sink)
	})
}
