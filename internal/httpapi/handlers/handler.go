package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/galaxy-chat/internal/attach"
	"github.com/suPer8Hu/galaxy-chat/internal/chat"
	"github.com/suPer8Hu/galaxy-chat/internal/common"
	"github.com/suPer8Hu/galaxy-chat/internal/httpapi/middleware"
	"go.uber.org/zap"
)

type Handler struct {
	ChatSvc *chat.Service
	Blobs   attach.Store
	Log     *zap.Logger
}

func NewHandler(svc *chat.Service, blobs attach.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{ChatSvc: svc, Blobs: blobs, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}

func (h *Handler) owner(c *gin.Context) (string, bool) {
	owner, ok := middleware.Owner(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return owner, ok
}

// fail maps service errors onto the HTTP error envelope.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	case errors.Is(err, chat.ErrInvalidRequest):
		common.Fail(c, http.StatusBadRequest, 40001, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "not found")
	case errors.Is(err, chat.ErrInvalidOperation):
		common.Fail(c, http.StatusConflict, 40901, err.Error())
	case errors.Is(err, chat.ErrServiceOverloaded):
		common.Fail(c, http.StatusServiceUnavailable, 50301, chat.ErrServiceOverloaded.Error())
	case errors.Is(err, chat.ErrServiceUnavailable):
		common.Fail(c, http.StatusServiceUnavailable, 50302, chat.ErrServiceUnavailable.Error())
	default:
		h.Log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func badJSON(c *gin.Context) {
	common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
}
