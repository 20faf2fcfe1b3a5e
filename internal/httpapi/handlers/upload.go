package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/suPer8Hu/galaxy-chat/internal/attach"
	"github.com/suPer8Hu/galaxy-chat/internal/chat"
	"github.com/suPer8Hu/galaxy-chat/internal/common"
	"go.uber.org/zap"
)

// Upload stores a single multipart "file" and returns it as an attachment
// ready to be sent with a chat turn.
func (h *Handler) Upload(c *gin.Context) {
	if _, ok := h.owner(c); !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 40002, "no file provided")
		return
	}
	if fh.Size > attach.MaxSize {
		common.Fail(c, http.StatusBadRequest, 40003, attach.ErrTooLarge.Error())
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, attach.MaxSize+1))
	if err != nil {
		h.fail(c, err)
		return
	}

	mimeType, err := attach.Validate(data, fh.Header.Get("Content-Type"))
	switch {
	case errors.Is(err, attach.ErrTooLarge), errors.Is(err, attach.ErrEmpty):
		common.Fail(c, http.StatusBadRequest, 40003, err.Error())
		return
	case errors.Is(err, attach.ErrUnsupportedType):
		common.Fail(c, http.StatusBadRequest, 40004, err.Error())
		return
	case err != nil:
		h.fail(c, err)
		return
	}

	up, err := h.Blobs.Upload(c.Request.Context(), data, mimeType, fh.Filename)
	if err != nil {
		h.Log.Error("upload failed", zap.String("name", fh.Filename), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to upload file")
		return
	}
	name := up.Name
	if name == "" {
		name = fh.Filename
	}
	common.OK(c, gin.H{
		"success": true,
		"attachment": chat.Attachment{
			ID:       uuid.NewString(),
			Type:     attach.Kind(mimeType),
			URL:      up.URL,
			Name:     name,
			Size:     up.Size,
			MimeType: mimeType,
			PublicID: up.PublicID,
		},
	})
}
