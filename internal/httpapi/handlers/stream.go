package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/galaxy-chat/internal/chat"
)

const (
	headerConversationID = "X-Conversation-ID"
	headerMessageID      = "X-Message-ID"
	trailerStreamStatus  = "X-Stream-Status"

	streamComplete    = "complete"
	streamInterrupted = "interrupted"
)

// replySink is a chat.Sink that also knows how to end the response.
type replySink interface {
	chat.Sink
	started() bool
	finish(res *chat.TurnResult, err error)
}

func newSink(c *gin.Context) replySink {
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return &sseSink{c: c}
	}
	return &textSink{c: c}
}

func streamHeaders(c *gin.Context, contentType, conversationID string) {
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header(headerConversationID, conversationID)
}

// textSink writes raw chunks as chunked text/plain and reports the outcome in
// the X-Stream-Status trailer. Clients that did not send "TE: trailers" cannot
// see it, so an interruption aborts their connection instead of ending the
// body cleanly.
type textSink struct {
	c     *gin.Context
	begun bool
}

func (s *textSink) Begin(conversationID string) error {
	s.begun = true
	streamHeaders(s.c, "text/plain; charset=utf-8", conversationID)
	s.c.Writer.Header().Add("Trailer", trailerStreamStatus)
	s.c.Status(http.StatusOK)
	s.c.Writer.WriteHeaderNow()
	s.c.Writer.Flush()
	return s.c.Request.Context().Err()
}

func (s *textSink) Write(chunk string) error {
	if _, err := s.c.Writer.WriteString(chunk); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return s.c.Request.Context().Err()
}

func (s *textSink) started() bool { return s.begun }

func (s *textSink) finish(_ *chat.TurnResult, err error) {
	if err == nil {
		s.c.Writer.Header().Set(trailerStreamStatus, streamComplete)
		return
	}
	if !acceptsTrailers(s.c.Request) {
		panic(http.ErrAbortHandler)
	}
	s.c.Writer.Header().Set(trailerStreamStatus, streamInterrupted)
}

func acceptsTrailers(r *http.Request) bool {
	for _, v := range strings.Split(r.Header.Get("TE"), ",") {
		if strings.EqualFold(strings.TrimSpace(v), "trailers") {
			return true
		}
	}
	return false
}

// sseSink frames chunks as server-sent events: "chunk" events carry deltas,
// the stream ends with "done" or "error".
type sseSink struct {
	c     *gin.Context
	begun bool
}

func (s *sseSink) Begin(conversationID string) error {
	s.begun = true
	streamHeaders(s.c, "text/event-stream", conversationID)
	s.c.Status(http.StatusOK)
	s.c.SSEvent("meta", gin.H{"conversationId": conversationID})
	s.c.Writer.Flush()
	return s.c.Request.Context().Err()
}

func (s *sseSink) Write(chunk string) error {
	s.c.SSEvent("chunk", gin.H{"delta": chunk})
	s.c.Writer.Flush()
	return s.c.Request.Context().Err()
}

func (s *sseSink) started() bool { return s.begun }

func (s *sseSink) finish(res *chat.TurnResult, err error) {
	if err != nil {
		msg := err.Error()
		if errors.Is(err, chat.ErrStreamInterrupted) {
			msg = chat.ErrStreamInterrupted.Error()
		}
		s.c.SSEvent("error", gin.H{"status": streamInterrupted, "error": msg})
		s.c.Writer.Flush()
		return
	}
	done := gin.H{"status": streamComplete}
	if res != nil {
		done["conversationId"] = res.ConversationID
		if res.AssistantMessage != nil {
			done["messageId"] = res.AssistantMessage.MessageID
		}
	}
	s.c.SSEvent("done", done)
	s.c.Writer.Flush()
}

// stream runs a turn against a fresh sink. Failures before the first byte get
// a normal JSON error; after that they end the stream as interrupted.
func (h *Handler) stream(c *gin.Context, run func(sink chat.Sink) (*chat.TurnResult, error)) {
	sink := newSink(c)
	res, err := run(sink)
	if err != nil && !sink.started() && !errors.Is(err, chat.ErrStreamInterrupted) {
		// the conversation may already exist and hold the user turn
		if res != nil && res.ConversationID != "" {
			c.Header(headerConversationID, res.ConversationID)
		}
		h.fail(c, err)
		return
	}
	if !sink.started() && res != nil {
		// the model answered with nothing; still send headers and a status
		_ = sink.Begin(res.ConversationID)
	}
	sink.finish(res, err)
}
