package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/galaxy-chat/internal/ai"
	"github.com/suPer8Hu/galaxy-chat/internal/attach"
	"github.com/suPer8Hu/galaxy-chat/internal/auth"
	"github.com/suPer8Hu/galaxy-chat/internal/chat"
	"github.com/suPer8Hu/galaxy-chat/internal/config"
	"github.com/suPer8Hu/galaxy-chat/internal/db"
	"github.com/suPer8Hu/galaxy-chat/internal/httpapi/handlers"
	"go.uber.org/zap"
)

const secret = "test-secret"

func init() { gin.SetMode(gin.TestMode) }

type stubProvider struct {
	mu        sync.Mutex
	chunks    []string
	streamErr error
	rejectErr error
}

func (p *stubProvider) Chat(ctx context.Context, messages []ai.Message, opts ai.Options) (string, error) {
	return "Stub Title", nil
}

func (p *stubProvider) StreamChat(ctx context.Context, messages []ai.Message, opts ai.Options) (*ai.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectErr != nil {
		return nil, p.rejectErr
	}
	return ai.StaticStream(ctx, p.chunks, p.streamErr), nil
}

func (p *stubProvider) set(chunks []string, streamErr, rejectErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks, p.streamErr, p.rejectErr = chunks, streamErr, rejectErr
}

type fixture struct {
	t      *testing.T
	engine *gin.Engine
	prov   *stubProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Connect("sqlite:file:" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb, chat.Models()...))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	prov := &stubProvider{chunks: []string{"Hello", " world"}}
	reg := ai.NewRegistry()
	reg.Register("stub", ai.Static(prov))

	uploads := t.TempDir()
	store, err := attach.NewLocal(uploads, "http://example.test")
	require.NoError(t, err)

	svc := chat.NewService(chat.NewRepo(gdb), reg, chat.Options{
		DefaultProvider: "stub",
		DefaultModel:    "m",
		Blobs:           store,
	})
	t.Cleanup(svc.Wait)

	cfg := config.Config{JWTSecret: secret, AttachBackend: "local", UploadDir: uploads}
	h := handlers.NewHandler(svc, store, zap.NewNop())
	return &fixture{t: t, engine: NewRouter(cfg, h, zap.NewNop()), prov: prov}
}

func (f *fixture) do(owner, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		tok, err := auth.SignJWT(owner, secret, time.Hour)
		require.NoError(f.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

type messageJSON struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Edited  bool   `json:"edited"`
}

func (f *fixture) messages(owner, convID string) []messageJSON {
	f.t.Helper()
	w := f.do(owner, http.MethodGet, "/api/messages/"+convID, nil)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Messages []messageJSON `json:"messages"`
	}
	require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.Messages
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	w := f.do("", http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChat_RequiresAuth(t *testing.T) {
	f := newFixture(t)
	w := f.do("", http.MethodPost, "/api/chat", gin.H{"query": "hi"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChat_StreamsPlainText(t *testing.T) {
	f := newFixture(t)
	w := f.do("alice", http.MethodPost, "/api/chat", gin.H{"query": "hi there"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello world", w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	convID := w.Header().Get("X-Conversation-ID")
	require.NotEmpty(t, convID)
	assert.Equal(t, "complete", w.Result().Trailer.Get("X-Stream-Status"))

	msgs := f.messages("alice", convID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi there", msgs[0].Content)
	assert.Equal(t, "Hello world", msgs[1].Content)

	// other owners see nothing
	w = f.do("bob", http.MethodGet, "/api/messages/"+convID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChat_SSE(t *testing.T) {
	f := newFixture(t)
	w := f.do("alice", http.MethodPost, "/api/chat", gin.H{"query": "hi"}, "Accept", "text/event-stream")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "event:meta")
	assert.Contains(t, body, "event:chunk")
	assert.Contains(t, body, "event:done")
	assert.NotContains(t, body, "event:error")
}

func TestChat_OverloadedBeforeStream(t *testing.T) {
	f := newFixture(t)
	f.prov.set(nil, nil, &ai.StatusError{Provider: "stub", StatusCode: http.StatusServiceUnavailable, Message: "busy"})

	w := f.do("alice", http.MethodPost, "/api/chat", gin.H{"query": "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 50301, body.Code)
	assert.Contains(t, body.Error, "retry")

	// the new conversation already holds the user turn
	convID := w.Header().Get("X-Conversation-ID")
	require.NotEmpty(t, convID)
	msgs := f.messages("alice", convID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)

	// retrying into it answers the stored turn without a second conversation
	f.prov.set([]string{"hello"}, nil, nil)
	w = f.do("alice", http.MethodPost, "/api/chat", gin.H{"query": "hi", "conversationId": convID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, convID, w.Header().Get("X-Conversation-ID"))
	msgs = f.messages("alice", convID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[1].Content)

	w = f.do("alice", http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Conversations []struct {
			ID string `json:"id"`
		} `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, convID, list.Conversations[0].ID)
}

func TestChat_InterruptedKeepsPartial(t *testing.T) {
	f := newFixture(t)
	f.prov.set([]string{"partial "}, ai.ErrUnavailable, nil)

	w := f.do("alice", http.MethodPost, "/api/chat", gin.H{"query": "tell me"}, "TE", "trailers")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partial ", w.Body.String())
	assert.Equal(t, "interrupted", w.Result().Trailer.Get("X-Stream-Status"))

	msgs := f.messages("alice", w.Header().Get("X-Conversation-ID"))
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial ", msgs[1].Content)
}

func TestChat_InterruptedAbortsWithoutTrailers(t *testing.T) {
	f := newFixture(t)
	f.prov.set([]string{"partial "}, ai.ErrUnavailable, nil)
	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	tok, err := auth.SignJWT("alice", secret, time.Hour)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/chat", strings.NewReader(`{"query":"tell me"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.Error(t, err, "the body must not end cleanly")
	assert.Equal(t, "partial ", string(body))

	msgs := f.messages("alice", resp.Header.Get("X-Conversation-ID"))
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial ", msgs[1].Content)
}

func TestChat_Validation(t *testing.T) {
	f := newFixture(t)
	w := f.do("alice", http.MethodPost, "/api/chat", gin.H{"query": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("alice", http.MethodPost, "/api/chat", gin.H{"query": "x", "conversationId": "01NOPE"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do("alice", http.MethodPost, "/api/chat", gin.H{"query": "x"}, "Idempotency-Key", strings.Repeat("k", 200))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessages_TruncateEditReAsk(t *testing.T) {
	f := newFixture(t)
	w := f.do("alice", http.MethodPost, "/api/chat", gin.H{"query": "first"})
	require.Equal(t, http.StatusOK, w.Code)
	convID := w.Header().Get("X-Conversation-ID")

	f.prov.set([]string{"second answer"}, nil, nil)
	w = f.do("alice", http.MethodPost, "/api/chat", gin.H{"query": "second", "conversationId": convID})
	require.Equal(t, http.StatusOK, w.Code)

	msgs := f.messages("alice", convID)
	require.Len(t, msgs, 4)

	// truncate after the first reply, twice
	w = f.do("alice", http.MethodDelete, "/api/messages/"+convID+"/delete-after", gin.H{"afterMessageId": msgs[1].ID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"deletedCount":2}`, w.Body.String())
	w = f.do("alice", http.MethodDelete, "/api/messages/"+convID+"/delete-after", gin.H{"afterMessageId": msgs[1].ID})
	assert.JSONEq(t, `{"success":true,"deletedCount":0}`, w.Body.String())

	// plain edit
	w = f.do("alice", http.MethodPut, "/api/messages/"+convID+"/"+msgs[1].ID, gin.H{"content": "fixed reply"})
	require.Equal(t, http.StatusOK, w.Code)
	var edited messageJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &edited))
	assert.Equal(t, msgs[1].ID, edited.ID)
	assert.Equal(t, "fixed reply", edited.Content)
	assert.True(t, edited.Edited)
	got := f.messages("alice", convID)
	assert.Equal(t, "fixed reply", got[1].Content)
	assert.True(t, got[1].Edited)

	// edit with re-ask streams a fresh reply
	f.prov.set([]string{"new answer"}, nil, nil)
	w = f.do("alice", http.MethodPut, "/api/messages/"+convID+"/"+msgs[0].ID, gin.H{"content": "first, reworded", "triggerReAsk": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "new answer", w.Body.String())
	assert.Equal(t, msgs[0].ID, w.Header().Get("X-Message-ID"))
	got = f.messages("alice", convID)
	require.Len(t, got, 2)
	assert.Equal(t, "first, reworded", got[0].Content)
	assert.Equal(t, "new answer", got[1].Content)

	// re-ask of an assistant message is rejected
	w = f.do("alice", http.MethodPost, "/api/messages/"+convID+"/"+got[1].ID+"/reask", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	f.prov.set([]string{"again"}, nil, nil)
	w = f.do("alice", http.MethodPost, "/api/messages/"+convID+"/"+got[0].ID+"/reask", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "again", w.Body.String())
	got = f.messages("alice", convID)
	require.Len(t, got, 2)
	assert.Equal(t, "again", got[1].Content)

	// message ids are scoped to the conversation in the path
	w = f.do("alice", http.MethodPost, "/api/messages/01OTHER/"+got[0].ID+"/reask", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do("alice", http.MethodDelete, "/api/messages/"+convID+"/"+got[1].ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.messages("alice", convID), 1)
}

func TestMessages_CheckDuplicate(t *testing.T) {
	f := newFixture(t)
	w := f.do("alice", http.MethodPost, "/api/chat", gin.H{"query": "same thing"})
	convID := w.Header().Get("X-Conversation-ID")

	w = f.do("alice", http.MethodPost, "/api/messages/check-duplicate", gin.H{"conversationId": convID, "content": "same thing", "role": "user"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"isDuplicate":true}`, w.Body.String())

	w = f.do("alice", http.MethodPost, "/api/messages/check-duplicate", gin.H{"conversationId": convID, "content": "other", "role": "user"})
	assert.JSONEq(t, `{"isDuplicate":false}`, w.Body.String())
}

func TestConversations_Lifecycle(t *testing.T) {
	f := newFixture(t)
	w := f.do("alice", http.MethodPost, "/api/conversations", gin.H{"title": "Trip plans"})
	require.Equal(t, http.StatusCreated, w.Code)
	var conv struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.Equal(t, "Trip plans", conv.Title)

	w = f.do("alice", http.MethodPatch, "/api/conversations/"+conv.ID, gin.H{"title": "Japan trip"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Japan trip")

	w = f.do("alice", http.MethodGet, "/api/conversations/"+conv.ID+"/status", nil)
	assert.JSONEq(t, `{"state":"IDLE"}`, w.Body.String())

	w = f.do("alice", http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), conv.ID)

	w = f.do("bob", http.MethodGet, "/api/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do("alice", http.MethodPost, "/api/conversations/generate-title", gin.H{"conversationId": conv.ID, "firstMessage": "what to see in Kyoto"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"title":"Stub Title","success":true}`, w.Body.String())

	w = f.do("alice", http.MethodDelete, "/api/conversations/"+conv.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do("alice", http.MethodGet, "/api/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpload_LocalStore(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("remember the milk\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	tok, err := auth.SignJWT("alice", secret, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out struct {
		Success    bool            `json:"success"`
		Attachment chat.Attachment `json:"attachment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.Equal(t, "file", out.Attachment.Type)
	assert.Equal(t, "text/plain", out.Attachment.MimeType)
	assert.Equal(t, "notes.txt", out.Attachment.Name)
	require.True(t, strings.HasPrefix(out.Attachment.URL, "http://example.test/uploads/"))

	// served back by the static route
	w = f.do("", http.MethodGet, strings.TrimPrefix(out.Attachment.URL, "http://example.test"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "remember the milk\n", w.Body.String())

	// attachment-only turn
	w = f.do("alice", http.MethodPost, "/api/chat", gin.H{"attachments": []chat.Attachment{out.Attachment}})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestUpload_MissingFile(t *testing.T) {
	f := newFixture(t)
	w := f.do("alice", http.MethodPost, "/api/upload", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
