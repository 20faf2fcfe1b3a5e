package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction"`
	GenerationConfig  struct {
		Temperature *float64 `json:"temperature"`
	} `json:"generationConfig"`
}

func newGeminiTestProvider(t *testing.T, h http.HandlerFunc) *GeminiProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := NewGeminiProvider(context.Background(), srv.URL, "g-key", "gemini-test")
	require.NoError(t, err)
	return p
}

func geminiChunk(w http.ResponseWriter, text string) {
	fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]}}]}\n\n", text)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestGemini_StreamChat(t *testing.T) {
	var got geminiRequest
	p := newGeminiTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-test:streamGenerateContent"), r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range []string{"Go ", "has ", "goroutines."} {
			geminiChunk(w, c)
		}
	})

	s, err := p.StreamChat(context.Background(), []Message{
		{Role: RoleSystem, Content: "You are Galaxy."},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "tell me about Go"},
	}, Options{Temperature: 0.7})
	require.NoError(t, err)

	out, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "Go has goroutines.", out)

	// the system prompt moves to the system instruction
	require.NotNil(t, got.SystemInstruction)
	require.Len(t, got.SystemInstruction.Parts, 1)
	assert.Equal(t, "You are Galaxy.", got.SystemInstruction.Parts[0].Text)
	require.Len(t, got.Contents, 3)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, "tell me about Go", got.Contents[2].Parts[0].Text)
	require.NotNil(t, got.GenerationConfig.Temperature)
	assert.InDelta(t, 0.7, *got.GenerationConfig.Temperature, 1e-6)
}

func TestGemini_RejectsSynchronously(t *testing.T) {
	p := newGeminiTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"code":503,"message":"The model is overloaded. Please try again later.","status":"UNAVAILABLE"}}`)
	})

	s, err := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	assert.Nil(t, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOverloaded)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "gemini", se.Provider)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestGemini_ErrorMidStream(t *testing.T) {
	p := newGeminiTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		geminiChunk(w, "Partial")
		fmt.Fprint(w, `{"error":{"code":500,"message":"backend error","status":"INTERNAL"}}`+"\n")
	})

	s, err := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.NoError(t, err)

	out, err := Collect(s)
	assert.Equal(t, "Partial", out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGemini_Split(t *testing.T) {
	p := &GeminiProvider{model: "m"}
	contents, cfg := p.split([]Message{
		{Role: RoleSystem, Content: "rule one"},
		{Role: RoleSystem, Content: "rule two"},
		{Role: RoleUser, Content: "q", Attachments: []Attachment{{Type: "file", Name: "notes.txt", URL: "https://f/notes.txt"}}},
	}, Options{MaxTokens: 64})

	require.Len(t, contents, 1)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Contains(t, contents[0].Parts[0].Text, "notes.txt")
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "rule one\n\nrule two", cfg.SystemInstruction.Parts[0].Text)
	assert.Nil(t, cfg.Temperature)
	assert.Equal(t, int32(64), cfg.MaxOutputTokens)
}

func TestGemini_RequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), "", "", "m")
	assert.Error(t, err)
}
