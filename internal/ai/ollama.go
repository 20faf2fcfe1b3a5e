package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		// no global timeout; callers bound requests through ctx
		Client: &http.Client{},
	}
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatReq struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaChatResp struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
	Error   string    `json:"error,omitempty"`
}

func toOllamaMessages(messages []Message) []ollamaMsg {
	out := make([]ollamaMsg, 0, len(messages))
	for _, m := range messages {
		out = append(out, ollamaMsg{Role: m.Role, Content: m.TextWithAttachments()})
	}
	return out
}

func (p *OllamaProvider) newRequest(ctx context.Context, messages []Message, opts Options, stream bool) (*http.Request, error) {
	if p.Client == nil {
		return nil, errors.New("ollama: http client is nil")
	}

	reqBody := ollamaChatReq{
		Model:  p.Model,
		Stream: stream,
		Messages: toOllamaMessages(messages),
	}
	if opts.Temperature > 0 || opts.MaxTokens > 0 {
		reqBody.Options = &ollamaOptions{Temperature: opts.Temperature, NumPredict: opts.MaxTokens}
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *OllamaProvider) do(req *http.Request) (*http.Response, error) {
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, transportError("ollama", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		var decoded ollamaChatResp
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != "" {
			msg = decoded.Error
		}
		return nil, &StatusError{Provider: "ollama", StatusCode: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	req, err := p.newRequest(ctx, messages, opts, false)
	if err != nil {
		return "", err
	}
	resp, err := p.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", transportError("ollama", err)
	}
	if decoded.Error != "" {
		return "", streamError("ollama", decoded.Error)
	}
	return decoded.Message.Content, nil
}

// StreamChat sends the request and, once the server accepted it, streams
// assistant content chunks from the NDJSON body.
func (p *OllamaProvider) StreamChat(ctx context.Context, messages []Message, opts Options) (*Stream, error) {
	req, err := p.newRequest(ctx, messages, opts, true)
	if err != nil {
		return nil, err
	}
	resp, err := p.do(req)
	if err != nil {
		return nil, err
	}

	return NewStream(ctx, func(ctx context.Context, emit func(string) bool) error {
		defer resp.Body.Close()

		sc := lineScanner(resp.Body)
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded ollamaChatResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				return fmt.Errorf("ollama: decode chunk: %w", err)
			}
			if decoded.Error != "" {
				return streamError("ollama", decoded.Error)
			}
			if decoded.Message.Content != "" {
				if !emit(decoded.Message.Content) {
					return ctx.Err()
				}
			}
			if decoded.Done {
				return nil
			}
		}
		if err := sc.Err(); err != nil {
			return transportError("ollama", err)
		}
		return nil
	}), nil
}

var _ Provider = (*OllamaProvider)(nil)
