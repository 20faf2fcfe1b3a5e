package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(baseURL, apiKey, model string) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		var parts []openai.ChatMessagePart
		for _, a := range m.Attachments {
			if a.IsImage() && a.URL != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: a.URL, Detail: openai.ImageURLDetailAuto},
				})
			}
		}
		if len(parts) == 0 {
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.TextWithAttachments()})
			continue
		}
		text := openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.TextWithAttachments()}
		out = append(out, openai.ChatCompletionMessage{
			Role:         m.Role,
			MultiContent: append([]openai.ChatMessagePart{text}, parts...),
		})
	}
	return out
}

func (p *OpenAIProvider) request(messages []Message, opts Options, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.request(messages, opts, false))
	if err != nil {
		return "", openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message, opts Options) (*Stream, error) {
	st, err := p.client.CreateChatCompletionStream(ctx, p.request(messages, opts, true))
	if err != nil {
		return nil, openAIError(err)
	}

	return NewStream(ctx, func(ctx context.Context, emit func(string) bool) error {
		defer st.Close()
		for {
			resp, err := st.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return openAIError(err)
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				if !emit(delta) {
					return ctx.Err()
				}
			}
		}
	}), nil
}

// openAIError maps go-openai errors onto StatusError so callers can classify them.
func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &StatusError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}
	if apiErr != nil {
		return streamError("openai", apiErr.Message)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("openai: %w", err)
	}
	return transportError("openai", err)
}

var _ Provider = (*OpenAIProvider)(nil)
