package ai

import (
	"context"
	"errors"
	"iter"
	"strings"

	"google.golang.org/genai"
)

type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider talks to the Gemini API; an empty baseURL uses Google's endpoint.
func NewGeminiProvider(ctx context.Context, baseURL, apiKey, model string) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func f32(v float64) *float32 {
	f := float32(v)
	return &f
}

// split moves system messages into the system instruction; Gemini has no
// system role inside contents.
func (p *GeminiProvider) split(messages []Message, opts Options) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	if opts.Temperature > 0 {
		cfg.Temperature = f32(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}

	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.TextWithAttachments(), genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.TextWithAttachments(), genai.RoleUser))
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return contents, cfg
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	contents, cfg := p.split(messages, opts)
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", geminiError(err)
	}
	return responseText(resp), nil
}

// StreamChat pulls the first response before returning so a rejected request
// surfaces as an error here rather than from Recv.
func (p *GeminiProvider) StreamChat(ctx context.Context, messages []Message, opts Options) (*Stream, error) {
	contents, cfg := p.split(messages, opts)
	ctx, cancel := context.WithCancel(ctx)
	next, stop := iter.Pull2(p.client.Models.GenerateContentStream(ctx, p.model, contents, cfg))

	first, err, ok := next()
	if ok && err != nil {
		stop()
		cancel()
		return nil, geminiError(err)
	}

	return NewStream(ctx, func(ctx context.Context, emit func(string) bool) error {
		defer cancel()
		defer stop()
		if !ok {
			return nil
		}
		if t := responseText(first); t != "" && !emit(t) {
			return ctx.Err()
		}
		for {
			resp, err, ok := next()
			if !ok {
				return nil
			}
			if err != nil {
				return geminiError(err)
			}
			if t := responseText(resp); t != "" && !emit(t) {
				return ctx.Err()
			}
		}
	}), nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message + " " + apiErr.Status}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &StatusError{Provider: "gemini", StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message + " " + apiErrPtr.Status}
	}
	return transportError("gemini", err)
}

var _ Provider = (*GeminiProvider)(nil)
