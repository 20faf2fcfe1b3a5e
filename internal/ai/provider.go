package ai

import (
	"context"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Attachment is the prompt-side view of a stored file.
type Attachment struct {
	Type     string // "image" or "file"
	URL      string
	Name     string
	MimeType string
}

func (a Attachment) IsImage() bool {
	return a.Type == "image" || strings.HasPrefix(a.MimeType, "image/")
}

type Message struct {
	Role        string
	Content     string
	Attachments []Attachment
}

// TextWithAttachments returns the content followed by one reference line per
// attachment. Providers that cannot take binary parts send this text.
func (m Message) TextWithAttachments() string {
	if len(m.Attachments) == 0 {
		return m.Content
	}
	var b strings.Builder
	b.WriteString(m.Content)
	for _, a := range m.Attachments {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		kind := "file"
		if a.IsImage() {
			kind = "image"
		}
		name := a.Name
		if name == "" {
			name = "unnamed"
		}
		if a.MimeType != "" {
			fmt.Fprintf(&b, "[Attached %s: %s (%s) %s]", kind, name, a.MimeType, a.URL)
		} else {
			fmt.Fprintf(&b, "[Attached %s: %s %s]", kind, name, a.URL)
		}
	}
	return b.String()
}

// Options carries sampling settings. Zero values mean provider defaults.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Provider is a model completion service.
//
// StreamChat either rejects synchronously (nothing was generated) or returns
// a Stream. A failed Stream cannot be resumed; callers issue a new request.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
	StreamChat(ctx context.Context, messages []Message, opts Options) (*Stream, error)
}
