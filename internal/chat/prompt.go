package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/galaxy-chat/internal/ai"
)

const systemPromptTmpl = `You are %s, an intelligent and helpful assistant. Today is %s.

OBJECTIVES:
- Provide clear, accurate, and helpful responses
- When discussing code, use proper formatting and explain concepts clearly
- Be concise but thorough in your explanations
- Adapt your communication style to the user's technical level
- For complex topics, break down information into digestible parts

CONTEXT: %s

Remember: You can help with coding, explanations, problem-solving, creative tasks, and general questions.`

func systemPrompt(name string, now time.Time, memoryContext string) string {
	if strings.TrimSpace(memoryContext) == "" {
		memoryContext = "No relevant memories."
	}
	return fmt.Sprintf(systemPromptTmpl, name, now.Format("January 2, 2006"), memoryContext)
}

func toAIAttachments(atts []Attachment) []ai.Attachment {
	if len(atts) == 0 {
		return nil
	}
	out := make([]ai.Attachment, 0, len(atts))
	for _, a := range atts {
		out = append(out, ai.Attachment{Type: a.Type, URL: a.URL, Name: a.Name, MimeType: a.MimeType})
	}
	return out
}

// assemblePrompt builds system message, history (already ordered), then the
// current turn unless history already ends with it.
func assemblePrompt(system string, history []Message, query string, atts []Attachment) []ai.Message {
	msgs := make([]ai.Message, 0, len(history)+2)
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: system})
	for _, m := range history {
		msgs = append(msgs, ai.Message{
			Role:        m.Role,
			Content:     m.Content,
			Attachments: toAIAttachments(m.Attachments),
		})
	}

	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role == RoleUser && last.Content == query && sameAttachments(last.Attachments, atts) {
			return msgs
		}
	}
	return append(msgs, ai.Message{Role: ai.RoleUser, Content: query, Attachments: toAIAttachments(atts)})
}
