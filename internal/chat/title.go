package chat

import (
	"context"
	"regexp"
	"strings"

	"github.com/suPer8Hu/galaxy-chat/internal/ai"
)

const (
	maxTitleRunes      = 60
	fallbackTitleWords = 6
	titleTemperature   = 0.3
)

var titlePrefix = regexp.MustCompile(`(?i)^title:\s*`)

func titlePrompt(firstMessage string) string {
	return `Generate a short, descriptive title (max 4-5 words) for this conversation based on the user's message. ` +
		`Only respond with the title, no quotes or extra text: "` + strings.TrimSpace(firstMessage) + `"`
}

func cleanTitle(raw string) string {
	t := strings.TrimSpace(raw)
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	t = strings.NewReplacer(`"`, "", `'`, "", "“", "", "”", "").Replace(t)
	t = titlePrefix.ReplaceAllString(strings.TrimSpace(t), "")
	t = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "."))
	if r := []rune(t); len(r) > maxTitleRunes {
		t = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	return t
}

// fallbackTitle never returns the placeholder.
func fallbackTitle(firstMessage string, atts []Attachment) string {
	words := strings.Fields(firstMessage)
	if len(words) > 0 {
		if len(words) > fallbackTitleWords {
			words = words[:fallbackTitleWords]
		}
		return cleanTitleRunes(strings.Join(words, " ")) + "..."
	}
	for _, a := range atts {
		if a.Name != "" {
			return cleanTitleRunes(a.Name)
		}
	}
	if len(atts) > 0 {
		return "Shared attachment"
	}
	return "Untitled conversation"
}

func cleanTitleRunes(s string) string {
	if r := []rune(s); len(r) > maxTitleRunes {
		return string(r[:maxTitleRunes])
	}
	return s
}

// deriveTitle asks the model for a title and falls back to a deterministic one.
func deriveTitle(ctx context.Context, p ai.Provider, firstMessage string, atts []Attachment) (string, error) {
	if strings.TrimSpace(firstMessage) == "" {
		return fallbackTitle(firstMessage, atts), nil
	}
	raw, err := p.Chat(ctx, []ai.Message{{Role: ai.RoleUser, Content: titlePrompt(firstMessage)}}, ai.Options{Temperature: titleTemperature})
	if err != nil {
		return fallbackTitle(firstMessage, atts), err
	}
	t := cleanTitle(raw)
	if t == "" || strings.EqualFold(t, PlaceholderTitle) {
		return fallbackTitle(firstMessage, atts), nil
	}
	return t, nil
}
