// Package memory is the long-term memory layer consulted before every turn.
package memory

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Oracle stores what users said and recalls what is relevant to a query.
type Oracle interface {
	Ingest(ctx context.Context, owner, role, text string) error
	Retrieve(ctx context.Context, owner, query string) (string, error)
}

// Record is one remembered utterance.
type Record struct {
	Role string
	Text string
	At   time.Time
}

const (
	defaultLimit   = 5
	maxRecordRunes = 500
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {}, "with": {},
	"this": {}, "that": {}, "what": {}, "how": {}, "why": {}, "can": {}, "was": {}, "have": {},
	"from": {}, "about": {}, "your": {}, "does": {}, "did": {}, "there": {}, "their": {},
}

func terms(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

// rank keeps records sharing at least one term with query, best first,
// newer first on ties.
func rank(records []Record, query string, limit int) []Record {
	q := terms(query)
	if len(q) == 0 {
		return nil
	}
	type scored struct {
		r     Record
		score int
	}
	var hits []scored
	for _, r := range records {
		score := 0
		for t := range terms(r.Text) {
			if _, ok := q[t]; ok {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{r, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].r.At.After(hits[j].r.At)
	})
	if limit <= 0 {
		limit = defaultLimit
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Record, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.r)
	}
	return out
}

// format renders records as the context block interpolated into the system prompt.
func format(records []Record) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteString("\n")
		}
		text := r.Text
		if rs := []rune(text); len(rs) > maxRecordRunes {
			text = string(rs[:maxRecordRunes]) + "..."
		}
		b.WriteString("- (")
		b.WriteString(r.Role)
		b.WriteString(") ")
		b.WriteString(strings.TrimSpace(text))
	}
	return b.String()
}
