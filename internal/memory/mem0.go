package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Mem0 is a client for the hosted mem0 memory API.
type Mem0 struct {
	client *resty.Client
	limit  int
}

type mem0Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type mem0AddReq struct {
	Messages []mem0Message `json:"messages"`
	UserID   string        `json:"user_id"`
}

type mem0SearchReq struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

type mem0Memory struct {
	ID        string    `json:"id"`
	Memory    string    `json:"memory"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

func NewMem0(baseURL, apiKey string) *Mem0 {
	if baseURL == "" {
		baseURL = "https://api.mem0.ai"
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Authorization", "Token "+apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	return &Mem0{client: c, limit: defaultLimit}
}

func (m *Mem0) Ingest(ctx context.Context, owner, role, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(mem0AddReq{Messages: []mem0Message{{Role: role, Content: text}}, UserID: owner}).
		Post("/v1/memories/")
	if err != nil {
		return fmt.Errorf("mem0 add: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mem0 add: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func (m *Mem0) Retrieve(ctx context.Context, owner, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", nil
	}
	var found []mem0Memory
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(mem0SearchReq{Query: query, UserID: owner, Limit: m.limit}).
		SetResult(&found).
		Post("/v1/memories/search/")
	if err != nil {
		return "", fmt.Errorf("mem0 search: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("mem0 search: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	recs := make([]Record, 0, len(found))
	for _, f := range found {
		if strings.TrimSpace(f.Memory) != "" {
			recs = append(recs, Record{Role: "memory", Text: f.Memory, At: f.CreatedAt})
		}
	}
	if len(recs) > m.limit {
		recs = recs[:m.limit]
	}
	return format(recs), nil
}
