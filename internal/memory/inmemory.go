package memory

import (
	"context"
	"strings"
	"sync"
	"time"
)

const inMemoryPerOwner = 200

// InMemory keeps the most recent records per owner in process memory. It is
// the fallback when no external memory service is configured.
type InMemory struct {
	mu      sync.RWMutex
	byOwner map[string][]Record
	now     func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{byOwner: make(map[string][]Record), now: time.Now}
}

func (m *InMemory) Ingest(ctx context.Context, owner, role, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := append(m.byOwner[owner], Record{Role: role, Text: text, At: m.now()})
	if len(recs) > inMemoryPerOwner {
		recs = recs[len(recs)-inMemoryPerOwner:]
	}
	m.byOwner[owner] = recs
	return nil
}

func (m *InMemory) Retrieve(ctx context.Context, owner, query string) (string, error) {
	m.mu.RLock()
	recs := append([]Record(nil), m.byOwner[owner]...)
	m.mu.RUnlock()
	return format(rank(recs, query, defaultLimit)), nil
}

// Forget drops everything remembered about owner.
func (m *InMemory) Forget(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byOwner, owner)
}
