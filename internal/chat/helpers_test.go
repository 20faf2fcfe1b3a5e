package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/suPer8Hu/galaxy-chat/internal/ai"
	"github.com/suPer8Hu/galaxy-chat/internal/db"
	"gorm.io/gorm"
)

type fakeProvider struct {
	mu        sync.Mutex
	chunks    []string
	streamErr error
	rejectErr error
	// delay paces every chunk when set
	delay      time.Duration
	title      string
	titleErr   error
	prompts    [][]ai.Message
	titleOpts  []ai.Options
	streamOpts []ai.Options
}

func (p *fakeProvider) Chat(ctx context.Context, messages []ai.Message, opts ai.Options) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.titleOpts = append(p.titleOpts, opts)
	return p.title, p.titleErr
}

func (p *fakeProvider) StreamChat(ctx context.Context, messages []ai.Message, opts ai.Options) (*ai.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// copy to avoid mutations
	p.prompts = append(p.prompts, append([]ai.Message(nil), messages...))
	p.streamOpts = append(p.streamOpts, opts)
	if p.rejectErr != nil {
		return nil, p.rejectErr
	}
	if p.delay <= 0 {
		return ai.StaticStream(ctx, p.chunks, p.streamErr), nil
	}
	chunks, delay, streamErr := p.chunks, p.delay, p.streamErr
	return ai.NewStream(ctx, func(ctx context.Context, emit func(string) bool) error {
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if !emit(c) {
				return ctx.Err()
			}
		}
		return streamErr
	}), nil
}

func (p *fakeProvider) lastPrompt() []ai.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return nil
	}
	return p.prompts[len(p.prompts)-1]
}

// countingLocker reports how many callers are inside Lock.
type countingLocker struct {
	inner   Locker
	waiting atomic.Int32
}

func (l *countingLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.waiting.Add(1)
	defer l.waiting.Add(-1)
	return l.inner.Lock(ctx, key)
}

type recordingSink struct {
	began     string
	chunks    []string
	failAfter int
}

func (s *recordingSink) Begin(conversationID string) error {
	s.began = conversationID
	return nil
}

func (s *recordingSink) Write(chunk string) error {
	if s.failAfter > 0 && len(s.chunks) >= s.failAfter {
		return errors.New("write: broken pipe")
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

type fakeMemory struct {
	mu          sync.Mutex
	context     string
	retrieveErr error
	ingested    []string
}

func (m *fakeMemory) Ingest(ctx context.Context, owner, role, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingested = append(m.ingested, owner+"/"+role+":"+text)
	return nil
}

func (m *fakeMemory) Retrieve(ctx context.Context, owner, query string) (string, error) {
	return m.context, m.retrieveErr
}

type fakeBlobs struct {
	mu      sync.Mutex
	deleted []string
}

func (b *fakeBlobs) Delete(ctx context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, ref)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Connect("sqlite:file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb, Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func newTestService(t *testing.T, prov *fakeProvider, opts Options) (*Service, *Repo) {
	t.Helper()
	repo := NewRepo(openTestDB(t))
	reg := ai.NewRegistry()
	reg.Register("fake", ai.Static(prov))
	opts.DefaultProvider = "fake"
	opts.DefaultModel = "default"
	svc := NewService(repo, reg, opts)
	t.Cleanup(svc.Wait)
	return svc, repo
}

func newConversation(t *testing.T, repo *Repo, owner string) *Conversation {
	t.Helper()
	c := &Conversation{UserID: owner, Provider: "fake", Model: "default"}
	if err := repo.CreateConversation(context.Background(), c); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return c
}

// seed inserts messages one millisecond apart starting an hour ago.
func seed(t *testing.T, repo *Repo, conv *Conversation, roles ...string) []*Message {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	out := make([]*Message, 0, len(roles))
	for i, role := range roles {
		m := &Message{
			ConversationID: conv.ConversationID,
			UserID:         conv.UserID,
			Role:           role,
			Content:        role + "-" + string(rune('a'+i)),
			CreatedAt:      base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := repo.InsertMessage(context.Background(), m); err != nil {
			t.Fatalf("seed msg %d: %v", i, err)
		}
		out = append(out, m)
	}
	return out
}
