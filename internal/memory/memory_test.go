package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/galaxy-chat/internal/db"
)

func TestRank(t *testing.T) {
	now := time.Now()
	recs := []Record{
		{Role: "user", Text: "I write Go services at work", At: now.Add(-3 * time.Minute)},
		{Role: "user", Text: "My cat is named Pixel", At: now.Add(-2 * time.Minute)},
		{Role: "user", Text: "Go generics and Go services", At: now.Add(-time.Minute)},
	}

	got := rank(recs, "tips for Go services?", 5)
	require.Len(t, got, 2)
	// equal scores, newer first
	assert.Equal(t, "Go generics and Go services", got[0].Text)

	assert.Empty(t, rank(recs, "the and for", 5))
	assert.Empty(t, rank(recs, "", 5))
}

func TestInMemory_PerOwner(t *testing.T) {
	m := NewInMemory()
	ctx := context.Background()
	require.NoError(t, m.Ingest(ctx, "alice", "user", "I love hiking in the Alps"))
	require.NoError(t, m.Ingest(ctx, "bob", "user", "I love hiking in Patagonia"))

	got, err := m.Retrieve(ctx, "alice", "where should I go hiking?")
	require.NoError(t, err)
	assert.Contains(t, got, "Alps")
	assert.NotContains(t, got, "Patagonia")

	m.Forget("alice")
	got, err = m.Retrieve(ctx, "alice", "hiking")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInMemory_Bounded(t *testing.T) {
	m := NewInMemory()
	for i := 0; i < inMemoryPerOwner+10; i++ {
		require.NoError(t, m.Ingest(context.Background(), "alice", "user", "note"))
	}
	assert.Len(t, m.byOwner["alice"], inMemoryPerOwner)
}

func TestSQLStore(t *testing.T) {
	gdb, err := db.Connect("sqlite:file:memory_sqlstore?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb, &MemoryRecord{}))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	s := NewSQLStore(gdb)
	ctx := context.Background()
	require.NoError(t, s.Ingest(ctx, "alice", "user", "deploying kubernetes clusters"))
	require.NoError(t, s.Ingest(ctx, "alice", "assistant", "Use kubectl apply to deploy"))
	require.NoError(t, s.Ingest(ctx, "bob", "user", "kubernetes secrets"))
	require.NoError(t, s.Ingest(ctx, "alice", "user", "   "))

	got, err := s.Retrieve(ctx, "alice", "kubernetes deploy")
	require.NoError(t, err)
	assert.Contains(t, got, "deploying kubernetes clusters")
	assert.NotContains(t, got, "secrets")

	require.NoError(t, s.Forget(ctx, "alice"))
	got, err = s.Retrieve(ctx, "alice", "kubernetes")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMem0(t *testing.T) {
	var added mem0AddReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token k", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/memories/":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&added))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[]`))
		case "/v1/memories/search/":
			var req mem0SearchReq
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "alice", req.UserID)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id":"1","memory":"Prefers Go over Java","score":0.9}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m := NewMem0(srv.URL, "k")
	ctx := context.Background()
	require.NoError(t, m.Ingest(ctx, "alice", "user", "I prefer Go"))
	assert.Equal(t, "alice", added.UserID)
	require.Len(t, added.Messages, 1)
	assert.Equal(t, "I prefer Go", added.Messages[0].Content)

	got, err := m.Retrieve(ctx, "alice", "which language?")
	require.NoError(t, err)
	assert.Equal(t, "- (memory) Prefers Go over Java", got)
}

func TestMem0_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"bad token"}`))
	}))
	defer srv.Close()

	_, err := NewMem0(srv.URL, "bad").Retrieve(context.Background(), "alice", "q")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "401"))
}

type recordingPublisher struct {
	got []string
}

func (p *recordingPublisher) PublishIngest(ctx context.Context, owner, role, text string) error {
	p.got = append(p.got, owner+"|"+role+"|"+text)
	return nil
}

func TestQueueOracle(t *testing.T) {
	pub := &recordingPublisher{}
	reader := NewInMemory()
	require.NoError(t, reader.Ingest(context.Background(), "alice", "user", "gardening tomatoes"))

	q := NewQueueOracle(pub, reader)
	require.NoError(t, q.Ingest(context.Background(), "alice", "user", "more tomatoes"))
	require.NoError(t, q.Ingest(context.Background(), "alice", "user", ""))
	assert.Equal(t, []string{"alice|user|more tomatoes"}, pub.got)

	got, err := q.Retrieve(context.Background(), "alice", "tomatoes")
	require.NoError(t, err)
	assert.Contains(t, got, "gardening tomatoes")
}
