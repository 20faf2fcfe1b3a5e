package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/galaxy-chat/internal/attach"
	"github.com/suPer8Hu/galaxy-chat/internal/auth"
	"github.com/suPer8Hu/galaxy-chat/internal/config"
	"github.com/suPer8Hu/galaxy-chat/internal/convlock"
	"github.com/suPer8Hu/galaxy-chat/internal/memory"
	"go.uber.org/zap"
)

func TestBuildRegistry(t *testing.T) {
	reg, err := buildRegistry(config.Config{AIProvider: "ollama", OllamaModel: "llama3:latest"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama"}, reg.Names())

	reg, err = buildRegistry(config.Config{AIProvider: "OpenRouter", OpenRouterAPIKey: "k", OpenAIAPIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama", "openai", "openrouter"}, reg.Names())

	_, err = buildRegistry(config.Config{AIProvider: "gemini"})
	require.Error(t, err)
}

func TestBuildBackends(t *testing.T) {
	locker, closer, err := buildLocker(config.Config{LockBackend: "memory"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &convlock.Arena{}, locker)
	assert.Nil(t, closer)

	_, _, err = buildLocker(config.Config{LockBackend: "etcd"}, zap.NewNop())
	require.Error(t, err)

	mem, _, err := buildMemory(config.Config{MemoryBackend: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.InMemory{}, mem)

	_, _, err = buildMemory(config.Config{MemoryBackend: "mem0"}, nil)
	require.Error(t, err)

	blobs, err := buildBlobs(config.Config{AttachBackend: "local", UploadDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &attach.Local{}, blobs)

	_, err = buildBlobs(config.Config{AttachBackend: "cloudinary"})
	require.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", "cli-secret")

	var out bytes.Buffer
	rootCmd.AddCommand(tokenCmd)
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "alice", "--ttl", "1h"})
	require.NoError(t, rootCmd.Execute())

	owner, err := auth.ParseJWT(strings.TrimSpace(out.String()), "cli-secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
}
