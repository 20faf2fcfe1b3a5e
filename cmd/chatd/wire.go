package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/suPer8Hu/galaxy-chat/internal/ai"
	"github.com/suPer8Hu/galaxy-chat/internal/attach"
	"github.com/suPer8Hu/galaxy-chat/internal/chat"
	"github.com/suPer8Hu/galaxy-chat/internal/config"
	"github.com/suPer8Hu/galaxy-chat/internal/convlock"
	"github.com/suPer8Hu/galaxy-chat/internal/memory"
	"github.com/suPer8Hu/galaxy-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/galaxy-chat/internal/store/redisstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// buildRegistry registers ollama unconditionally and every hosted provider
// that has credentials. Conversations route by their provider and model.
func buildRegistry(cfg config.Config) (*ai.Registry, error) {
	reg := ai.NewRegistry()

	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	if cfg.OpenRouterAPIKey != "" {
		reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
			m := strings.TrimSpace(model)
			if m == "" {
				m = cfg.OpenRouterModel
			}
			return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
		})
	}

	if cfg.OpenAIAPIKey != "" {
		reg.Register("openai", func(ctx context.Context, model string) (ai.Provider, error) {
			m := strings.TrimSpace(model)
			if m == "" {
				m = cfg.OpenAIModel
			}
			return ai.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, m)
		})
	}

	if cfg.GeminiAPIKey != "" {
		reg.Register("gemini", func(ctx context.Context, model string) (ai.Provider, error) {
			m := strings.TrimSpace(model)
			if m == "" {
				m = cfg.GeminiModel
			}
			return ai.NewGeminiProvider(ctx, cfg.GeminiBaseURL, cfg.GeminiAPIKey, m)
		})
	}

	name := strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	if !slices.Contains(reg.Names(), name) {
		return nil, fmt.Errorf("AI_PROVIDER=%q is not configured (available: %s)", cfg.AIProvider, strings.Join(reg.Names(), ", "))
	}
	reg.SetDefault(name, cfg.AIModel)
	return reg, nil
}

func buildLocker(cfg config.Config, log *zap.Logger) (chat.Locker, io.Closer, error) {
	switch strings.ToLower(cfg.LockBackend) {
	case "", "memory":
		return convlock.New(), nil, nil
	case "redis":
		rds, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.NewLocker(rds, 0, log), rds, nil
	}
	return nil, nil, fmt.Errorf("unknown LOCK_BACKEND %q", cfg.LockBackend)
}

// buildMemory picks the memory oracle. "queue" reads from the database and
// hands ingestion to the worker through RabbitMQ.
func buildMemory(cfg config.Config, gdb *gorm.DB) (memory.Oracle, io.Closer, error) {
	switch strings.ToLower(cfg.MemoryBackend) {
	case "", "memory":
		return memory.NewInMemory(), nil, nil
	case "sql":
		return memory.NewSQLStore(gdb), nil, nil
	case "mem0":
		if cfg.Mem0APIKey == "" {
			return nil, nil, fmt.Errorf("MEMORY_BACKEND=mem0 needs MEM0_API_KEY")
		}
		return memory.NewMem0(cfg.Mem0BaseURL, cfg.Mem0APIKey), nil, nil
	case "queue":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return nil, nil, err
		}
		return memory.NewQueueOracle(pub, memory.NewSQLStore(gdb)), pub, nil
	}
	return nil, nil, fmt.Errorf("unknown MEMORY_BACKEND %q", cfg.MemoryBackend)
}

func buildBlobs(cfg config.Config) (attach.Store, error) {
	switch strings.ToLower(cfg.AttachBackend) {
	case "", "local":
		return attach.NewLocal(cfg.UploadDir, cfg.PublicBaseURL)
	case "cloudinary":
		if cfg.CloudinaryCloudName == "" || cfg.CloudinaryAPIKey == "" || cfg.CloudinaryAPISecret == "" {
			return nil, fmt.Errorf("ATTACH_BACKEND=cloudinary needs CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET")
		}
		return attach.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret), nil
	}
	return nil, fmt.Errorf("unknown ATTACH_BACKEND %q", cfg.AttachBackend)
}

func migrationModels() []any {
	return append(chat.Models(), &memory.MemoryRecord{})
}
