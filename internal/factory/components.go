package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/cache"
	"github.com/mycelian/mycelian-companion/internal/config"
	"github.com/mycelian/mycelian-companion/internal/crypto"
	"github.com/mycelian/mycelian-companion/internal/dispatch"
	"github.com/mycelian/mycelian-companion/internal/llm"
)

const (
	memoryCacheCleanup = 10 * time.Minute
	dispatchTimeout    = 10 * time.Second
)

// NewCache returns the configured key-value cache.
func NewCache(ctx context.Context, cfg *config.Config, log zerolog.Logger) (cache.Cache, error) {
	switch cfg.CacheDriver {
	case "redis":
		c, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		log.Info().Str("driver", cfg.CacheDriver).Msg("Cache ready")
		return c, nil
	case "memory":
		log.Info().Str("driver", cfg.CacheDriver).Msg("Cache ready")
		return cache.NewMemory(memoryCacheCleanup), nil
	default:
		return nil, fmt.Errorf("unknown CACHE_DRIVER: %s", cfg.CacheDriver)
	}
}

// NewEncryptor returns AES-GCM when encryption is enabled and a pass-through otherwise.
func NewEncryptor(cfg *config.Config) (crypto.Encryptor, error) {
	if !cfg.EncryptionEnabled {
		return crypto.Noop{}, nil
	}
	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	enc, err := crypto.NewAESGCM(key)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// NewDispatcher posts to the webhook when one is configured and only logs otherwise.
func NewDispatcher(cfg *config.Config, log zerolog.Logger) dispatch.Dispatcher {
	if cfg.DispatchWebhookURL == "" {
		log.Warn().Msg("No dispatch webhook configured; notifications are only logged")
		return dispatch.NewLog(log)
	}
	return dispatch.NewWebhook(cfg.DispatchWebhookURL, dispatchTimeout)
}

// NewLLMProvider builds the shared, rate-limited text-generation provider.
func NewLLMProvider(cfg *config.Config, enc crypto.Encryptor, observe llm.Observer) *llm.OpenAIProvider {
	return llm.NewOpenAIProvider(llm.Config{
		BaseURL:    cfg.LLMBaseURL,
		Model:      cfg.LLMModel,
		FastModel:  cfg.LLMFastModel,
		Timeout:    time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
		MaxRetries: cfg.LLMMaxRetries,
	}, enc, cfg.LLMRequestsPerMinute, observe)
}
