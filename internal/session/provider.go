package session

import (
	"context"
	"fmt"
	"strings"
)

const (
	ProviderMemory = "memory"
	ProviderRedis  = "redis"
)

type Config struct {
	Provider              string
	RedisConnectionString string
}

// NewStore builds the configured session store. Memory is the default.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderMemory:
		return NewMemoryStore(), nil
	case ProviderRedis:
		if strings.TrimSpace(cfg.RedisConnectionString) == "" {
			return nil, fmt.Errorf("redis session store requires a connection string")
		}
		return NewRedisStore(ctx, cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported session store provider: %s", cfg.Provider)
	}
}
