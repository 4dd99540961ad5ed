// Package cache backs webhook delivery dedupe and the email API token cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("key not found")

type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetIfAbsent stores value only when key is missing or expired and reports
	// whether it did.
	SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider string
	// Redis is required for the redis provider.
	Redis redis.Cmdable
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider()
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis cache provider requires a redis client")
		}
		return NewRedisProvider(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}

func WebhookKey(source, deliveryID string) string {
	return fmt.Sprintf("webhook:%s:%s", source, deliveryID)
}

func AccessTokenKey(issuer, clientID string) string {
	return fmt.Sprintf("oauth:%s:%s", issuer, clientID)
}
