package session

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultSweepInterval = time.Minute

type Config struct {
	Provider string
	// Redis is required for the redis provider.
	Redis redis.Cmdable
}

func NewStore(cfg Config) (Store, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewMemoryStore(defaultSweepInterval), nil
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis session store requires a redis client")
		}
		return NewRedisStore(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("unsupported session store provider: %s", cfg.Provider)
	}
}
