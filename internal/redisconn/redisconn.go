// Package redisconn opens the Redis client shared by the cache and the admin
// session store.
package redisconn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pingTimeout = 5 * time.Second
	keyPrefix   = "certmint:"
)

// Open parses a redis:// or rediss:// URL and verifies the server answers.
func Open(ctx context.Context, connectionString string) (*redis.Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if strings.TrimSpace(connectionString) == "" {
		return nil, fmt.Errorf("redis connection string is required")
	}

	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis connection string: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Key namespaces a key under the service prefix, e.g. Key("cache", k).
func Key(namespace, key string) string {
	return keyPrefix + namespace + ":" + key
}
