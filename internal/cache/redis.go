package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/certmint/certmint/internal/redisconn"
)

// RedisProvider shares dedupe markers and access tokens across replicas. The
// client is owned by the caller.
type RedisProvider struct {
	client redis.Cmdable
}

func NewRedisProvider(client redis.Cmdable) *RedisProvider {
	return &RedisProvider{client: client}
}

func (r *RedisProvider) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, redisconn.Key("cache", key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrNotFound
	case err != nil:
		return "", err
	}
	return value, nil
}

func (r *RedisProvider) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, redisconn.Key("cache", key), value, ttl).Err()
}

// SetIfAbsent uses SET NX so concurrent webhook deliveries across replicas
// agree on a single winner.
func (r *RedisProvider) SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	err := r.client.SetArgs(ctx, redisconn.Key("cache", key), value, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (r *RedisProvider) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisconn.Key("cache", key)).Err()
}

func (r *RedisProvider) Close() error {
	return nil
}
