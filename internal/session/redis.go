package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/certmint/certmint/internal/redisconn"
)

const redisOpTimeout = 5 * time.Second

// RedisStore keeps each admin session as a hash that expires with the
// session. The client is owned by the caller.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, key string) (*Data, bool) {
	if key == "" {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	fields, err := r.client.HGetAll(ctx, redisconn.Key("admin_session", key)).Result()
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	return dataFromFields(fields)
}

func (r *RedisStore) Set(ctx context.Context, key string, data *Data, ttl time.Duration) {
	if key == "" || data == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	redisKey := redisconn.Key("admin_session", key)
	_, _ = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisKey, fieldsFromData(data))
		pipe.Expire(ctx, redisKey, ttl)
		return nil
	})
}

func (r *RedisStore) Delete(ctx context.Context, key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	r.client.Del(ctx, redisconn.Key("admin_session", key))
}

func (r *RedisStore) Close() error {
	return nil
}

func fieldsFromData(data *Data) map[string]any {
	return map[string]any{
		"subject":    data.Subject,
		"remote_ip":  data.RemoteIP,
		"created_at": data.CreatedAt.UTC().Format(time.RFC3339Nano),
		"expires_at": data.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

func dataFromFields(fields map[string]string) (*Data, bool) {
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, false
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, false
	}
	return &Data{
		Subject:   fields["subject"],
		RemoteIP:  fields["remote_ip"],
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, true
}
