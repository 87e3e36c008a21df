package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL bounds how long an abandoned session survives in Redis.
const DefaultSessionTTL = 12 * time.Hour

// RedisOptions configures a Redis store.
type RedisOptions struct {
	Client    redis.UniversalClient
	SessionID string
	// Prefix defaults to "univer:session:".
	Prefix string
	// TTL is refreshed on every write; defaults to DefaultSessionTTL.
	TTL time.Duration
}

// Redis keeps all values of one session in a single hash with a sliding TTL.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed store for one session.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	id := strings.TrimSpace(opts.SessionID)
	if id == "" {
		return nil, errors.New("session ID is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "univer:session:"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Redis{client: opts.Client, key: prefix + id, ttl: ttl}, nil
}

// Key returns the Redis hash key backing this session.
func (r *Redis) Key() string { return r.key }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, errEmptyKey
	}
	v, err := r.client.HGet(ctx, r.key, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis hget: %w", err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return errEmptyKey
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, key, value)
		pipe.Expire(ctx, r.key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, r.key, keys...).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// Close removes the whole session hash.
func (r *Redis) Close(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Health checks the health of the Redis connection.
func (r *Redis) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
