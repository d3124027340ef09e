package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTTL = 0 // conversations live until deleted

// RedisKV is a Redis-backed KV for multi-node deployments.
type RedisKV struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisKV.
type RedisOption func(*RedisKV)

// WithTTL expires keys after the given duration. Zero (the default) keeps
// keys until explicitly deleted.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisKV) { s.ttl = ttl }
}

// WithPrefix overrides the key prefix. Default is "convene".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisKV) { s.prefix = prefix }
}

// NewRedisKV creates a Redis-backed store on an existing client.
func NewRedisKV(client *redis.Client, opts ...RedisOption) *RedisKV {
	s := &RedisKV{
		client: client,
		ttl:    defaultRedisTTL,
		prefix: "convene",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (s *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisKV) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (s *RedisKV) key(k string) string {
	return fmt.Sprintf("%s:conversation:%s", s.prefix, k)
}
