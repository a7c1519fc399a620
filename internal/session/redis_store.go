package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session as a Redis hash under "<prefix><id>".
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. Every write pushes the hash expiry out to ttl.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "dealerdesk:session:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, id, key string) (string, bool, error) {
	value, err := s.client.HGet(ctx, s.key(id), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read session value: %w", err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, id, key, value string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(id), key, value)
	pipe.Expire(ctx, s.key(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write session value: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, s.key(id), keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete session values: %w", err)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context, id string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session keys: %w", err)
	}
	return keys, nil
}

func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// NewRedisClient parses url, connects, and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
