package session

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultTTL = time.Hour

// RedisStore keeps sessions in Redis under a common key prefix so a shared
// instance can serve several deployments.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures RedisStore.
type RedisOption func(*RedisStore)

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore connects to Redis at addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, opts ...RedisOption) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	s := &RedisStore{client: client, prefix: "session:", ttl: defaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) key(sessionID string) string { return s.prefix + sessionID }

// Set registers the session for the configured TTL.
func (s *RedisStore) Set(ctx context.Context, sessionID, userID string) error {
	return s.client.Set(ctx, s.key(sessionID), userID, s.ttl).Err()
}

// Get returns the user ID the session belongs to.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (string, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// Delete revokes the session. Deleting an absent session is not an error.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}
