package resumption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces token keys.
const DefaultKeyPrefix = "livewire:resumption:"

// RedisStore keeps one string key per session with an optional expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: DefaultKeyPrefix, ttl: ttl}
}

// WithPrefix returns a copy of the store using a different key prefix.
func (s *RedisStore) WithPrefix(prefix string) *RedisStore {
	cp := *s
	cp.prefix = prefix
	return &cp
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (string, error) {
	tok, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load resumption token: %w", err)
	}
	return tok, nil
}

func (s *RedisStore) Save(ctx context.Context, sessionID, token string) error {
	if err := s.client.Set(ctx, s.key(sessionID), token, s.ttl).Err(); err != nil {
		return fmt.Errorf("save resumption token: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete resumption token: %w", err)
	}
	return nil
}
