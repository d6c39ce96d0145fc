// Package session keeps the signed-in user's credentials on the client side.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/stayhub/stayhub-core/internal/pkg/jwt"
)

// Store persists the current auth token.
type Store interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (s *MemoryStore) Token(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryStore) SetToken(_ context.Context, token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return nil
}

// RedisStore keeps the token under one key so several client processes of
// the same user share a session.
type RedisStore struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, keyPrefix, userKey string) *RedisStore {
	return &RedisStore{client: client, key: keyPrefix + userKey, now: time.Now}
}

func (s *RedisStore) Token(ctx context.Context) (string, error) {
	tok, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return tok, err
}

// SetToken stores the token until its own expiry; tokens without exp are
// kept until cleared.
func (s *RedisStore) SetToken(ctx context.Context, token string) error {
	var ttl time.Duration
	if info, err := jwt.Inspect(token, s.now()); err == nil && !info.ExpiresAt.IsZero() {
		ttl = info.ExpiresAt.Sub(s.now())
	}
	return s.client.Set(ctx, s.key, token, ttl).Err()
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		log.Error().Err(err).Str("key", s.key).Msg("Failed to purge session token")
		return err
	}
	return nil
}
