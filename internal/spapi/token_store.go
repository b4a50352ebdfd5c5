package spapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore holds cached tokens by credential key. Get returns (nil, nil) on a miss.
type TokenStore interface {
	Get(ctx context.Context, key string) (*CachedToken, error)
	Put(ctx context.Context, key string, tok CachedToken) error
	Delete(ctx context.Context, key string) error
}

type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]CachedToken
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: map[string]CachedToken{}}
}

func (s *MemoryTokenStore) Get(_ context.Context, key string) (*CachedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[key]
	if !ok {
		return nil, nil
	}
	return &tok, nil
}

func (s *MemoryTokenStore) Put(_ context.Context, key string, tok CachedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = tok
	return nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key)
	return nil
}

// RedisTokenStore shares tokens between warm Lambda instances.
type RedisTokenStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisTokenStore(client redis.UniversalClient, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "spapi:lwa:"
	}
	return &RedisTokenStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisTokenStore) Get(ctx context.Context, key string) (*CachedToken, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load token: %w", err)
	}
	var tok CachedToken
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

func (s *RedisTokenStore) Put(ctx context.Context, key string, tok CachedToken) error {
	ttl := tok.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, b, ttl).Err(); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
