package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	keyPrefix  = "shop:session:"
	defaultTTL = 14 * 24 * time.Hour
)

// RedisStore хранит сессию посетителя как hash `shop:session:{id}`.
// Каждое обращение продлевает TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore создаёт SessionStore поверх Redis.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Key возвращает ключ hash для сессии.
func Key(sessionID string) string {
	return keyPrefix + strings.TrimSpace(sessionID)
}

func (s *RedisStore) Get(ctx context.Context, sessionID, key string) ([]byte, bool, error) {
	hashKey := Key(sessionID)

	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGet(ctx, hashKey, key)
		pipe.Expire(ctx, hashKey, s.ttl)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("redis session get: %w", err)
	}

	value, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis session get: %w", err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, sessionID, key string, value []byte) error {
	hashKey := Key(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hashKey, key, value)
		pipe.Expire(ctx, hashKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis session set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID, key string) error {
	if err := s.client.HDel(ctx, Key(sessionID), key).Err(); err != nil {
		return fmt.Errorf("redis session delete: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis для readiness.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ domain.SessionStore = (*RedisStore)(nil)
