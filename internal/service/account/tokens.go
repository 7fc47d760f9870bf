package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

var ErrTokenNotFound = errors.New("reset token not found or expired")

// TokenStore keeps password reset tokens until they are used or expire.
// Keys are already hashed by the caller.
type TokenStore interface {
	Save(ctx context.Context, key string, userID uuid.UUID, ttl time.Duration) error
	// Consume returns the owner of key and removes it.
	Consume(ctx context.Context, key string) (uuid.UUID, error)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type memoryTokenStore struct {
	mu sync.Mutex // guards Get+Delete in Consume
	c  *cache.Cache
}

// NewMemoryTokenStore keeps tokens in process. Expired entries are swept
// every cleanup interval.
func NewMemoryTokenStore(cleanup time.Duration) TokenStore {
	return &memoryTokenStore{c: cache.New(time.Hour, cleanup)}
}

func (s *memoryTokenStore) Save(_ context.Context, key string, userID uuid.UUID, ttl time.Duration) error {
	s.c.Set(key, userID, ttl)
	return nil
}

func (s *memoryTokenStore) Consume(_ context.Context, key string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.c.Get(key)
	if !ok {
		return uuid.Nil, ErrTokenNotFound
	}
	s.c.Delete(key)
	return v.(uuid.UUID), nil
}

type redisTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenStore shares tokens between api replicas.
func NewRedisTokenStore(client *redis.Client, prefix string) TokenStore {
	return &redisTokenStore{client: client, prefix: prefix + "reset:"}
}

func (s *redisTokenStore) Save(ctx context.Context, key string, userID uuid.UUID, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, userID.String(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}
	return nil
}

func (s *redisTokenStore) Consume(ctx context.Context, key string) (uuid.UUID, error) {
	v, err := s.client.GetDel(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrTokenNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to read reset token: %w", err)
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, ErrTokenNotFound
	}
	return id, nil
}
