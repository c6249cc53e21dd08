package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "buzznotes:revoked:"

// RedisStore implements revocation storage using Redis key expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a new Redis-backed revocation store.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: redisKeyPrefix,
		now:    time.Now,
	}
}

func (s *RedisStore) key(tokenID string) string {
	return s.prefix + tokenID
}

// Revoke marks the token as revoked until it expires. Already expired tokens are ignored.
func (s *RedisStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	normalized, err := normalizeTokenID(tokenID)
	if err != nil {
		return err
	}
	ttl := revocationTTL(expiresAt, s.now())
	if ttl == 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(normalized), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether the token identifier has been revoked.
func (s *RedisStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	normalized, err := normalizeTokenID(tokenID)
	if err != nil {
		return false, err
	}
	count, err := s.client.Exists(ctx, s.key(normalized)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup revoked token: %w", err)
	}
	return count > 0, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
