package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const memoryCleanupInterval = 5 * time.Minute

// MemoryStore keeps revocations in process memory. Used when no Redis URL is configured.
type MemoryStore struct {
	entries *gocache.Cache
	now     func() time.Time
}

// NewMemoryStore constructs an in-memory revocation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: gocache.New(gocache.NoExpiration, memoryCleanupInterval),
		now:     time.Now,
	}
}

// Revoke marks the token as revoked until it expires.
func (s *MemoryStore) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	normalized, err := normalizeTokenID(tokenID)
	if err != nil {
		return err
	}
	ttl := revocationTTL(expiresAt, s.now())
	if ttl == 0 {
		return nil
	}
	s.entries.Set(normalized, struct{}{}, ttl)
	return nil
}

// IsRevoked reports whether the token identifier has been revoked.
func (s *MemoryStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	normalized, err := normalizeTokenID(tokenID)
	if err != nil {
		return false, err
	}
	_, found := s.entries.Get(normalized)
	return found, nil
}
