package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + server.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, server
}

func TestRedisStoreRevokesUntilExpiry(t *testing.T) {
	store, server := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "token-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	revoked, err := store.IsRevoked(ctx, "token-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Fatalf("expected token to be revoked")
	}

	server.FastForward(2 * time.Hour)
	revoked, err = store.IsRevoked(ctx, "token-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatalf("expected revocation to lapse with the token")
	}
}

func TestRedisStoreIgnoresExpiredTokens(t *testing.T) {
	store, server := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "token-2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if server.Exists(redisKeyPrefix + "token-2") {
		t.Fatalf("expected no key for an already expired token")
	}
}

func TestRedisStoreReportsConnectionErrors(t *testing.T) {
	store, server := setupTestRedis(t)
	server.Close()

	if _, err := store.IsRevoked(context.Background(), "token-3"); err == nil {
		t.Fatalf("expected lookup error after redis shutdown")
	}
}

func TestNewRedisStoreRejectsInvalidURL(t *testing.T) {
	if _, err := NewRedisStore("://nope"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestMemoryStoreRevokes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Revoke(ctx, "token-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	revoked, err := store.IsRevoked(ctx, "token-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked token, got %v (err %v)", revoked, err)
	}
	revoked, err = store.IsRevoked(ctx, "token-2")
	if err != nil || revoked {
		t.Fatalf("expected unrevoked token, got %v (err %v)", revoked, err)
	}
}

func TestStoresRequireTokenID(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Revoke(context.Background(), " ", time.Now().Add(time.Hour)); !errors.Is(err, ErrMissingTokenID) {
		t.Fatalf("expected missing token id error, got %v", err)
	}
	redisStore, _ := setupTestRedis(t)
	if _, err := redisStore.IsRevoked(context.Background(), ""); !errors.Is(err, ErrMissingTokenID) {
		t.Fatalf("expected missing token id error, got %v", err)
	}
}
