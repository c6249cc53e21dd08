// Package session tracks access tokens revoked by sign-out until they would have expired.
package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrMissingTokenID indicates that a revocation was requested without a token identifier.
var ErrMissingTokenID = errors.New("session: token id required")

// RevocationStore records revoked token identifiers.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

func revocationTTL(expiresAt time.Time, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

func normalizeTokenID(tokenID string) (string, error) {
	trimmed := strings.TrimSpace(tokenID)
	if trimmed == "" {
		return "", ErrMissingTokenID
	}
	return trimmed, nil
}
