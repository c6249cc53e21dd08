package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingTokenValidator = errors.New("session validator: token issuer required")
	ErrMissingSessionToken   = errors.New("session validator: token required")
	ErrInvalidSessionToken   = errors.New("session validator: invalid token")
	ErrExpiredSessionToken   = errors.New("session validator: token expired")
	ErrRevokedSessionToken   = errors.New("session validator: token revoked")
)

const bearerPrefix = "Bearer "

// RevocationChecker reports whether a token identifier has been revoked by sign-out.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// SessionValidatorConfig describes how to validate API access tokens.
type SessionValidatorConfig struct {
	Issuer      *TokenIssuer
	Revocations RevocationChecker
}

// SessionValidator validates bearer tokens and consults the revocation store.
type SessionValidator struct {
	issuer      *TokenIssuer
	revocations RevocationChecker
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if cfg.Issuer == nil {
		return nil, ErrMissingTokenValidator
	}
	return &SessionValidator{
		issuer:      cfg.Issuer,
		revocations: cfg.Revocations,
	}, nil
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *SessionValidator) ValidateToken(ctx context.Context, tokenString string) (TokenClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return TokenClaims{}, ErrMissingSessionToken
	}

	claims, err := v.issuer.Validate(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenClaims{}, ErrExpiredSessionToken
		}
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}

	if v.revocations != nil && claims.TokenID != "" {
		revoked, err := v.revocations.IsRevoked(ctx, claims.TokenID)
		if err != nil {
			return TokenClaims{}, fmt.Errorf("%w: revocation lookup: %v", ErrInvalidSessionToken, err)
		}
		if revoked {
			return TokenClaims{}, ErrRevokedSessionToken
		}
	}
	return claims, nil
}

// ValidateRequest extracts the bearer token from the Authorization header and validates it.
func (v *SessionValidator) ValidateRequest(r *http.Request) (TokenClaims, error) {
	if r == nil {
		return TokenClaims{}, ErrMissingSessionToken
	}
	return v.ValidateToken(r.Context(), BearerToken(r.Header.Get("Authorization")))
}

// BearerToken strips the bearer scheme from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}
