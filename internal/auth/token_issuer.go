package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidIssuerConfig indicates the token issuer configuration is incomplete.
	ErrInvalidIssuerConfig = errors.New("auth: invalid token issuer config")

	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")
	errNonPositiveTTL       = errors.New("token ttl must be positive")
)

// TokenIssuerConfig configures the API access token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
	IDProvider    func() (string, error)
}

// IssuedToken is a signed access token together with its identifier and expiry.
type IssuedToken struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
	ExpiresIn int64
}

// TokenClaims exposes the validated access token payload.
type TokenClaims struct {
	Subject   string
	Email     string
	TokenID   string
	ExpiresAt time.Time
}

type sessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs the HS256 session tokens handed to BuzzNotes clients and checks
// them on every API call. Each token carries a unique jti so sign-out can revoke it.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    func() time.Time
	newID    func() (string, error)
	parser   *jwt.Parser
}

// NewTokenIssuer constructs a TokenIssuer after validating its configuration.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	issuer := strings.TrimSpace(cfg.Issuer)
	audience := strings.TrimSpace(cfg.Audience)
	switch {
	case len(cfg.SigningSecret) == 0:
		return nil, fmt.Errorf("%w: %v", ErrInvalidIssuerConfig, errMissingSigningSecret)
	case issuer == "":
		return nil, fmt.Errorf("%w: %v", ErrInvalidIssuerConfig, errMissingIssuer)
	case audience == "":
		return nil, fmt.Errorf("%w: %v", ErrInvalidIssuerConfig, errMissingAudience)
	case cfg.TokenTTL <= 0:
		return nil, fmt.Errorf("%w: %v", ErrInvalidIssuerConfig, errNonPositiveTTL)
	}

	tokens := &TokenIssuer{
		secret:   append([]byte(nil), cfg.SigningSecret...),
		issuer:   issuer,
		audience: audience,
		ttl:      cfg.TokenTTL,
		clock:    cfg.Clock,
		newID:    cfg.IDProvider,
	}
	if tokens.clock == nil {
		tokens.clock = time.Now
	}
	if tokens.newID == nil {
		tokens.newID = newTokenID
	}
	tokens.parser = jwt.NewParser(
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(tokens.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	return tokens, nil
}

func newTokenID() (string, error) {
	identifier, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return identifier.String(), nil
}

// Issue signs a session token for the account subject.
func (i *TokenIssuer) Issue(_ context.Context, subject string, email string) (IssuedToken, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return IssuedToken{}, errMissingSubjectClaim
	}
	tokenID, err := i.newID()
	if err != nil {
		return IssuedToken{}, fmt.Errorf("generate token id: %w", err)
	}

	issuedAt := i.clock().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Email: strings.TrimSpace(email),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}).SignedString(i.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign token: %w", err)
	}

	return IssuedToken{
		Token:     signed,
		TokenID:   tokenID,
		ExpiresAt: expiresAt,
		ExpiresIn: int64(i.ttl / time.Second),
	}, nil
}

// Validate checks signature, issuer, audience and expiry. Expired tokens report jwt.ErrTokenExpired.
func (i *TokenIssuer) Validate(tokenString string) (TokenClaims, error) {
	claims := &sessionClaims{}
	if _, err := i.parser.ParseWithClaims(tokenString, claims, i.signingSecret); err != nil {
		return TokenClaims{}, err
	}
	if claims.Subject == "" {
		return TokenClaims{}, errMissingSubjectClaim
	}
	return TokenClaims{
		Subject:   claims.Subject,
		Email:     claims.Email,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (i *TokenIssuer) signingSecret(*jwt.Token) (any, error) {
	return i.secret, nil
}
