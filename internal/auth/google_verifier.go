package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	defaultJWKSCacheTTL    = 10 * time.Minute
	minJWKSRefreshInterval = 30 * time.Second
	issuerGoogle           = "https://accounts.google.com"
	issuerGoogleBare       = "accounts.google.com"
)

var (
	// ErrInvalidVerifierConfig indicates an incomplete Google verifier configuration.
	ErrInvalidVerifierConfig = errors.New("auth: invalid google verifier config")
	// ErrInvalidGoogleToken indicates an ID token that failed verification.
	ErrInvalidGoogleToken = errors.New("auth: invalid google id token")

	errMissingToken          = errors.New("id token must not be empty")
	errMissingKeyIdentifier  = errors.New("token missing key identifier")
	errKeyNotFound           = errors.New("signing key not found in JWKS")
	errUntrustedIssuer       = errors.New("token issuer not allowed")
	errMissingSubject        = errors.New("token missing subject claim")
	errUnverifiedEmail       = errors.New("token email is not verified")
	errMissingAudienceConfig = errors.New("audience configuration required")
	errMissingJWKSURL        = errors.New("jwks url configuration required")
	errNoAllowedIssuers      = errors.New("no allowed issuers configured")
	errNoUsableKeys          = errors.New("jwks document contained no usable keys")
)

// GoogleVerifierConfig configures Google ID token verification for Google sign-in.
type GoogleVerifierConfig struct {
	Audience       string
	JWKSURL        string
	AllowedIssuers []string
	HTTPClient     *http.Client
	CacheTTL       time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// GoogleClaims are the verified claims used to resolve a beekeeper's account.
type GoogleClaims struct {
	Audience      string
	Subject       string
	Issuer        string
	Email         string
	EmailVerified bool
	Name          string
	Expiry        time.Time
	IssuedAt      time.Time
	TokenID       string
}

type googleIDClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// GoogleVerifier checks Google ID tokens against Google's published signing keys.
// Keys are cached per key id; an unknown key id triggers at most one refresh per interval.
type GoogleVerifier struct {
	audience   string
	jwksURL    string
	cacheTTL   time.Duration
	issuers    map[string]struct{}
	httpClient *http.Client
	clock      func() time.Time
	logger     *zap.Logger
	keys       *cache.Cache

	refreshMu   sync.Mutex
	lastRefresh time.Time
}

// NewGoogleVerifier validates cfg and constructs a GoogleVerifier.
func NewGoogleVerifier(cfg GoogleVerifierConfig) (*GoogleVerifier, error) {
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingAudienceConfig)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingJWKSURL)
	}
	issuers, err := allowedIssuers(cfg.AllowedIssuers)
	if err != nil {
		return nil, err
	}

	verifier := &GoogleVerifier{
		audience:   audience,
		jwksURL:    jwksURL,
		cacheTTL:   cfg.CacheTTL,
		issuers:    issuers,
		httpClient: cfg.HTTPClient,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
	if verifier.cacheTTL <= 0 {
		verifier.cacheTTL = defaultJWKSCacheTTL
	}
	if verifier.httpClient == nil {
		verifier.httpClient = http.DefaultClient
	}
	if verifier.clock == nil {
		verifier.clock = time.Now
	}
	if verifier.logger == nil {
		verifier.logger = zap.NewNop()
	}
	verifier.keys = cache.New(verifier.cacheTTL, 2*verifier.cacheTTL)
	return verifier, nil
}

func allowedIssuers(configured []string) (map[string]struct{}, error) {
	issuers := make(map[string]struct{})
	if len(configured) == 0 {
		issuers[issuerGoogle] = struct{}{}
		issuers[issuerGoogleBare] = struct{}{}
		return issuers, nil
	}
	for _, issuer := range configured {
		if normalized := strings.TrimSpace(issuer); normalized != "" {
			issuers[normalized] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errNoAllowedIssuers)
	}
	return issuers, nil
}

// Verify checks the token signature, audience, issuer and expiry and returns its claims.
// A token carrying an email must mark it verified.
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (GoogleClaims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return GoogleClaims{}, fmt.Errorf("%w: %v", ErrInvalidGoogleToken, errMissingToken)
	}

	claims := &googleIDClaims{}
	_, err := jwt.ParseWithClaims(
		rawToken,
		claims,
		func(token *jwt.Token) (any, error) {
			keyID, _ := token.Header["kid"].(string)
			if keyID == "" {
				return nil, errMissingKeyIdentifier
			}
			return v.signingKey(ctx, keyID)
		},
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return GoogleClaims{}, fmt.Errorf("%w: %v", ErrInvalidGoogleToken, err)
	}

	if _, allowed := v.issuers[claims.Issuer]; !allowed {
		return GoogleClaims{}, fmt.Errorf("%w: %v", ErrInvalidGoogleToken, errUntrustedIssuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return GoogleClaims{}, fmt.Errorf("%w: %v", ErrInvalidGoogleToken, errMissingSubject)
	}
	email := strings.TrimSpace(claims.Email)
	verified := claims.EmailVerified != nil && *claims.EmailVerified
	if email != "" && !verified {
		return GoogleClaims{}, fmt.Errorf("%w: %v", ErrInvalidGoogleToken, errUnverifiedEmail)
	}

	result := GoogleClaims{
		Audience:      v.audience,
		Subject:       claims.Subject,
		Issuer:        claims.Issuer,
		Email:         email,
		EmailVerified: verified,
		Name:          strings.TrimSpace(claims.Name),
		TokenID:       claims.ID,
	}
	if claims.ExpiresAt != nil {
		result.Expiry = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	return result, nil
}

func (v *GoogleVerifier) signingKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	if cached, found := v.keys.Get(keyID); found {
		return cached.(*rsa.PublicKey), nil
	}
	if err := v.refresh(ctx); err != nil {
		return nil, err
	}
	if cached, found := v.keys.Get(keyID); found {
		return cached.(*rsa.PublicKey), nil
	}
	return nil, errKeyNotFound
}

// refresh downloads the key set unless another refresh happened within the minimum interval.
func (v *GoogleVerifier) refresh(ctx context.Context) error {
	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()

	now := v.clock()
	if !v.lastRefresh.IsZero() && now.Sub(v.lastRefresh) < minJWKSRefreshInterval {
		return nil
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	response, err := v.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks request returned status %d", response.StatusCode)
	}

	var document jwksDocument
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return err
	}

	ttl := v.cacheTTL
	if maxAge, ok := cacheMaxAge(response.Header.Get("Cache-Control")); ok && maxAge < ttl {
		ttl = max(maxAge, minJWKSRefreshInterval)
	}
	stored := 0
	for _, key := range document.Keys {
		if key.KeyType != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		publicKey, err := key.publicKey()
		if err != nil {
			v.logger.Debug("skipping jwk", zap.String("kid", key.KeyID), zap.Error(err))
			continue
		}
		v.keys.Set(key.KeyID, publicKey, ttl)
		stored++
	}
	v.lastRefresh = now
	if stored == 0 {
		return errNoUsableKeys
	}
	v.logger.Debug("google signing keys refreshed", zap.Int("keys", stored), zap.Duration("ttl", ttl))
	return nil
}

// cacheMaxAge extracts max-age from a Cache-Control header.
func cacheMaxAge(header string) (time.Duration, bool) {
	for _, directive := range strings.Split(header, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}

type jwksDocument struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	KeyType  string `json:"kty"`
	KeyID    string `json:"kid"`
	Use      string `json:"use"`
	Modulus  string `json:"n"`
	Exponent string `json:"e"`
}

func (k jsonWebKey) publicKey() (*rsa.PublicKey, error) {
	modulus, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil || len(modulus) == 0 {
		return nil, fmt.Errorf("invalid modulus: %v", err)
	}
	exponent, err := base64.RawURLEncoding.DecodeString(k.Exponent)
	if err != nil || len(exponent) == 0 {
		return nil, fmt.Errorf("invalid exponent: %v", err)
	}
	value := new(big.Int).SetBytes(exponent)
	if !value.IsInt64() || value.Int64() <= 1 || value.Int64() > 1<<31-1 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: int(value.Int64())}, nil
}
