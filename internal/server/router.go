// Package server exposes the BuzzNotes remote store over HTTP: account endpoints,
// per-user record tables, audio upload, realtime change events and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/audio"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/auth"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/records"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "buzznotes_user_id"
	claimsContextKey = "buzznotes_claims"
	accessTokenQuery = "access_token"
)

var (
	errMissingUserDirectory   = errors.New("user directory dependency required")
	errMissingTokenIssuer     = errors.New("token issuer dependency required")
	errMissingSessionVerifier = errors.New("session validator dependency required")
	errMissingRecordsService  = errors.New("records service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

type TokenIssuer interface {
	Issue(ctx context.Context, subject string, email string) (auth.IssuedToken, error)
}

type SessionValidator interface {
	ValidateToken(ctx context.Context, token string) (auth.TokenClaims, error)
}

type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// UserDirectory resolves accounts for the auth endpoints.
type UserDirectory interface {
	SignUp(ctx context.Context, email string, password string) (users.Account, error)
	Authenticate(ctx context.Context, email string, password string) (users.Account, error)
	ResolveGoogle(ctx context.Context, claims auth.GoogleClaims) (users.Account, error)
	Lookup(ctx context.Context, userID string) (users.Account, error)
}

// BlobStore stores recording audio and returns its public URL.
type BlobStore interface {
	Upload(ctx context.Context, userID string, recordingID string, payload audio.Payload) (string, error)
}

// Dependencies wires the handler. GoogleVerifier, Revocations, Blobs, Realtime and
// Metrics are optional; the endpoints that need them answer 501 when unset.
type Dependencies struct {
	GoogleVerifier GoogleVerifier
	Users          UserDirectory
	Tokens         TokenIssuer
	Sessions       SessionValidator
	Revocations    TokenRevoker
	Records        *records.Service
	Blobs          BlobStore
	Realtime       *RealtimeDispatcher
	Metrics        *Metrics
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionVerifier
	}
	if deps.Records == nil {
		return nil, errMissingRecordsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.middleware())
	}
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		verifier:    deps.GoogleVerifier,
		users:       deps.Users,
		tokens:      deps.Tokens,
		sessions:    deps.Sessions,
		revocations: deps.Revocations,
		records:     deps.Records,
		blobs:       deps.Blobs,
		realtime:    deps.Realtime,
		metrics:     deps.Metrics,
		logger:      logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(MetricsHandler(deps.Gatherer)))
	}

	router.POST("/auth/signup", handler.handleSignUp)
	router.POST("/auth/signin", handler.handleSignIn)
	router.POST("/auth/google", handler.handleGoogleAuth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/signout", handler.handleSignOut)
	protected.GET("/auth/session", handler.handleSession)
	protected.GET("/events", handler.handleEvents)
	protected.PUT("/v1/audio/:id", handler.handleAudioUpload)
	protected.GET("/v1/:table", handler.handleListRows)
	protected.POST("/v1/:table", handler.handleInsertRow)
	protected.GET("/v1/:table/:id/exists", handler.handleRowExists)
	protected.PATCH("/v1/:table/:id", handler.handleUpdateRow)
	protected.DELETE("/v1/:table/:id", handler.handleDeleteRow)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	verifier    GoogleVerifier
	users       UserDirectory
	tokens      TokenIssuer
	sessions    SessionValidator
	revocations TokenRevoker
	records     *records.Service
	blobs       BlobStore
	realtime    *RealtimeDispatcher
	metrics     *Metrics
	logger      *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := auth.BearerToken(c.GetHeader("Authorization"))
	if token == "" && c.Request.Method == http.MethodGet {
		token = c.Query(accessTokenQuery)
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.sessions.ValidateToken(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrRevokedSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Set(claimsContextKey, claims)
	c.Next()
}

func requestClaims(c *gin.Context) (auth.TokenClaims, bool) {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return auth.TokenClaims{}, false
	}
	claims, ok := value.(auth.TokenClaims)
	return claims, ok
}
