package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const tokenTypeBearer = "Bearer"

type credentialsRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleAuthRequestPayload struct {
	IDToken string `json:"id_token"`
}

type authResponsePayload struct {
	AccessToken string        `json:"access_token"`
	ExpiresIn   int64         `json:"expires_in"`
	ExpiresAt   int64         `json:"expires_at"`
	TokenType   string        `json:"token_type"`
	User        users.Account `json:"user"`
}

type sessionResponsePayload struct {
	User      users.Account `json:"user"`
	ExpiresAt int64         `json:"expires_at"`
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request credentialsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	account, err := h.users.SignUp(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondAccountError(c, "sign up failed", err)
		return
	}
	h.respondWithToken(c, http.StatusCreated, account)
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request credentialsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	account, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondAccountError(c, "sign in failed", err)
		return
	}
	h.respondWithToken(c, http.StatusOK, account)
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	if h.verifier == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "oauth_provider_disabled"})
		return
	}
	var request googleAuthRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	account, err := h.users.ResolveGoogle(c.Request.Context(), claims)
	if err != nil {
		h.respondAccountError(c, "google identity resolution failed", err)
		return
	}
	h.respondWithToken(c, http.StatusOK, account)
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	claims, ok := requestClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.revocations != nil && claims.TokenID != "" {
		if err := h.revocations.Revoke(c.Request.Context(), claims.TokenID, claims.ExpiresAt); err != nil {
			h.logger.Error("failed to revoke token",
				zap.String("operation", "server.sign_out"),
				zap.String("reason", "revoke_failed"),
				zap.String("user_id", claims.Subject),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sign_out_failed"})
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSession(c *gin.Context) {
	claims, ok := requestClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	account, err := h.users.Lookup(c.Request.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, users.ErrUnknownUser) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("failed to look up session user", zap.String("user_id", claims.Subject), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, sessionResponsePayload{User: account, ExpiresAt: unixSeconds(claims.ExpiresAt)})
}

func (h *httpHandler) respondWithToken(c *gin.Context, status int, account users.Account) {
	issued, err := h.tokens.Issue(c.Request.Context(), account.UserID, account.Email)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.String("user_id", account.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, authResponsePayload{
		AccessToken: issued.Token,
		ExpiresIn:   issued.ExpiresIn,
		ExpiresAt:   unixSeconds(issued.ExpiresAt),
		TokenType:   tokenTypeBearer,
		User:        account,
	})
}

func (h *httpHandler) respondAccountError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, users.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
	case errors.Is(err, users.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": "weak_password"})
	case errors.Is(err, users.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
	case errors.Is(err, users.ErrInvalidCredentials):
		h.logger.Info(message, zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, users.ErrInvalidIdentity):
		h.logger.Warn(message, zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account_failed"})
	}
}

func unixSeconds(moment time.Time) int64 {
	if moment.IsZero() {
		return 0
	}
	return moment.Unix()
}
