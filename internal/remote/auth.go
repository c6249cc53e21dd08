package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/account"
)

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googlePayload struct {
	IDToken string `json:"id_token"`
}

type userPayload struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type tokenPayload struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	ExpiresAt   int64       `json:"expires_at"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

type sessionPayload struct {
	User      userPayload `json:"user"`
	ExpiresAt int64       `json:"expires_at"`
}

func (u userPayload) toUser() account.User {
	return account.User{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
}

func expiry(unixSeconds int64) time.Time {
	if unixSeconds <= 0 {
		return time.Time{}
	}
	return time.Unix(unixSeconds, 0).UTC()
}

func (p tokenPayload) toSession() account.Session {
	return account.Session{AccessToken: p.AccessToken, User: p.User.toUser(), ExpiresAt: expiry(p.ExpiresAt)}
}

// AuthBackend adapts a Client to account.Backend.
type AuthBackend struct {
	client *Client
}

// Auth returns the account backend served by this client.
func (c *Client) Auth() *AuthBackend {
	return &AuthBackend{client: c}
}

func (b *AuthBackend) SignUp(ctx context.Context, email string, password string) (account.Session, error) {
	return b.exchange(ctx, "/auth/signup", credentialsPayload{Email: email, Password: password})
}

func (b *AuthBackend) SignIn(ctx context.Context, email string, password string) (account.Session, error) {
	return b.exchange(ctx, "/auth/signin", credentialsPayload{Email: email, Password: password})
}

func (b *AuthBackend) SignInWithOAuth(ctx context.Context, provider string, idToken string) (account.Session, error) {
	if provider != account.ProviderGoogle {
		return account.Session{}, account.ErrUnsupportedProvider
	}
	return b.exchange(ctx, "/auth/google", googlePayload{IDToken: idToken})
}

func (b *AuthBackend) SignOut(ctx context.Context, accessToken string) error {
	err := b.client.do(ctx, request{method: http.MethodPost, path: "/auth/signout", token: accessToken}, nil)
	if StatusCode(err) == http.StatusUnauthorized {
		return nil
	}
	return err
}

func (b *AuthBackend) Session(ctx context.Context, accessToken string) (account.Session, error) {
	var payload sessionPayload
	err := b.client.do(ctx, request{method: http.MethodGet, path: "/auth/session", token: accessToken}, &payload)
	if StatusCode(err) == http.StatusUnauthorized {
		return account.Session{}, account.ErrSessionRejected
	}
	if err != nil {
		return account.Session{}, err
	}
	return account.Session{AccessToken: accessToken, User: payload.User.toUser(), ExpiresAt: expiry(payload.ExpiresAt)}, nil
}

func (b *AuthBackend) exchange(ctx context.Context, path string, body any) (account.Session, error) {
	var payload tokenPayload
	if err := b.client.do(ctx, request{method: http.MethodPost, path: path, body: body}, &payload); err != nil {
		return account.Session{}, err
	}
	return payload.toSession(), nil
}
