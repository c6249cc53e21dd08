// Package account is the client side of authentication: it holds the current
// session, persists it between runs and announces sign-in and sign-out.
package account

import (
	"context"
	"errors"
	"time"
)

const ProviderGoogle = "google"

var (
	// ErrUnsupportedProvider indicates an OAuth provider other than Google.
	ErrUnsupportedProvider = errors.New("account: unsupported oauth provider")
	// ErrMissingBackend indicates a Manager constructed without an auth backend.
	ErrMissingBackend = errors.New("account: backend is required")
	// ErrSessionRejected indicates that the backend no longer accepts the session token.
	ErrSessionRejected = errors.New("account: session rejected")
)

// User is the signed-in account.
type User struct {
	ID          string
	Email       string
	DisplayName string
}

// Session is an authenticated user plus the bearer token that proves it.
type Session struct {
	AccessToken string
	User        User
	ExpiresAt   time.Time
}

// Backend performs the authentication calls against the remote store.
// Session returns ErrSessionRejected when the token is no longer valid.
type Backend interface {
	SignUp(ctx context.Context, email string, password string) (Session, error)
	SignIn(ctx context.Context, email string, password string) (Session, error)
	SignInWithOAuth(ctx context.Context, provider string, idToken string) (Session, error)
	SignOut(ctx context.Context, accessToken string) error
	Session(ctx context.Context, accessToken string) (Session, error)
}
