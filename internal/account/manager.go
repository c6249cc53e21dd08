package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/localstore"
	"go.uber.org/zap"
)

const defaultEventBuffer = 4

// EventKind classifies a SessionEvent.
type EventKind string

const (
	EventSignedIn  EventKind = "signed_in"
	EventSignedOut EventKind = "signed_out"
)

// SessionEvent announces a change of the signed-in user.
type SessionEvent struct {
	Kind EventKind
	User User
}

// SessionStore persists the session between runs.
type SessionStore interface {
	LoadSession(ctx context.Context) (localstore.Session, bool, error)
	SaveSession(ctx context.Context, session localstore.Session) error
	ClearSession(ctx context.Context) error
}

// ManagerConfig describes the dependencies of a Manager. Store is optional.
type ManagerConfig struct {
	Backend    Backend
	Store      SessionStore
	Clock      func() time.Time
	Logger     *zap.Logger
	BufferSize int
}

// Manager owns the current session.
type Manager struct {
	backend    Backend
	store      SessionStore
	now        func() time.Time
	logger     *zap.Logger
	bufferSize int

	mu      sync.RWMutex
	current *Session

	subscribersMu sync.Mutex
	subscribers   map[int64]chan SessionEvent
	nextID        int64
}

// NewManager constructs a signed-out Manager. Call Restore to resume a persisted session.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Backend == nil {
		return nil, ErrMissingBackend
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultEventBuffer
	}
	return &Manager{
		backend:     cfg.Backend,
		store:       cfg.Store,
		now:         clock,
		logger:      logger,
		bufferSize:  bufferSize,
		subscribers: make(map[int64]chan SessionEvent),
	}, nil
}

// CurrentUser returns the signed-in user.
func (m *Manager) CurrentUser() (User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return User{}, false
	}
	return m.current.User, true
}

// CurrentUserID returns the signed-in user id, or "" when signed out.
func (m *Manager) CurrentUserID() string {
	user, _ := m.CurrentUser()
	return user.ID
}

// AccessToken returns the bearer token of the current session, or "".
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.AccessToken
}

// SignIn authenticates with email and password.
func (m *Manager) SignIn(ctx context.Context, email string, password string) (User, error) {
	session, err := m.backend.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return User{}, err
	}
	return m.establish(ctx, session)
}

// SignUp creates an account and signs it in.
func (m *Manager) SignUp(ctx context.Context, email string, password string) (User, error) {
	session, err := m.backend.SignUp(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return User{}, err
	}
	return m.establish(ctx, session)
}

// SignInWithOAuth exchanges a provider ID token for a session.
func (m *Manager) SignInWithOAuth(ctx context.Context, provider string, idToken string) (User, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider != ProviderGoogle {
		return User{}, ErrUnsupportedProvider
	}
	session, err := m.backend.SignInWithOAuth(ctx, provider, strings.TrimSpace(idToken))
	if err != nil {
		return User{}, err
	}
	return m.establish(ctx, session)
}

// SignOut ends the session locally. A backend failure is logged; the local session is
// cleared regardless.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	previous := m.current
	m.current = nil
	m.mu.Unlock()
	if previous == nil {
		return nil
	}

	if err := m.backend.SignOut(ctx, previous.AccessToken); err != nil {
		m.logger.Warn("remote sign out failed",
			zap.String("operation", "account.sign_out"),
			zap.String("reason", "backend_failed"),
			zap.String("user_id", previous.User.ID),
			zap.Error(err))
	}
	var clearErr error
	if m.store != nil {
		clearErr = m.store.ClearSession(ctx)
	}
	m.publish(SessionEvent{Kind: EventSignedOut, User: previous.User})
	return clearErr
}

// Restore resumes the persisted session. An expired or rejected session is discarded; a
// backend that cannot be reached leaves the persisted session in place.
func (m *Manager) Restore(ctx context.Context) (User, bool, error) {
	if m.store == nil {
		return User{}, false, nil
	}
	stored, found, err := m.store.LoadSession(ctx)
	if err != nil || !found {
		return User{}, false, err
	}
	if stored.AccessToken == "" || stored.Expired(m.now()) {
		return User{}, false, m.store.ClearSession(ctx)
	}

	session := Session{
		AccessToken: stored.AccessToken,
		User:        User{ID: stored.UserID, Email: stored.Email},
		ExpiresAt:   stored.ExpiresAt,
	}
	confirmed, err := m.backend.Session(ctx, stored.AccessToken)
	switch {
	case errors.Is(err, ErrSessionRejected):
		m.logger.Info("persisted session rejected", zap.String("user_id", stored.UserID))
		return User{}, false, m.store.ClearSession(ctx)
	case err != nil:
		m.logger.Warn("session check failed, resuming offline",
			zap.String("operation", "account.restore"),
			zap.String("user_id", stored.UserID),
			zap.Error(err))
	default:
		confirmed.AccessToken = stored.AccessToken
		if confirmed.ExpiresAt.IsZero() {
			confirmed.ExpiresAt = stored.ExpiresAt
		}
		session = confirmed
	}
	user, err := m.establish(ctx, session)
	if err != nil {
		return User{}, false, err
	}
	return user, true, nil
}

// Subscribe returns a stream of session events until ctx ends or cancel is called.
// Slow subscribers miss events rather than block the publisher.
func (m *Manager) Subscribe(ctx context.Context) (<-chan SessionEvent, func()) {
	stream := make(chan SessionEvent, m.bufferSize)
	m.subscribersMu.Lock()
	m.nextID++
	id := m.nextID
	m.subscribers[id] = stream
	m.subscribersMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.subscribersMu.Lock()
			delete(m.subscribers, id)
			m.subscribersMu.Unlock()
			close(stream)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return stream, cancel
}

func (m *Manager) establish(ctx context.Context, session Session) (User, error) {
	if strings.TrimSpace(session.User.ID) == "" || session.AccessToken == "" {
		return User{}, ErrSessionRejected
	}
	if m.store != nil {
		err := m.store.SaveSession(ctx, localstore.Session{
			AccessToken: session.AccessToken,
			UserID:      session.User.ID,
			Email:       session.User.Email,
			ExpiresAt:   session.ExpiresAt,
		})
		if err != nil {
			return User{}, err
		}
	}
	m.mu.Lock()
	m.current = &session
	m.mu.Unlock()
	m.publish(SessionEvent{Kind: EventSignedIn, User: session.User})
	return session.User, nil
}

func (m *Manager) publish(event SessionEvent) {
	m.subscribersMu.Lock()
	defer m.subscribersMu.Unlock()
	for _, stream := range m.subscribers {
		select {
		case stream <- event:
		default:
		}
	}
}
