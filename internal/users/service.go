package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/auth"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 6

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrInvalidEmail indicates a malformed email address.
	ErrInvalidEmail = errors.New("users: invalid email")
	// ErrWeakPassword indicates a password shorter than the accepted minimum.
	ErrWeakPassword = errors.New("users: password too short")
	// ErrEmailTaken indicates that a password account already exists for the email.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrUnknownUser indicates that no identity maps to the user id.
	ErrUnknownUser = errors.New("users: unknown user")
)

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider func() (string, error)
	HashCost   int
}

// Service manages canonical user identifiers and provider-specific identities.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	nextID   func() (string, error)
	hashCost int
	cache    sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	nextID := cfg.IDProvider
	if nextID == nil {
		nextID = func() (string, error) {
			identifier, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return identifier.String(), nil
		}
	}
	hashCost := cfg.HashCost
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}
	return &Service{
		db:       cfg.Database,
		now:      clock,
		nextID:   nextID,
		hashCost: hashCost,
		cache:    sync.Map{},
	}, nil
}

// SignUp registers an email and password account.
func (s *Service) SignUp(ctx context.Context, email string, password string) (Account, error) {
	normalizedEmail, err := validateEmail(email)
	if err != nil {
		return Account{}, err
	}
	if len(password) < minPasswordLength {
		return Account{}, fmt.Errorf("%w: minimum %d characters", ErrWeakPassword, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return Account{}, err
	}

	var created Identity
	err = s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var count int64
		if err := transaction.Model(&Identity{}).
			Where("provider = ? AND subject = ?", ProviderPassword, normalizedEmail).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}

		userID, err := s.userIDForEmail(transaction, normalizedEmail)
		if err != nil {
			return err
		}
		created = Identity{
			Provider:     ProviderPassword,
			Subject:      normalizedEmail,
			UserID:       userID,
			Email:        normalizedEmail,
			PasswordHash: string(hash),
			LastSeenAt:   s.now(),
		}
		return transaction.Create(&created).Error
	})
	if err != nil {
		return Account{}, err
	}
	return created.account(), nil
}

// Authenticate verifies an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email string, password string) (Account, error) {
	normalizedEmail := normalizeEmail(email)
	if normalizedEmail == "" || password == "" {
		return Account{}, ErrInvalidCredentials
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", ProviderPassword, normalizedEmail).
		Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}

	_ = s.db.WithContext(ctx).Model(&Identity{}).
		Where("provider = ? AND subject = ?", ProviderPassword, normalizedEmail).
		Update("last_seen_at", s.now()).Error
	return identity.account(), nil
}

// ResolveGoogle returns the account for verified Google ID token claims.
// It creates a new identity mapping when the subject has not been seen before and
// links it to an existing account holding the same email.
func (s *Service) ResolveGoogle(ctx context.Context, claims auth.GoogleClaims) (Account, error) {
	subject := normalize(claims.Subject)
	if subject == "" {
		return Account{}, ErrInvalidIdentity
	}

	cacheKey := ProviderGoogle + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if account, ok := cached.(Account); ok {
			return account, nil
		}
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", ProviderGoogle, subject).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		email := normalizeEmail(claims.Email)
		userID, err := s.userIDForEmail(s.db.WithContext(ctx), email)
		if err != nil {
			return Account{}, err
		}
		identity = Identity{
			Provider:    ProviderGoogle,
			Subject:     subject,
			UserID:      userID,
			Email:       email,
			DisplayName: normalize(claims.Name),
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return Account{}, err
		}
	} else if err != nil {
		return Account{}, err
	} else {
		updates := map[string]interface{}{}
		if email := normalizeEmail(claims.Email); email != "" && email != identity.Email {
			updates["user_email"] = email
			identity.Email = email
		}
		if display := normalize(claims.Name); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
			identity.DisplayName = display
		}
		updates["last_seen_at"] = s.now()
		_ = s.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", ProviderGoogle, subject).
			Updates(updates).
			Error
	}

	account := identity.account()
	s.cache.Store(cacheKey, account)
	return account, nil
}

// Lookup returns the account for a canonical user id.
func (s *Service) Lookup(ctx context.Context, userID string) (Account, error) {
	userID = normalize(userID)
	if userID == "" {
		return Account{}, ErrUnknownUser
	}
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrUnknownUser
	}
	if err != nil {
		return Account{}, err
	}
	return identity.account(), nil
}

func (s *Service) userIDForEmail(db *gorm.DB, email string) (string, error) {
	if email != "" {
		var existing Identity
		err := db.Where("user_email = ?", email).Order("created_at ASC").First(&existing).Error
		if err == nil {
			return existing.UserID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", err
		}
	}
	return s.nextID()
}

func validateEmail(raw string) (string, error) {
	normalized := normalizeEmail(raw)
	if normalized == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	parsed, err := mail.ParseAddress(normalized)
	if err != nil || parsed.Address != normalized {
		return "", fmt.Errorf("%w: %s", ErrInvalidEmail, raw)
	}
	return normalized, nil
}
