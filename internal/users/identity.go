package users

import (
	"strings"
	"time"
)

const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
)

// Identity captures the mapping between a canonical BuzzNotes user id and a provider-specific login.
type Identity struct {
	Provider     string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject      string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID       string    `gorm:"column:user_id;size:190;not null;index"`
	Email        string    `gorm:"column:user_email;size:320;index"`
	DisplayName  string    `gorm:"column:user_display_name;size:320"`
	PasswordHash string    `gorm:"column:password_hash;size:72"`
	LastSeenAt   time.Time `gorm:"column:last_seen_at"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Account is the public view of a signed-in user.
type Account struct {
	UserID      string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

func (identity Identity) account() Account {
	return Account{
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
	}
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
