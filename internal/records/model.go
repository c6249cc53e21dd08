package records

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRecordID indicates that a record identifier is empty or exceeds storage bounds.
	ErrInvalidRecordID = errors.New("records: invalid record id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("records: invalid user id")
	// ErrDuplicateID indicates that a row with the same id exists under any owner.
	ErrDuplicateID = errors.New("records: duplicate id")
	// ErrRowNotFound indicates that no row with the id exists for the user.
	ErrRowNotFound = errors.New("records: row not found")
	// ErrInvalidUpdate indicates an update touching a column the table does not allow.
	ErrInvalidUpdate = errors.New("records: invalid update")
	// ErrInvalidRow indicates a row failing validation.
	ErrInvalidRow = errors.New("records: invalid row")
)

// RecordID represents a validated row identifier.
type RecordID string

// NewRecordID validates raw input and returns a RecordID.
func NewRecordID(rawInput string) (RecordID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRecordID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRecordID, maxIdentifierLength)
	}
	return RecordID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RecordID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Row is implemented by the three table models.
type Row[R any] interface {
	RowID() string
	Owned(userID string) R
	Validate() error
}

// LocationRow is the remote copy of a location.
type LocationRow struct {
	ID     string `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID string `gorm:"column:user_id;size:190;not null;index:idx_locations_user" json:"user_id"`
	Name   string `gorm:"column:name;size:190;not null" json:"name"`
}

// TableName provides the explicit table binding for GORM.
func (LocationRow) TableName() string {
	return "locations"
}

// RowID returns the row identifier.
func (r LocationRow) RowID() string { return r.ID }

// Owned returns a copy assigned to userID.
func (r LocationRow) Owned(userID string) LocationRow {
	r.UserID = userID
	return r
}

// Validate checks required columns.
func (r LocationRow) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRow)
	}
	return nil
}

// BeehiveRow is the remote copy of a beehive.
type BeehiveRow struct {
	ID         string `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID     string `gorm:"column:user_id;size:190;not null;index:idx_beehives_user" json:"user_id"`
	Name       string `gorm:"column:name;size:190;not null" json:"name"`
	LocationID string `gorm:"column:location_id;size:190;not null;index:idx_beehives_location" json:"location_id"`
}

// TableName provides the explicit table binding for GORM.
func (BeehiveRow) TableName() string {
	return "beehives"
}

// RowID returns the row identifier.
func (r BeehiveRow) RowID() string { return r.ID }

// Owned returns a copy assigned to userID.
func (r BeehiveRow) Owned(userID string) BeehiveRow {
	r.UserID = userID
	return r
}

// Validate checks required columns.
func (r BeehiveRow) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRow)
	}
	if strings.TrimSpace(r.LocationID) == "" {
		return fmt.Errorf("%w: empty location_id", ErrInvalidRow)
	}
	return nil
}

// maxAudioURLBytes bounds audio_url, which may hold a whole clip as an inline data URL.
// The column size tag matches it; above 16 MiB the mysql dialector picks LONGTEXT.
const maxAudioURLBytes = 64 << 20

// RecordingRow is the remote copy of a recording. lastListened stays on the device.
type RecordingRow struct {
	ID         string `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID     string `gorm:"column:user_id;size:190;not null;index:idx_recordings_user" json:"user_id"`
	Date       string `gorm:"column:date;size:10;not null" json:"date"`
	AudioURL   string `gorm:"column:audio_url;size:67108864;not null" json:"audio_url"`
	Priority   string `gorm:"column:priority;size:16;not null" json:"priority"`
	BeehiveID  string `gorm:"column:beehive_id;size:190;not null;index:idx_recordings_beehive" json:"beehive_id"`
	LocationID string `gorm:"column:location_id;size:190;not null" json:"location_id"`
	CreatedAt  int64  `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (RecordingRow) TableName() string {
	return "recordings"
}

// RowID returns the row identifier.
func (r RecordingRow) RowID() string { return r.ID }

// Owned returns a copy assigned to userID.
func (r RecordingRow) Owned(userID string) RecordingRow {
	r.UserID = userID
	return r
}

// Validate checks required columns.
func (r RecordingRow) Validate() error {
	if _, err := apiary.ParsePriority(r.Priority); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	if strings.TrimSpace(r.BeehiveID) == "" {
		return fmt.Errorf("%w: empty beehive_id", ErrInvalidRow)
	}
	if r.CreatedAt <= 0 {
		return fmt.Errorf("%w: created_at must be positive", ErrInvalidRow)
	}
	if len(r.AudioURL) > maxAudioURLBytes {
		return fmt.Errorf("%w: audio_url exceeds %d bytes", ErrInvalidRow, maxAudioURLBytes)
	}
	return nil
}

// Models lists every table model for schema migration.
func Models() []any {
	return []any{&LocationRow{}, &BeehiveRow{}, &RecordingRow{}}
}
