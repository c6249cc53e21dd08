// Package apiary holds the domain model shared by the client workspace, the
// sync routine and the remote store: locations, beehives and voice recordings.
package apiary

import (
	"fmt"
	"strings"
	"time"
)

const maxNameLength = 190

// Location is a top-level named grouping (an apiary site).
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Beehive is a named unit inside exactly one Location.
type Beehive struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LocationID string `json:"locationId"`
}

// Recording is a prioritized voice note attached to a Beehive.
type Recording struct {
	ID           string   `json:"id"`
	Date         string   `json:"date"`
	AudioURL     string   `json:"audioUrl"`
	Priority     Priority `json:"priority"`
	BeehiveID    string   `json:"beehiveId"`
	LocationID   string   `json:"locationId"`
	CreatedAt    int64    `json:"createdAt"`
	LastListened *int64   `json:"lastListened,omitempty"`
}

// NormalizeName trims a user supplied name and rejects empty or oversized input.
func NormalizeName(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(trimmed) > maxNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return trimmed, nil
}

// FormatDate renders the display date stored on recordings (dd.mm.yyyy).
func FormatDate(moment time.Time) string {
	return moment.Format("02.01.2006")
}

// EpochMillis converts a time into the millisecond timestamps used by createdAt and lastListened.
func EpochMillis(moment time.Time) int64 {
	return moment.UnixMilli()
}

// IsBeehiveNameUnique reports whether name is free among the beehives of locationID.
// The comparison is case-insensitive; excludeID skips the beehive being renamed.
func IsBeehiveNameUnique(beehives []Beehive, name string, locationID string, excludeID string) bool {
	for _, beehive := range beehives {
		if beehive.LocationID != locationID {
			continue
		}
		if excludeID != "" && beehive.ID == excludeID {
			continue
		}
		if strings.EqualFold(beehive.Name, name) {
			return false
		}
	}
	return true
}
