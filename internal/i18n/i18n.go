// Package i18n holds the user-facing message catalogue.
package i18n

import (
	"errors"
	"fmt"
	"strings"
)

// Key names a catalogue entry.
type Key string

const (
	AppName            Key = "appName"
	Locations          Key = "locations"
	Beehives           Key = "beehives"
	Recordings         Key = "recordings"
	NoLocations        Key = "noLocations"
	NoBeehives         Key = "noBeehives"
	NoRecordings       Key = "noRecordings"
	RecentRecordings   Key = "recentRecordings"
	PriorityRecordings Key = "priorityRecordings"
	LocationCreated    Key = "locationCreated"
	LocationUpdated    Key = "locationUpdated"
	LocationDeleted    Key = "locationDeleted"
	BeehiveCreated     Key = "beehiveCreated"
	BeehiveUpdated     Key = "beehiveUpdated"
	BeehiveDeleted     Key = "beehiveDeleted"
	RecordingCreated   Key = "recordingCreated"
	RecordingDeleted   Key = "recordingDeleted"
	PriorityHigh       Key = "priorityHigh"
	PriorityMedium     Key = "priorityMedium"
	PriorityLow        Key = "priorityLow"
	PrioritySolved     Key = "prioritySolved"
	PriorityUpdated    Key = "priorityUpdated"
	Sync               Key = "sync"
	SyncSuccess        Key = "syncSuccess"
	SyncError          Key = "syncError"
	LastSynced         Key = "lastSynced"
	NameExists         Key = "nameExists"
	ErrorOccurred      Key = "errorOccurred"
	InvalidCredentials Key = "invalidCredentials"
	SignupSuccess      Key = "signupSuccess"
	SignedIn           Key = "signedIn"
	SignedOut          Key = "signedOut"
	SignedOutMessage   Key = "signedOutMessage"
	NotSignedIn        Key = "notSignedIn"
)

const (
	LanguageCroatian = "hr"
	LanguageEnglish  = "en"
	DefaultLanguage  = LanguageCroatian
)

// ErrUnsupportedLanguage indicates a language without a catalogue.
var ErrUnsupportedLanguage = errors.New("i18n: unsupported language")

var catalogues = map[string]map[Key]string{
	LanguageCroatian: {
		AppName:            "BuzzNotes",
		Locations:          "Lokacije",
		Beehives:           "Košnice",
		Recordings:         "Snimke",
		NoLocations:        "Nema lokacija",
		NoBeehives:         "Nema košnica",
		NoRecordings:       "Nema snimki",
		RecentRecordings:   "Nedavne",
		PriorityRecordings: "Prioriteti",
		LocationCreated:    "Lokacija kreirana",
		LocationUpdated:    "Lokacija ažurirana",
		LocationDeleted:    "Lokacija obrisana",
		BeehiveCreated:     "Košnica kreirana",
		BeehiveUpdated:     "Košnica ažurirana",
		BeehiveDeleted:     "Košnica obrisana",
		RecordingCreated:   "Snimka kreirana",
		RecordingDeleted:   "Snimka obrisana",
		PriorityHigh:       "Visoki",
		PriorityMedium:     "Srednji",
		PriorityLow:        "Niski",
		PrioritySolved:     "Riješeno",
		PriorityUpdated:    "Prioritet ažuriran",
		Sync:               "Sinkroniziraj",
		SyncSuccess:        "Sinkronizacija uspješna",
		SyncError:          "Greška pri sinkronizaciji",
		LastSynced:         "Zadnja sinkronizacija",
		NameExists:         "Naziv već postoji",
		ErrorOccurred:      "Došlo je do greške",
		InvalidCredentials: "Nevažeći podaci za prijavu",
		SignupSuccess:      "Uspješna registracija",
		SignedIn:           "Prijavljeni ste",
		SignedOut:          "Odjavljeni ste",
		SignedOutMessage:   "Uspješno ste se odjavili iz aplikacije",
		NotSignedIn:        "Niste prijavljeni",
	},
	LanguageEnglish: {
		AppName:            "BuzzNotes",
		Locations:          "Locations",
		Beehives:           "Beehives",
		Recordings:         "Recordings",
		NoLocations:        "No locations",
		NoBeehives:         "No beehives",
		NoRecordings:       "No recordings",
		RecentRecordings:   "Recent",
		PriorityRecordings: "Priorities",
		LocationCreated:    "Location created",
		LocationUpdated:    "Location updated",
		LocationDeleted:    "Location deleted",
		BeehiveCreated:     "Beehive created",
		BeehiveUpdated:     "Beehive updated",
		BeehiveDeleted:     "Beehive deleted",
		RecordingCreated:   "Recording created",
		RecordingDeleted:   "Recording deleted",
		PriorityHigh:       "High",
		PriorityMedium:     "Medium",
		PriorityLow:        "Low",
		PrioritySolved:     "Solved",
		PriorityUpdated:    "Priority updated",
		Sync:               "Sync",
		SyncSuccess:        "Sync successful",
		SyncError:          "Sync failed",
		LastSynced:         "Last synced",
		NameExists:         "Name already exists",
		ErrorOccurred:      "An error occurred",
		InvalidCredentials: "Invalid sign-in details",
		SignupSuccess:      "Sign-up successful",
		SignedIn:           "Signed in",
		SignedOut:          "Signed out",
		SignedOutMessage:   "You have signed out of the application",
		NotSignedIn:        "Not signed in",
	},
}

// Translator resolves keys against one language's catalogue.
type Translator struct {
	language  string
	catalogue map[Key]string
}

// NewTranslator returns a translator for the language, defaulting to Croatian when empty.
func NewTranslator(language string) (*Translator, error) {
	normalized := strings.ToLower(strings.TrimSpace(language))
	if normalized == "" {
		normalized = DefaultLanguage
	}
	catalogue, ok := catalogues[normalized]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return &Translator{language: normalized, catalogue: catalogue}, nil
}

// Language returns the catalogue's language code.
func (t *Translator) Language() string {
	return t.language
}

// T returns the message for key, or the key itself when the catalogue has no entry.
func (t *Translator) T(key Key) string {
	if t == nil {
		return string(key)
	}
	if message, ok := t.catalogue[key]; ok {
		return message
	}
	return string(key)
}

// Languages lists the supported language codes.
func Languages() []string {
	return []string{LanguageCroatian, LanguageEnglish}
}
