// Package localstore persists the client's three collections and its auth session
// in an on-device SQLite database.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	CollectionLocations  = "buzznotes_locations"
	CollectionBeehives   = "buzznotes_beehives"
	CollectionRecordings = "buzznotes_recordings"

	// SchemaVersion is written with every collection; rows with another version load as empty.
	SchemaVersion = 1

	sessionSlot = "current"
)

var (
	ErrMissingDatabase = errors.New("localstore: database handle is required")
	ErrMissingPath     = errors.New("localstore: database path is required")
)

type collectionRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:64;not null"`
	SchemaVersion    int    `gorm:"column:schema_version;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

func (collectionRecord) TableName() string {
	return "local_collections"
}

type sessionRecord struct {
	Slot             string `gorm:"column:slot;primaryKey;size:16;not null"`
	AccessToken      string `gorm:"column:access_token;type:text;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null"`
	Email            string `gorm:"column:email;size:320"`
	ExpiresAtSeconds int64  `gorm:"column:expires_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

func (sessionRecord) TableName() string {
	return "local_session"
}

// Snapshot is the full local state of the three collections.
type Snapshot struct {
	Locations  []apiary.Location
	Beehives   []apiary.Beehive
	Recordings []apiary.Recording
}

// Session is the persisted client auth session.
type Session struct {
	AccessToken string
	UserID      string
	Email       string
	ExpiresAt   time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Store reads and writes collections as versioned JSON documents.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (or creates) the SQLite file at path and migrates the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, ErrMissingPath
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return NewStore(StoreConfig{Database: db, Logger: logger})
}

// NewStore wraps an existing connection and migrates the schema.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, ErrMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	if err := cfg.Database.AutoMigrate(&collectionRecord{}, &sessionRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: cfg.Database, logger: logger, now: clock}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Load returns every collection. Missing, unreadable or foreign-version collections load as empty.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	var rows []collectionRecord
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return Snapshot{}, err
	}
	byName := make(map[string]collectionRecord, len(rows))
	for _, row := range rows {
		byName[row.Name] = row
	}

	snapshot := Snapshot{
		Locations:  decodeCollection[apiary.Location](s.logger, byName, CollectionLocations),
		Beehives:   decodeCollection[apiary.Beehive](s.logger, byName, CollectionBeehives),
		Recordings: decodeCollection[apiary.Recording](s.logger, byName, CollectionRecordings),
	}
	return snapshot, nil
}

func decodeCollection[T any](logger *zap.Logger, rows map[string]collectionRecord, name string) []T {
	items := make([]T, 0)
	row, ok := rows[name]
	if !ok {
		return items
	}
	if row.SchemaVersion != SchemaVersion {
		logger.Warn("local collection has unsupported schema version",
			zap.String("collection", name),
			zap.Int("schema_version", row.SchemaVersion))
		return items
	}
	if err := json.Unmarshal([]byte(row.PayloadJSON), &items); err != nil {
		logger.Error("local collection could not be parsed",
			zap.String("collection", name),
			zap.Error(err))
		return make([]T, 0)
	}
	if items == nil {
		items = make([]T, 0)
	}
	return items
}

// SaveLocations rewrites the locations collection.
func (s *Store) SaveLocations(ctx context.Context, locations []apiary.Location) error {
	return s.saveCollections(ctx, map[string]any{CollectionLocations: nonNil(locations)})
}

// SaveBeehives rewrites the beehives collection.
func (s *Store) SaveBeehives(ctx context.Context, beehives []apiary.Beehive) error {
	return s.saveCollections(ctx, map[string]any{CollectionBeehives: nonNil(beehives)})
}

// SaveRecordings rewrites the recordings collection.
func (s *Store) SaveRecordings(ctx context.Context, recordings []apiary.Recording) error {
	return s.saveCollections(ctx, map[string]any{CollectionRecordings: nonNil(recordings)})
}

// SaveSnapshot rewrites all three collections in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	return s.saveCollections(ctx, map[string]any{
		CollectionLocations:  nonNil(snapshot.Locations),
		CollectionBeehives:   nonNil(snapshot.Beehives),
		CollectionRecordings: nonNil(snapshot.Recordings),
	})
}

func (s *Store) saveCollections(ctx context.Context, collections map[string]any) error {
	updatedAt := s.now().UTC().Unix()
	records := make([]collectionRecord, 0, len(collections))
	for name, items := range collections {
		payload, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("localstore: encode %s: %w", name, err)
		}
		records = append(records, collectionRecord{
			Name:             name,
			SchemaVersion:    SchemaVersion,
			PayloadJSON:      string(payload),
			UpdatedAtSeconds: updatedAt,
		})
	}
	return s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		for index := range records {
			if err := transaction.Clauses(clause.OnConflict{UpdateAll: true}).Create(&records[index]).Error; err != nil {
				s.logger.Error("local collection could not be saved",
					zap.String("collection", records[index].Name),
					zap.Error(err))
				return err
			}
		}
		return nil
	})
}

// LoadSession returns the persisted session, if any.
func (s *Store) LoadSession(ctx context.Context) (Session, bool, error) {
	var record sessionRecord
	err := s.db.WithContext(ctx).Where("slot = ?", sessionSlot).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	session := Session{
		AccessToken: record.AccessToken,
		UserID:      record.UserID,
		Email:       record.Email,
	}
	if record.ExpiresAtSeconds > 0 {
		session.ExpiresAt = time.Unix(record.ExpiresAtSeconds, 0).UTC()
	}
	return session, true, nil
}

// SaveSession replaces the persisted session.
func (s *Store) SaveSession(ctx context.Context, session Session) error {
	record := sessionRecord{
		Slot:             sessionSlot,
		AccessToken:      session.AccessToken,
		UserID:           session.UserID,
		Email:            session.Email,
		UpdatedAtSeconds: s.now().UTC().Unix(),
	}
	if !session.ExpiresAt.IsZero() {
		record.ExpiresAtSeconds = session.ExpiresAt.UTC().Unix()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error
}

// ClearSession forgets the persisted session.
func (s *Store) ClearSession(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("slot = ?", sessionSlot).Delete(&sessionRecord{}).Error
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return make([]T, 0)
	}
	return items
}
