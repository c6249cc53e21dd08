package database

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeRecordingPriority = "2026-03-14_normalize_recording_priority"
	migrationBackfillRecordingLocation  = "2026-04-02_backfill_recording_location"
)

// appliedMigration marks a data migration as done. Schema changes go through AutoMigrate;
// this ledger only covers row rewrites that must run once.
type appliedMigration struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (appliedMigration) TableName() string {
	return "db_migrations"
}

type dataMigration struct {
	name  string
	apply func(*gorm.DB) error
}

// dataMigrations run in order. Append only; never rename an entry once shipped.
var dataMigrations = []dataMigration{
	{name: migrationNormalizeRecordingPriority, apply: normalizeRecordingPriority},
	{name: migrationBackfillRecordingLocation, apply: backfillRecordingLocation},
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	return runMigrations(db, dataMigrations, logger)
}

// runMigrations applies each pending migration in its own transaction together with
// its ledger row, so a failed rewrite leaves neither partial data nor a done marker.
func runMigrations(db *gorm.DB, pending []dataMigration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var names []string
	if err := db.Model(&appliedMigration{}).Pluck("name", &names).Error; err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}
	done := make(map[string]struct{}, len(names))
	for _, name := range names {
		done[name] = struct{}{}
	}

	for _, migration := range pending {
		if _, ok := done[migration.name]; ok {
			continue
		}
		started := time.Now()
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&appliedMigration{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		logger.Info("database migration applied",
			zap.String("migration", migration.name),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
	return nil
}

// normalizeRecordingPriority lower-cases priorities written by clients that sent display labels.
func normalizeRecordingPriority(db *gorm.DB) error {
	return db.Model(&records.RecordingRow{}).
		Where("priority <> LOWER(TRIM(priority))").
		Update("priority", gorm.Expr("LOWER(TRIM(priority))")).Error
}

// backfillRecordingLocation copies the beehive's location onto recordings stored without one.
func backfillRecordingLocation(db *gorm.DB) error {
	return db.Exec(`UPDATE recordings SET location_id = (
		SELECT beehives.location_id FROM beehives
		WHERE beehives.id = recordings.beehive_id AND beehives.user_id = recordings.user_id
	) WHERE location_id = '' AND EXISTS (
		SELECT 1 FROM beehives
		WHERE beehives.id = recordings.beehive_id AND beehives.user_id = recordings.user_id
	)`).Error
}
