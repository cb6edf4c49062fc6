package database

import (
	"errors"
	"time"

	"github.com/moyamoya-lab/moyamoya/backend/internal/draft"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDropLegacyDraftSlots = "2026-08-18_drop_legacy_draft_slots"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDropLegacyDraftSlots, apply: dropLegacyDraftSlots},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dropLegacyDraftSlots clears snapshot rows written under pre-v3 slot keys.
// Those payloads predate the question schema and cannot be recovered into
// the current draft shape.
func dropLegacyDraftSlots(db *gorm.DB) error {
	return db.Where("slot_key IN ?", []string{"moyamoya_draft", "moyamoya_v2_draft"}).
		Delete(&draft.SnapshotRecord{}).Error
}
