package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, all())
	return m.Migrate()
}

func all() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: "000001_create_reminder_attempts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.AttemptModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_reminder_attempts_provider_call_id ON reminder_attempts (provider_call_id) WHERE provider_call_id IS NOT NULL`,
					`CREATE INDEX IF NOT EXISTS idx_reminder_attempts_state_created ON reminder_attempts (state, created_at)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.AttemptModel{})
			},
		},
		createPatientTables(),
		addAttemptReferenceIndexes(),
	}
}
