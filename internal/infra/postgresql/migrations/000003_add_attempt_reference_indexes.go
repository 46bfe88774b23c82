package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addAttemptReferenceIndexes() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_attempt_reference_indexes",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`CREATE INDEX IF NOT EXISTS idx_reminder_attempts_patient ON reminder_attempts (patient_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_reminder_attempts_prescription ON reminder_attempts (prescription_id, created_at)`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`DROP INDEX IF EXISTS idx_reminder_attempts_prescription`,
				`DROP INDEX IF EXISTS idx_reminder_attempts_patient`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
