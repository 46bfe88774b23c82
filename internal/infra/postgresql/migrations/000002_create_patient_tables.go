package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"gorm.io/gorm"
)

// createPatientTables is a no-op against a database already owned by the
// prescription subsystem; it lets the service run standalone.
func createPatientTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_patient_tables",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.PatientModel{},
				&repository.PrescriptionModel{},
				&repository.ScheduleModel{},
			); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_prescription_schedules_prescription ON prescription_schedules (prescription_id, position)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.ScheduleModel{},
				&repository.PrescriptionModel{},
				&repository.PatientModel{},
			)
		},
	}
}
