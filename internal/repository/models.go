package repository

import (
	"sort"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
)

// AttemptModel is the persistence model for the reminder_attempts table.
type AttemptModel struct {
	ID             string                   `gorm:"type:uuid;primaryKey"`
	PatientID      string                   `gorm:"type:varchar(64);not null"`
	PrescriptionID string                   `gorm:"type:varchar(64);not null"`
	State          domain.AttemptState      `gorm:"type:varchar(20);not null"`
	ProviderCallID *string                  `gorm:"type:varchar(64)"`
	RecordingURL   *string                  `gorm:"type:text"`
	Transcript     []domain.TranscriptEntry `gorm:"type:jsonb;serializer:json;not null"`
	SMSMessageID   *string                  `gorm:"type:varchar(64)"`
	LastError      *string                  `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (AttemptModel) TableName() string {
	return "reminder_attempts"
}

// PatientModel mirrors the prescription subsystem's patients table.
type PatientModel struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	Name      string `gorm:"type:varchar(100);not null"`
	Phone     string `gorm:"type:varchar(20);not null"`
	Location  string `gorm:"type:varchar(255)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PatientModel) TableName() string {
	return "patients"
}

type PrescriptionModel struct {
	ID        string          `gorm:"type:varchar(64);primaryKey"`
	PatientID string          `gorm:"type:varchar(64);not null"`
	Schedules []ScheduleModel `gorm:"foreignKey:PrescriptionID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PrescriptionModel) TableName() string {
	return "prescriptions"
}

type ScheduleModel struct {
	ID             uint    `gorm:"primaryKey;autoIncrement"`
	PrescriptionID string  `gorm:"type:varchar(64);not null"`
	Position       int     `gorm:"not null;default:0"`
	DrugName       string  `gorm:"type:varchar(50);not null"`
	Dosage         float64 `gorm:"not null"`
	Frequency      int     `gorm:"not null"`
	Duration       int     `gorm:"not null"`
	DurationUnit   string  `gorm:"type:varchar(20);not null"`
}

func (ScheduleModel) TableName() string {
	return "prescription_schedules"
}

func attemptModelFromDomain(a *domain.Attempt) *AttemptModel {
	if a == nil {
		return nil
	}

	transcript := a.Transcript
	if transcript == nil {
		transcript = []domain.TranscriptEntry{}
	}

	return &AttemptModel{
		ID:             a.ID,
		PatientID:      a.PatientID,
		PrescriptionID: a.PrescriptionID,
		State:          a.State,
		ProviderCallID: a.ProviderCallID,
		RecordingURL:   a.RecordingURL,
		Transcript:     transcript,
		SMSMessageID:   a.SMSMessageID,
		LastError:      a.LastError,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func attemptModelToDomain(m *AttemptModel) *domain.Attempt {
	if m == nil {
		return nil
	}

	return &domain.Attempt{
		ID:             m.ID,
		PatientID:      m.PatientID,
		PrescriptionID: m.PrescriptionID,
		State:          m.State,
		ProviderCallID: m.ProviderCallID,
		RecordingURL:   m.RecordingURL,
		Transcript:     append([]domain.TranscriptEntry{}, m.Transcript...),
		SMSMessageID:   m.SMSMessageID,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func patientModelToDomain(m *PatientModel) *domain.Patient {
	if m == nil {
		return nil
	}

	return &domain.Patient{
		ID:        m.ID,
		Name:      m.Name,
		Phone:     m.Phone,
		Location:  m.Location,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func prescriptionModelToDomain(m *PrescriptionModel) *domain.Prescription {
	if m == nil {
		return nil
	}

	schedules := append([]ScheduleModel(nil), m.Schedules...)
	sort.SliceStable(schedules, func(i, j int) bool {
		return schedules[i].Position < schedules[j].Position
	})

	p := &domain.Prescription{
		ID:        m.ID,
		PatientID: m.PatientID,
		Schedules: make([]domain.Schedule, 0, len(schedules)),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for _, s := range schedules {
		p.Schedules = append(p.Schedules, domain.Schedule{
			DrugName:     s.DrugName,
			Dosage:       s.Dosage,
			Frequency:    s.Frequency,
			Duration:     s.Duration,
			DurationUnit: s.DurationUnit,
		})
	}
	return p
}
