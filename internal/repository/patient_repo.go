package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"gorm.io/gorm"
)

// PatientRepository is a read-only view over patient and prescription records.
type PatientRepository interface {
	FindPatientByID(ctx context.Context, id string) (*domain.Patient, error)
	FindPrescriptionByID(ctx context.Context, id string) (*domain.Prescription, error)
}

type GormPatientRepo struct {
	db *gorm.DB
}

func NewGormPatientRepo(db *gorm.DB) *GormPatientRepo {
	return &GormPatientRepo{db: db}
}

func (r *GormPatientRepo) FindPatientByID(ctx context.Context, id string) (*domain.Patient, error) {
	var model PatientModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return patientModelToDomain(&model), nil
}

func (r *GormPatientRepo) FindPrescriptionByID(ctx context.Context, id string) (*domain.Prescription, error) {
	var model PrescriptionModel
	err := r.db.WithContext(ctx).
		Preload("Schedules", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return prescriptionModelToDomain(&model), nil
}
