package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ListParams struct {
	State          *domain.AttemptState
	PatientID      string
	PrescriptionID string
	Page           int
	PageSize       int
}

// AttemptMutator edits a locked attempt in place and reports whether anything changed.
// Returning an error aborts the mutation without persisting it.
type AttemptMutator func(a *domain.Attempt) (bool, error)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.Attempt) error
	GetByID(ctx context.Context, id string) (*domain.Attempt, error)
	GetByProviderCallID(ctx context.Context, callID string) (*domain.Attempt, error)
	List(ctx context.Context, params ListParams) ([]domain.Attempt, int64, error)
	SetProviderCallID(ctx context.Context, id string, callID string) error
	Mutate(ctx context.Context, id string, fn AttemptMutator) (*domain.Attempt, bool, error)
	MutateByProviderCallID(ctx context.Context, callID string, fn AttemptMutator) (*domain.Attempt, bool, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.Attempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) GetByID(ctx context.Context, id string) (*domain.Attempt, error) {
	var model AttemptModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

func (r *GormAttemptRepo) GetByProviderCallID(ctx context.Context, callID string) (*domain.Attempt, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, domain.ErrNotFound
	}

	var model AttemptModel
	err := r.db.WithContext(ctx).
		Where("provider_call_id = ?", callID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

func (r *GormAttemptRepo) List(ctx context.Context, params ListParams) ([]domain.Attempt, int64, error) {
	query := r.db.WithContext(ctx).Model(&AttemptModel{})

	if params.State != nil {
		query = query.Where("state = ?", *params.State)
	}
	if params.PatientID != "" {
		query = query.Where("patient_id = ?", params.PatientID)
	}
	if params.PrescriptionID != "" {
		query = query.Where("prescription_id = ?", params.PrescriptionID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []AttemptModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	attempts := make([]domain.Attempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, total, nil
}

// SetProviderCallID assigns the correlation token once. Repeating the same
// token succeeds, so a status callback that bound it first is not a conflict.
func (r *GormAttemptRepo) SetProviderCallID(ctx context.Context, id string, callID string) error {
	result := bindCallID(r.db.WithContext(ctx), id, callID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrConflict
}

func (r *GormAttemptRepo) Mutate(ctx context.Context, id string, fn AttemptMutator) (*domain.Attempt, bool, error) {
	return r.mutate(ctx, "id = ?", id, fn)
}

func (r *GormAttemptRepo) MutateByProviderCallID(ctx context.Context, callID string, fn AttemptMutator) (*domain.Attempt, bool, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, false, domain.ErrNotFound
	}
	return r.mutate(ctx, "provider_call_id = ?", callID, fn)
}

// mutate runs fn against a row held with SELECT ... FOR UPDATE so concurrent
// webhooks for the same call serialize on the attempt.
func (r *GormAttemptRepo) mutate(ctx context.Context, where string, arg string, fn AttemptMutator) (*domain.Attempt, bool, error) {
	var (
		result  *domain.Attempt
		changed bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model AttemptModel
		err := lockAttempt(tx, where, arg).First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		attempt := attemptModelToDomain(&model)
		changed, err = fn(attempt)
		if err != nil {
			return err
		}
		result = attempt
		if !changed {
			return nil
		}

		return saveAttempt(tx, attemptModelFromDomain(attempt)).Error
	})
	if err != nil {
		return nil, false, err
	}

	return result, changed, nil
}

// mutableAttemptColumns are the fields a mutator may change. Identity and
// creation columns never move after insert.
var mutableAttemptColumns = []string{
	"ProviderCallID",
	"State",
	"RecordingURL",
	"Transcript",
	"SMSMessageID",
	"LastError",
	"UpdatedAt",
}

func lockAttempt(tx *gorm.DB, where string, arg string) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(where, arg)
}

func saveAttempt(tx *gorm.DB, model *AttemptModel) *gorm.DB {
	return tx.Model(model).Select(mutableAttemptColumns).Updates(model)
}

func bindCallID(tx *gorm.DB, id string, callID string) *gorm.DB {
	return tx.Model(&AttemptModel{}).
		Where("id = ? AND (provider_call_id IS NULL OR provider_call_id = ?)", id, callID).
		Update("provider_call_id", callID)
}
