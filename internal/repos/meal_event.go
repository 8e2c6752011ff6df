package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/types"
)

type MealEventRepo interface {
	Create(ctx context.Context, tx *gorm.DB, events []*types.MealEvent) ([]*types.MealEvent, error)
	ListByPatientBetween(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, from, to time.Time) ([]*types.MealEvent, error)
	ListByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) ([]*types.MealEvent, error)
	ListByPatientSince(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, since time.Time) ([]*types.MealEvent, error)
}

type mealEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMealEventRepo(db *gorm.DB, baseLog *logger.Logger) MealEventRepo {
	repoLog := baseLog.With("repo", "MealEventRepo")
	return &mealEventRepo{db: db, log: repoLog}
}

func (r *mealEventRepo) Create(ctx context.Context, tx *gorm.DB, events []*types.MealEvent) ([]*types.MealEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(events) == 0 {
		return []*types.MealEvent{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&events).Error; err != nil {
		return nil, err
	}

	return events, nil
}

func (r *mealEventRepo) ListByPatientBetween(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, from, to time.Time) ([]*types.MealEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.MealEvent
	if patientID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("patient_id = ? AND timestamp >= ? AND timestamp <= ?", patientID, from, to).
		Order("timestamp ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *mealEventRepo) ListByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) ([]*types.MealEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.MealEvent
	if patientID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("timestamp ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *mealEventRepo) ListByPatientSince(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, since time.Time) ([]*types.MealEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.MealEvent
	if patientID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("patient_id = ? AND timestamp > ?", patientID, since).
		Order("timestamp ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
