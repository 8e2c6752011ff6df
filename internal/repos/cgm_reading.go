package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/types"
)

type CgmReadingRepo interface {
	Create(ctx context.Context, tx *gorm.DB, readings []*types.CgmReading) ([]*types.CgmReading, error)
	ListByPatientBetween(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, from, to time.Time) ([]*types.CgmReading, error)
	ListByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) ([]*types.CgmReading, error)
	LatestByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) (*types.CgmReading, error)
	CountByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) (int64, error)
}

type cgmReadingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCgmReadingRepo(db *gorm.DB, baseLog *logger.Logger) CgmReadingRepo {
	repoLog := baseLog.With("repo", "CgmReadingRepo")
	return &cgmReadingRepo{db: db, log: repoLog}
}

func (r *cgmReadingRepo) Create(ctx context.Context, tx *gorm.DB, readings []*types.CgmReading) ([]*types.CgmReading, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(readings) == 0 {
		return []*types.CgmReading{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&readings).Error; err != nil {
		return nil, err
	}

	return readings, nil
}

func (r *cgmReadingRepo) ListByPatientBetween(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, from, to time.Time) ([]*types.CgmReading, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.CgmReading
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

func (r *cgmReadingRepo) ListByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) ([]*types.CgmReading, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.CgmReading
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

func (r *cgmReadingRepo) LatestByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) (*types.CgmReading, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if patientID == uuid.Nil {
		return nil, nil
	}

	var reading types.CgmReading
	err := transaction.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("timestamp DESC").
		Limit(1).
		Find(&reading).Error
	if err != nil {
		return nil, err
	}
	if reading.ID == uuid.Nil {
		return nil, nil
	}
	return &reading, nil
}

func (r *cgmReadingRepo) CountByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.CgmReading{}).
		Where("patient_id = ?", patientID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
