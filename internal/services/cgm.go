package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glycopilot/glycopilot-backend/internal/logger"
	"github.com/glycopilot/glycopilot-backend/internal/repos"
	"github.com/glycopilot/glycopilot-backend/internal/sse"
	"github.com/glycopilot/glycopilot-backend/internal/types"
)

type CgmService interface {
	// AppendReading stores one sensor reading and pushes it to the
	// patient's live stream.
	AppendReading(ctx context.Context, patientID uuid.UUID, ts time.Time, bgValue float64) (*types.CgmReading, error)

	// LogMeal records a meal/insulin event. Either amount may be zero.
	LogMeal(ctx context.Context, patientID uuid.UUID, ts time.Time, carbs, insulin float64) (*types.MealEvent, error)

	ListReadings(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*types.CgmReading, error)
}

type cgmService struct {
	log      *logger.Logger
	sseHub   *sse.SSEHub
	cgmRepo  repos.CgmReadingRepo
	mealRepo repos.MealEventRepo
}

func NewCgmService(baseLog *logger.Logger, sseHub *sse.SSEHub, cgmRepo repos.CgmReadingRepo, mealRepo repos.MealEventRepo) CgmService {
	return &cgmService{
		log:      baseLog.With("service", "CgmService"),
		sseHub:   sseHub,
		cgmRepo:  cgmRepo,
		mealRepo: mealRepo,
	}
}

func (cs *cgmService) AppendReading(ctx context.Context, patientID uuid.UUID, ts time.Time, bgValue float64) (*types.CgmReading, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient id is required")
	}
	if bgValue <= 0 {
		return nil, fmt.Errorf("bg_value must be positive, got %v", bgValue)
	}

	reading := &types.CgmReading{
		ID:           uuid.New(),
		PatientID:    patientID,
		Timestamp:    ts,
		GlucoseValue: bgValue,
		CreatedAt:    time.Now(),
	}
	if _, err := cs.cgmRepo.Create(ctx, nil, []*types.CgmReading{reading}); err != nil {
		return nil, fmt.Errorf("store reading: %w", err)
	}

	cs.sseHub.Broadcast(sse.SSEMessage{
		Channel: patientID.String(),
		Event:   sse.SSEEventCgmReading,
		Data: map[string]any{
			"bg_value":  bgValue,
			"timestamp": ts,
		},
	})
	cs.log.Debug("CGM reading stored", "patient_id", patientID.String(), "bg_value", bgValue)
	return reading, nil
}

func (cs *cgmService) LogMeal(ctx context.Context, patientID uuid.UUID, ts time.Time, carbs, insulin float64) (*types.MealEvent, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient id is required")
	}
	if carbs < 0 || insulin < 0 {
		return nil, fmt.Errorf("carbs and insulin must be non-negative")
	}

	event := &types.MealEvent{
		ID:           uuid.New(),
		PatientID:    patientID,
		Timestamp:    ts,
		CarbsGrams:   carbs,
		InsulinUnits: insulin,
		CreatedAt:    time.Now(),
	}
	if _, err := cs.mealRepo.Create(ctx, nil, []*types.MealEvent{event}); err != nil {
		return nil, fmt.Errorf("store meal event: %w", err)
	}

	cs.log.Debug("Meal event stored",
		"patient_id", patientID.String(),
		"carbs", carbs,
		"insulin", insulin)
	return event, nil
}

func (cs *cgmService) ListReadings(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*types.CgmReading, error) {
	return cs.cgmRepo.ListByPatientBetween(ctx, nil, patientID, from, to)
}
