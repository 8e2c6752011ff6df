package types

import (
	"time"

	"github.com/google/uuid"
)

// MealEvent is one logged meal/insulin entry. Either amount may be zero: a
// row can record carbs only, insulin only, or both.
type MealEvent struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PatientID    uuid.UUID `gorm:"type:uuid;not null;index:idx_meal_patient_ts,priority:1" json:"patient_id"`
	Timestamp    time.Time `gorm:"not null;index:idx_meal_patient_ts,priority:2" json:"timestamp"`
	CarbsGrams   float64   `gorm:"not null;default:0" json:"carbs"`
	InsulinUnits float64   `gorm:"not null;default:0" json:"insulin"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (MealEvent) TableName() string { return "meal_event" }
