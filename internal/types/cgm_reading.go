package types

import (
	"time"

	"github.com/google/uuid"
)

// CgmReading is one sensor sample. Append-only; never mutated after insert.
type CgmReading struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PatientID    uuid.UUID `gorm:"type:uuid;not null;index:idx_cgm_patient_ts,priority:1" json:"patient_id"`
	Timestamp    time.Time `gorm:"not null;index:idx_cgm_patient_ts,priority:2" json:"timestamp"`
	GlucoseValue float64   `gorm:"not null" json:"bg_value"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (CgmReading) TableName() string { return "cgm_reading" }
