package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// FinetuneRun tracks one queued/running/finished personalization job for a
// patient. The background worker claims runs off this table.
type FinetuneRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PatientID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"patient_id"`
	Status      string         `gorm:"not null;index" json:"status"`
	Message     string         `gorm:"type:text" json:"message,omitempty"`
	Metrics     datatypes.JSON `gorm:"type:jsonb" json:"metrics,omitempty"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	LockedAt    *time.Time     `json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `json:"last_error_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (FinetuneRun) TableName() string { return "finetune_run" }

const (
	FinetuneStatusQueued    = "queued"
	FinetuneStatusRunning   = "running"
	FinetuneStatusSucceeded = "succeeded"
	FinetuneStatusFailed    = "failed"
)
