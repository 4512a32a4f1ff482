package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunFailed  RunStatus = "failed"
)

// SweepError is one book that could not be migrated.
type SweepError struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	Error string    `json:"error"`
}

type MigrationRun struct {
	ID       uuid.UUID                        `gorm:"type:uuid;primaryKey" json:"id"`
	Target   StorageType                      `gorm:"type:text;not null" json:"target"`
	Status   RunStatus                        `gorm:"type:text;not null" json:"status"`
	Migrated int                              `json:"migrated"`
	Skipped  int                              `json:"skipped"`
	Failed   int                              `json:"failed"`
	Errors   datatypes.JSONType[[]SweepError] `gorm:"type:jsonb" swaggertype:"array,object" json:"errors"`
	Message  *string                          `gorm:"type:text" json:"message,omitempty"`

	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MigrationRun) TableName() string { return "migration_runs" }

func (m *MigrationRun) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
