package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type IntentState string

const (
	IntentPending   IntentState = "pending"
	IntentCommitted IntentState = "committed"
	IntentFailed    IntentState = "failed"
)

// UploadIntent tracks one binary upload from before it starts until its book
// row is written. A pending intent that never commits marks an orphaned binary.
type UploadIntent struct {
	ID            uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	BookID        *uuid.UUID  `gorm:"type:uuid;index" json:"book_id"`
	State         IntentState `gorm:"type:text;not null;index" json:"state"`
	StorageType   StorageType `gorm:"type:text;not null" json:"storage_type"`
	GitHubAssetID *int64      `gorm:"column:github_asset_id" json:"github_asset_id"`
	ObjectKey     *string     `gorm:"type:text" json:"object_key"`
	URL           *string     `gorm:"column:url;type:text" json:"url"`
	Filename      string      `gorm:"type:text" json:"filename"`
	LastError     *string     `gorm:"type:text" json:"last_error"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UploadIntent) TableName() string { return "upload_intents" }

func (u *UploadIntent) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
