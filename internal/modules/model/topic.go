package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Theme struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name string    `gorm:"type:text;not null" json:"name"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Theme) TableName() string { return "themes" }

type Topic struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ThemeID          uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:u_theme_title,priority:1" json:"theme_id"`
	ThemeName        string    `gorm:"type:text" json:"theme_name"`
	Title            string    `gorm:"type:text;not null;uniqueIndex:u_theme_title,priority:2" json:"title"`
	Summary          string    `gorm:"type:text" json:"summary"`
	DifficultyLevel  string    `gorm:"type:text" json:"difficulty_level"`
	DetectedLanguage string    `gorm:"type:text" json:"detected_language"`
	IsVerified       bool      `json:"is_verified"`
	IsPinned         bool      `json:"is_pinned"`
	ViewCount        int       `json:"view_count"`
	BookmarkCount    int       `json:"bookmark_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Topic <-> Theme
	Theme *Theme `gorm:"foreignKey:ThemeID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"-"`
}

func (Topic) TableName() string { return "topics" }

func (t *Topic) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// BucketTitle is the deterministic title of the topic that holds books uploaded
// against a theme instead of a topic.
func BucketTitle(themeName string) string { return themeName + " PDFs" }
