package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TopicRepo interface {
	GetTopic(ctx context.Context, id uuid.UUID) (*model.Topic, error)
	GetTheme(ctx context.Context, id uuid.UUID) (*model.Theme, error)
	GetOrCreateBucket(ctx context.Context, theme *model.Theme) (*model.Topic, error)
}

type topicRepo struct {
	db *gorm.DB
}

func NewTopicRepo(db *gorm.DB) TopicRepo {
	return &topicRepo{db: db}
}

func (r *topicRepo) GetTopic(ctx context.Context, id uuid.UUID) (*model.Topic, error) {
	var t model.Topic
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *topicRepo) GetTheme(ctx context.Context, id uuid.UUID) (*model.Theme, error) {
	var t model.Theme
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetOrCreateBucket returns the theme's PDF bucket topic. The insert is a no-op
// when a concurrent request already created it, so every caller ends up with
// the same row.
func (r *topicRepo) GetOrCreateBucket(ctx context.Context, theme *model.Theme) (*model.Topic, error) {
	title := model.BucketTitle(theme.Name)
	bucket := &model.Topic{
		ThemeID:          theme.ID,
		ThemeName:        theme.Name,
		Title:            title,
		Summary:          "PDF books for " + theme.Name,
		DifficultyLevel:  "easy",
		DetectedLanguage: "en",
		IsVerified:       true,
		IsPinned:         true,
	}

	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "theme_id"}, {Name: "title"}},
		DoNothing: true,
	}).Create(bucket).Error; err != nil {
		return nil, fmt.Errorf("insert bucket topic: %w", err)
	}

	var t model.Topic
	if err := db.Where("theme_id = ? AND title = ?", theme.ID, title).First(&t).Error; err != nil {
		return nil, fmt.Errorf("select bucket topic: %w", err)
	}
	return &t, nil
}
