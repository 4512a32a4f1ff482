package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a new database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.Theme{},
		&model.Topic{},
		&model.Book{},
		&model.UploadIntent{},
		&model.MigrationRun{},
	))
	return db
}

func seedTopic(t *testing.T, db *gorm.DB) *model.Topic {
	t.Helper()
	theme := &model.Theme{ID: uuid.New(), Name: "Science"}
	require.NoError(t, db.Create(theme).Error)
	topic := &model.Topic{ThemeID: theme.ID, ThemeName: theme.Name, Title: "Physics"}
	require.NoError(t, db.Create(topic).Error)
	return topic
}

func storage(t model.StorageType) *model.StorageType { return &t }

func newBook(topicID uuid.UUID, title string, st model.StorageType) *model.Book {
	b := &model.Book{
		TopicID:       topicID,
		Title:         title,
		BookNumber:    1,
		DisplayOrder:  1,
		PDFURL:        "https://cdn.example.com/" + title + ".pdf",
		PDFFilename:   title + ".pdf",
		FileSizeBytes: 1024,
		IsActive:      true,
		StorageType:   storage(st),
	}
	if st == model.StorageGitHubRelease {
		id, tag := int64(77), "pdf-storage-v1"
		b.GitHubAssetID = &id
		b.GitHubReleaseTag = &tag
	}
	return b
}

func ctxT() context.Context { return context.Background() }

func at(minute int) time.Time {
	return time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC)
}
