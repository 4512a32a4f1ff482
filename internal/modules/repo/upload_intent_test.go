package repo

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadIntentRepo_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	r := NewUploadIntentRepo(db)

	in := &model.UploadIntent{StorageType: model.StorageGitHubRelease, Filename: "a.pdf"}
	require.NoError(t, r.Create(ctxT(), in))
	assert.Equal(t, model.IntentPending, in.State)

	asset := int64(99)
	tag := "pdf-storage-v1"
	require.NoError(t, r.Stamp(ctxT(), in.ID, model.Location{
		StorageType: model.StorageGitHubRelease,
		URL:         "https://github.com/o/r/releases/download/pdf-storage-v1/a.pdf",
		AssetID:     &asset,
		ReleaseTag:  &tag,
	}))

	bookID := uuid.New()
	require.NoError(t, r.Commit(ctxT(), in.ID, bookID))

	var got model.UploadIntent
	require.NoError(t, db.First(&got, "id = ?", in.ID).Error)
	assert.Equal(t, model.IntentCommitted, got.State)
	assert.Equal(t, int64(99), *got.GitHubAssetID)
	require.NotNil(t, got.URL)
	assert.Equal(t, "https://github.com/o/r/releases/download/pdf-storage-v1/a.pdf", *got.URL)
	assert.Nil(t, got.ObjectKey)
	assert.Equal(t, bookID, *got.BookID)

	// failing a committed intent is a no-op
	require.NoError(t, r.Fail(ctxT(), in.ID, "late"))
	require.NoError(t, db.First(&got, "id = ?", in.ID).Error)
	assert.Equal(t, model.IntentCommitted, got.State)
}

func TestUploadIntentRepo_ListStale(t *testing.T) {
	db := newTestDB(t)
	r := NewUploadIntentRepo(db)
	now := time.Now()

	old := &model.UploadIntent{StorageType: model.StorageSupabase, CreatedAt: now.Add(-3 * time.Hour)}
	fresh := &model.UploadIntent{StorageType: model.StorageSupabase, CreatedAt: now}
	done := &model.UploadIntent{StorageType: model.StorageSupabase, State: model.IntentCommitted, CreatedAt: now.Add(-3 * time.Hour)}
	for _, in := range []*model.UploadIntent{old, fresh, done} {
		require.NoError(t, r.Create(ctxT(), in))
	}

	stale, err := r.ListStale(ctxT(), now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	require.NoError(t, r.Fail(ctxT(), old.ID, "orphan removed"))
	stale, err = r.ListStale(ctxT(), now.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
