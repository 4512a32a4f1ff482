package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStager_Validate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		kind    FileKind
		file    string
		ctype   string
		content []byte
		size    int64
		minPDF  int64
		wantErr error
		wantMsg string
	}{
		{
			name:    "wrong extension",
			kind:    KindPDF,
			file:    "notes.txt",
			ctype:   "application/pdf",
			content: pdfBytes(64),
			wantErr: ErrInvalidFileType,
		},
		{
			name:    "declared type mismatch",
			kind:    KindPDF,
			file:    "book.pdf",
			ctype:   "text/plain",
			content: pdfBytes(64),
			wantErr: ErrInvalidFileType,
		},
		{
			name:    "text renamed to pdf",
			kind:    KindPDF,
			file:    "notes.pdf",
			ctype:   "application/pdf",
			content: []byte("these are my chemistry notes, not a pdf\n"),
			wantErr: ErrInvalidFileType,
		},
		{
			name:    "pdf over the limit",
			kind:    KindPDF,
			file:    "huge.pdf",
			ctype:   "application/pdf",
			content: pdfBytes(64),
			size:    250 << 20,
			wantErr: ErrFileTooLarge,
			wantMsg: "PDF file size (250.00MB) exceeds 200MB maximum limit",
		},
		{
			name:    "pdf under the minimum",
			kind:    KindPDF,
			file:    "tiny.pdf",
			ctype:   "application/pdf",
			content: pdfBytes(64),
			minPDF:  1 << 20,
			wantErr: ErrFileTooSmall,
		},
		{
			name:    "cover over the limit",
			kind:    KindCover,
			file:    "cover.png",
			ctype:   "image/png",
			content: pngMagic,
			size:    11 << 20,
			wantErr: ErrFileTooLarge,
		},
		{
			name:    "pdf posted as cover",
			kind:    KindCover,
			file:    "cover.png",
			ctype:   "image/png",
			content: pdfBytes(64),
			wantErr: ErrInvalidFileType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Upload.MinPDFBytes = tt.minPDF
			store := newMemStore(nil)
			st := NewStager(store, cfg, nopLog)

			fh := fileHeader(t, string(tt.kind), tt.file, tt.ctype, tt.content)
			if tt.size > 0 {
				fh.Size = tt.size
			}

			err := st.Validate(tt.kind, fh)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidation(err))
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}

			_, err = st.Stage(context.Background(), tt.kind, fh)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, store.callCount())
			assertDirEmpty(t, cfg.Upload.TempDir)
		})
	}
}

func TestStager_Stage_SmallFileStaysLocal(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore(nil)
	st := NewStager(store, cfg, nopLog)

	content := pdfBytes(2048)
	f, err := st.Stage(context.Background(), KindPDF, fileHeader(t, "pdf", "Class 10 Science.pdf", "application/pdf", content))
	require.NoError(t, err)

	assert.Equal(t, "Class 10 Science.pdf", f.Name)
	assert.Equal(t, "application/pdf", f.MIME)
	assert.Equal(t, int64(len(content)), f.Size)
	assert.Empty(t, f.ObjectKey)
	assert.Equal(t, 0, store.callCount())

	got, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	f.Cleanup()
	f.Cleanup()
	_, err = os.Stat(f.Path)
	assert.True(t, os.IsNotExist(err))
	assertDirEmpty(t, cfg.Upload.TempDir)
}

func TestStager_Stage_LargeFileRoundTripsThroughStaging(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.StageThresholdBytes = 1024
	store := newMemStore(nil)
	st := NewStager(store, cfg, nopLog)

	content := pdfBytes(8192)
	f, err := st.Stage(context.Background(), KindPDF, fileHeader(t, "pdf", "atlas.pdf", "application/pdf", content))
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(f.ObjectKey, "staging/"), f.ObjectKey)
	assert.True(t, strings.HasSuffix(f.ObjectKey, "-atlas.pdf"))
	assert.True(t, store.has(f.ObjectKey))

	got, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, int64(len(content)), f.Size)

	f.Cleanup()
	assert.False(t, store.has(f.ObjectKey))
	assertDirEmpty(t, cfg.Upload.TempDir)
}

func TestStager_Stage_StagingUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.StageThresholdBytes = 1024
	store := newMemStore(nil)
	store.downloadErr = errors.New("connection reset")
	st := NewStager(store, cfg, nopLog)

	_, err := st.Stage(context.Background(), KindPDF, fileHeader(t, "pdf", "atlas.pdf", "application/pdf", pdfBytes(8192)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStagingUnavailable)
	assert.False(t, IsValidation(err))

	assert.Empty(t, store.objects, "staging object should be removed")
	assertDirEmpty(t, cfg.Upload.TempDir)
}

func TestStager_Stage_CoverIsNeverStaged(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.StageThresholdBytes = 8
	store := newMemStore(nil)
	st := NewStager(store, cfg, nopLog)

	f, err := st.Stage(context.Background(), KindCover, fileHeader(t, "cover", "front.png", "image/png", pngMagic))
	require.NoError(t, err)
	defer f.Cleanup()

	assert.Empty(t, f.ObjectKey)
	assert.Equal(t, "image/png", f.MIME)
	assert.Equal(t, 0, store.callCount())
}

func TestStager_Adopt(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore(nil)
	st := NewStager(store, cfg, nopLog)
	ctx := context.Background()

	key := "staging/2026/10/15/1760486400000000000-atlas.pdf"
	_, err := store.Upload(ctx, key, bytes.NewReader(pdfBytes(4096)), "application/pdf", false)
	require.NoError(t, err)

	f, err := st.Adopt(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "1760486400000000000-atlas.pdf", f.Name)
	assert.Equal(t, int64(4096), f.Size)
	assert.Equal(t, key, f.ObjectKey)

	f.Cleanup()
	assert.False(t, store.has(key))
	assertDirEmpty(t, cfg.Upload.TempDir)
}

func TestStager_Adopt_Rejects(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore(nil)
	st := NewStager(store, cfg, nopLog)
	ctx := context.Background()

	for _, key := range []string{"", "covers/x.pdf", "staging/../books/pdfs/x.pdf"} {
		_, err := st.Adopt(ctx, key)
		assert.ErrorIs(t, err, ErrInvalidID, key)
	}

	_, err := st.Adopt(ctx, "staging/2026/10/15/notes.txt")
	assert.ErrorIs(t, err, ErrInvalidFileType)

	textKey := "staging/2026/10/15/notes.pdf"
	_, err = store.Upload(ctx, textKey, strings.NewReader("plain words only"), "application/pdf", false)
	require.NoError(t, err)
	_, err = st.Adopt(ctx, textKey)
	assert.ErrorIs(t, err, ErrInvalidFileType)

	_, err = st.Adopt(ctx, "staging/2026/10/15/missing.pdf")
	assert.ErrorIs(t, err, ErrStagingUnavailable)

	assertDirEmpty(t, cfg.Upload.TempDir)
}

func TestStager_StagingKey(t *testing.T) {
	st := NewStager(newMemStore(nil), testConfig(t), nopLog)
	st.now = func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) }

	key, err := st.StagingKey("Class 10 Science.pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "staging/2026/10/15/"), key)
	assert.True(t, strings.HasSuffix(key, "-Class_10_Science.pdf"), key)

	_, err = st.StagingKey("slides.pptx")
	assert.ErrorIs(t, err, ErrInvalidFileType)
}

func TestStagedFile_CleanupNil(t *testing.T) {
	var f *StagedFile
	assert.NotPanics(t, f.Cleanup)
}
