package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/config"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	reqs []MigrationRequest
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req MigrationRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.reqs = append(d.reqs, req)
	return nil
}

type migrationFixture struct {
	svc     MigrationService
	cfg     *config.Config
	books   *MockBookRepo
	runs    *fakeRuns
	intents *fakeIntents
	store   *memStore
	rel     *fakeRelease
	sources *fakeSources
	events  *capturedEvents
}

func newMigrationFixture(t *testing.T, dispatcher Dispatcher) *migrationFixture {
	t.Helper()
	f := &migrationFixture{
		cfg:     testConfig(t),
		books:   new(MockBookRepo),
		runs:    newFakeRuns(),
		intents: newFakeIntents(),
		store:   newMemStore(nil),
		rel:     newFakeRelease(nil),
		sources: &fakeSources{files: map[string][]byte{}, fail: map[string]error{}},
		events:  &capturedEvents{},
	}
	backends := NewBackends(nopLog, NewReleaseBackend(f.rel, testTag), NewObjectBackend(f.store))
	f.svc = NewMigrationService(f.books, f.runs, f.intents, backends, NewStager(f.store, f.cfg, nopLog),
		f.store, f.sources, dispatcher, f.events, nopLog)
	return f
}

func supabaseBook(title, url string) *model.Book {
	st := model.StorageSupabase
	return &model.Book{ID: uuid.New(), Title: title, PDFURL: url, StorageType: &st}
}

func TestMigrateAll_ContinuesPastFailures(t *testing.T) {
	f := newMigrationFixture(t, nil)
	ctx := context.Background()

	// one book in our own bucket, one unreachable, one legacy local file
	_, err := f.store.Upload(ctx, "books/pdfs/1-first.pdf", strings.NewReader(string(pdfBytes(300))), "application/pdf", false)
	require.NoError(t, err)
	first := supabaseBook("First", f.store.PublicURL("books/pdfs/1-first.pdf"))
	second := supabaseBook("Second", "https://old-host.example.com/second.pdf")
	third := &model.Book{ID: uuid.New(), Title: "Third", PDFURL: "/uploads/third.pdf"}
	f.sources.fail[second.PDFURL] = errors.New("dial tcp: connection refused")
	f.sources.files[third.PDFURL] = pdfBytes(500)

	f.books.On("ListNotOn", mock.Anything, model.StorageGitHubRelease).Return([]*model.Book{first, second, third}, nil)
	repointed := map[uuid.UUID]model.Location{}
	f.books.On("UpdateLocation", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { repointed[args.Get(1).(uuid.UUID)] = args.Get(2).(model.Location) }).
		Return(nil)

	res, err := f.svc.MigrateAll(ctx, model.StorageGitHubRelease)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Migrated)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Skipped)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, second.ID, res.Errors[0].ID)
	assert.Equal(t, "Second", res.Errors[0].Title)
	assert.Contains(t, res.Errors[0].Error, "connection refused")

	require.Len(t, repointed, 2)
	assert.NotContains(t, repointed, second.ID)
	for _, id := range []uuid.UUID{first.ID, third.ID} {
		loc := repointed[id]
		require.NoError(t, loc.Validate())
		assert.Equal(t, model.StorageGitHubRelease, loc.StorageType)
	}
	f.books.AssertNumberOfCalls(t, "UpdateLocation", 2)

	// the old object is left in place
	assert.True(t, f.store.has("books/pdfs/1-first.pdf"))

	run, err := f.svc.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunDone, run.Status)
	assert.Equal(t, 2, run.Migrated)
	assert.Equal(t, 1, run.Failed)
	assert.Len(t, run.Errors.Data(), 1)
	require.NotNil(t, run.StartedAt)
	require.NotNil(t, run.FinishedAt)

	assert.Equal(t, []string{EventBookMigrated, EventBookMigrated}, f.events.list())
	assert.Equal(t, map[model.IntentState]int{model.IntentCommitted: 2}, f.intents.states())
	assertDirEmpty(t, f.cfg.Upload.TempDir)
}

func TestMigrateAll_MissingURL(t *testing.T) {
	f := newMigrationFixture(t, nil)
	b := supabaseBook("Blank", "")
	f.books.On("ListNotOn", mock.Anything, model.StorageGitHubRelease).Return([]*model.Book{b}, nil)

	res, err := f.svc.MigrateAll(context.Background(), model.StorageGitHubRelease)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Migrated)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "missing pdf_url", res.Errors[0].Error)
	assert.Equal(t, 0, f.rel.callCount())
}

func TestMigrateAll_RepointFailureCompensates(t *testing.T) {
	f := newMigrationFixture(t, nil)
	b := supabaseBook("Atlas", "https://cdn.example.com/atlas.pdf")
	f.sources.files[b.PDFURL] = pdfBytes(256)
	f.books.On("ListNotOn", mock.Anything, model.StorageGitHubRelease).Return([]*model.Book{b}, nil)
	f.books.On("UpdateLocation", mock.Anything, b.ID, mock.Anything, "atlas.pdf", int64(256)).Return(errors.New("row locked"))

	res, err := f.svc.MigrateAll(context.Background(), model.StorageGitHubRelease)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Errors[0].Error, "row locked")

	assert.Len(t, f.rel.deleted, 1)
	assert.Empty(t, f.rel.assets)
	assert.Equal(t, map[model.IntentState]int{model.IntentFailed: 1}, f.intents.states())
	assertDirEmpty(t, f.cfg.Upload.TempDir)
}

func TestMigrateAll_ListFailure(t *testing.T) {
	f := newMigrationFixture(t, nil)
	f.books.On("ListNotOn", mock.Anything, model.StorageGitHubRelease).Return(nil, errors.New("db down"))

	_, err := f.svc.MigrateAll(context.Background(), model.StorageGitHubRelease)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")

	require.Len(t, f.runs.runs, 1)
	for _, run := range f.runs.runs {
		assert.Equal(t, model.RunFailed, run.Status)
		require.NotNil(t, run.Message)
		assert.Contains(t, *run.Message, "db down")
	}
}

func TestMigrateAll_InvalidTarget(t *testing.T) {
	f := newMigrationFixture(t, nil)
	_, err := f.svc.MigrateAll(context.Background(), model.StorageLocal)
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.Empty(t, f.runs.runs)
	f.books.AssertNotCalled(t, "ListNotOn", mock.Anything, mock.Anything)
}

func TestMigrateAll_ToObjectStore(t *testing.T) {
	f := newMigrationFixture(t, nil)
	b := ghBook(uuid.New(), 11)
	f.sources.files[b.PDFURL] = pdfBytes(128)
	f.books.On("ListNotOn", mock.Anything, model.StorageSupabase).Return([]*model.Book{b}, nil)

	var loc model.Location
	f.books.On("UpdateLocation", mock.Anything, b.ID, mock.Anything, "old.pdf", int64(128)).
		Run(func(args mock.Arguments) { loc = args.Get(2).(model.Location) }).
		Return(nil)

	res, err := f.svc.MigrateAll(context.Background(), model.StorageSupabase)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Migrated)
	require.NoError(t, loc.Validate())
	assert.True(t, strings.HasPrefix(loc.ObjectKey, "books/pdfs/"))
	assert.True(t, f.store.has(loc.ObjectKey))
	assert.Empty(t, f.rel.deleted)
}

func TestEnqueue_DispatchesAndRunsOnce(t *testing.T) {
	d := &fakeDispatcher{}
	f := newMigrationFixture(t, d)
	ctx := context.Background()
	f.books.On("ListNotOn", mock.Anything, model.StorageGitHubRelease).Return([]*model.Book{}, nil).Once()

	run, err := f.svc.Enqueue(ctx, model.StorageGitHubRelease)
	require.NoError(t, err)
	assert.Equal(t, model.RunPending, run.Status)
	require.Len(t, d.reqs, 1)
	assert.Equal(t, run.ID, d.reqs[0].RunID)
	assert.Equal(t, []string{EventMigrationRequested}, f.events.list())

	require.NoError(t, f.svc.RunQueued(ctx, d.reqs[0]))
	got, err := f.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunDone, got.Status)

	// redelivery of a finished run is a no-op
	require.NoError(t, f.svc.RunQueued(ctx, d.reqs[0]))
	f.books.AssertExpectations(t)

	err = f.svc.RunQueued(ctx, MigrationRequest{RunID: uuid.New(), Target: model.StorageGitHubRelease})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestEnqueue_DispatchFailure(t *testing.T) {
	f := newMigrationFixture(t, &fakeDispatcher{err: errors.New("channel closed")})

	_, err := f.svc.Enqueue(context.Background(), model.StorageGitHubRelease)
	require.Error(t, err)
	for _, run := range f.runs.runs {
		assert.Equal(t, model.RunFailed, run.Status)
	}
	assert.Empty(t, f.events.list())
}

func TestEnqueue_WithoutDispatcherRunsInBackground(t *testing.T) {
	f := newMigrationFixture(t, nil)
	f.books.On("ListNotOn", mock.Anything, model.StorageGitHubRelease).Return([]*model.Book{}, nil)

	run, err := f.svc.Enqueue(context.Background(), model.StorageGitHubRelease)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.svc.GetRun(context.Background(), run.ID)
		return err == nil && got.Status == model.RunDone
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetRun_NotFound(t *testing.T) {
	f := newMigrationFixture(t, nil)
	_, err := f.svc.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.True(t, IsNotFound(err))
}
