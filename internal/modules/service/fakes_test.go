package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/config"
	"github.com/gyandhara/gyandhara-api/internal/infra/blob"
	"github.com/gyandhara/gyandhara-api/internal/infra/httpclient"
	"github.com/gyandhara/gyandhara-api/internal/infra/release"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"github.com/gyandhara/gyandhara-api/internal/modules/repo"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var pdfMagic = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")

var pngMagic = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func pdfBytes(size int) []byte {
	b := make([]byte, 0, size)
	b = append(b, pdfMagic...)
	for len(b) < size {
		b = append(b, ' ')
	}
	return b
}

// fileHeader builds a real multipart part the way a browser upload would.
func fileHeader(t *testing.T, field, name, contentType string, content []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, name))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(64 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File[field][0]
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Upload.MaxPDFBytes = 200 << 20
	cfg.Upload.MaxCoverBytes = 10 << 20
	cfg.Upload.StageThresholdBytes = 4 << 20
	cfg.Upload.TempDir = t.TempDir()
	return cfg
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Empty(t, names, "temp files left behind")
}

// recorder keeps the order of upstream side effects.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) index(s string) int {
	for i, c := range r.list() {
		if c == s {
			return i
		}
	}
	return -1
}

// memStore is an in-memory intermediate bucket.
type memStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	calls       int
	uploadErr   error
	downloadErr error
	deleted     []string
	rec         *recorder
}

const storeBase = "https://proj.supabase.co/storage/v1/object/public/books"

func newMemStore(rec *recorder) *memStore {
	return &memStore{objects: map[string][]byte{}, rec: rec}
}

func (m *memStore) Upload(_ context.Context, key string, body io.Reader, contentType string, upsert bool) (*blob.UploadedMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	if _, exists := m.objects[key]; exists && !upsert {
		return nil, errors.New("precondition failed")
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	m.objects[key] = b
	if m.rec != nil {
		m.rec.add("store-upload:" + strings.SplitN(key, "/", 2)[0])
	}
	return &blob.UploadedMeta{Key: key, MIME: contentType}, nil
}

func (m *memStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	b, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	if m.rec != nil {
		m.rec.add("store-delete:" + key)
	}
	return nil
}

func (m *memStore) PresignPut(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return storeBase + "/" + key + "?X-Amz-Signature=sig", nil
}

func (m *memStore) PublicURL(key string) string { return blob.PublicURL(storeBase, key) }

func (m *memStore) KeyFromPublicURL(raw string) (string, bool) {
	return blob.KeyFromPublicURL(storeBase, raw)
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// fakeRelease is an in-memory permanent asset store.
type fakeRelease struct {
	mu          sync.Mutex
	containers  map[string]*release.Container
	assets      map[int64][]byte
	nextID      int64
	calls       int
	createCalls int
	uploadErr   error
	deleteErr   error
	deleted     []int64
	rec         *recorder
}

func newFakeRelease(rec *recorder) *fakeRelease {
	return &fakeRelease{containers: map[string]*release.Container{}, assets: map[int64][]byte{}, nextID: 1000, rec: rec}
}

func (f *fakeRelease) GetOrCreate(_ context.Context, tag string) (*release.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if c, ok := f.containers[tag]; ok {
		return c, nil
	}
	f.createCalls++
	c := &release.Container{ID: int64(len(f.containers) + 1), Tag: tag, Name: "PDF Storage"}
	f.containers[tag] = c
	return c, nil
}

func (f *fakeRelease) UploadAsset(_ context.Context, c *release.Container, path, name, _ string) (*release.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.uploadErr != nil {
		return nil, fmt.Errorf("%w: %v", release.ErrAssetUploadFailed, f.uploadErr)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.nextID++
	f.assets[f.nextID] = b
	if f.rec != nil {
		f.rec.add("upload-asset")
	}
	return &release.Asset{
		ID:          f.nextID,
		Name:        name,
		Size:        int64(len(b)),
		DownloadURL: fmt.Sprintf("https://github.com/o/r/releases/download/%s/%s", c.Tag, name),
	}, nil
}

func (f *fakeRelease) DeleteAsset(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.rec != nil {
		f.rec.add(fmt.Sprintf("delete-asset:%d", id))
	}
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.assets, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRelease) OpenAsset(_ context.Context, id int64) (io.ReadCloser, *release.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	b, ok := f.assets[id]
	if !ok {
		return nil, nil, release.ErrAssetNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), &release.Asset{ID: id, Name: "book.pdf", Size: int64(len(b))}, nil
}

func (f *fakeRelease) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// MockBookRepo is a mock implementation of repo.BookRepo
type MockBookRepo struct {
	mock.Mock
}

func (m *MockBookRepo) Create(ctx context.Context, b *model.Book) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockBookRepo) Get(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Book), args.Error(1)
}

func (m *MockBookRepo) Update(ctx context.Context, id uuid.UUID, fields map[string]interface{}) (*model.Book, error) {
	args := m.Called(ctx, id, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Book), args.Error(1)
}

func (m *MockBookRepo) UpdateLocation(ctx context.Context, id uuid.UUID, loc model.Location, filename string, size int64) error {
	args := m.Called(ctx, id, loc, filename, size)
	return args.Error(0)
}

func (m *MockBookRepo) UpdateWithLocation(ctx context.Context, id uuid.UUID, fields map[string]interface{}, loc model.Location, filename string, size int64) (*model.Book, error) {
	args := m.Called(ctx, id, fields, loc, filename, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Book), args.Error(1)
}

func (m *MockBookRepo) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockBookRepo) ListByTopic(ctx context.Context, topicID uuid.UUID, afterOrder int, afterCreatedAt time.Time, afterID uuid.UUID, limit int) ([]*model.Book, error) {
	args := m.Called(ctx, topicID, afterOrder, afterCreatedAt, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Book), args.Error(1)
}

func (m *MockBookRepo) ListNotOn(ctx context.Context, target model.StorageType) ([]*model.Book, error) {
	args := m.Called(ctx, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Book), args.Error(1)
}

func (m *MockBookRepo) FindByBinary(ctx context.Context, assetID *int64, pdfURL string) (*model.Book, error) {
	args := m.Called(ctx, assetID, pdfURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Book), args.Error(1)
}

func (m *MockBookRepo) Stats(ctx context.Context) (*repo.BookStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repo.BookStats), args.Error(1)
}

// fakeTopics keeps themes and topics in memory.
type fakeTopics struct {
	mu          sync.Mutex
	themes      map[uuid.UUID]*model.Theme
	topics      map[uuid.UUID]*model.Topic
	bucketCalls int
	inserted    int
}

func newFakeTopics() *fakeTopics {
	return &fakeTopics{themes: map[uuid.UUID]*model.Theme{}, topics: map[uuid.UUID]*model.Topic{}}
}

func (f *fakeTopics) addTheme(name string) *model.Theme {
	th := &model.Theme{ID: uuid.New(), Name: name}
	f.themes[th.ID] = th
	return th
}

func (f *fakeTopics) addTopic(title string) *model.Topic {
	tp := &model.Topic{ID: uuid.New(), Title: title}
	f.topics[tp.ID] = tp
	return tp
}

func (f *fakeTopics) GetTopic(_ context.Context, id uuid.UUID) (*model.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.topics[id]; ok {
		return t, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTopics) GetTheme(_ context.Context, id uuid.UUID) (*model.Theme, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.themes[id]; ok {
		return t, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTopics) GetOrCreateBucket(_ context.Context, theme *model.Theme) (*model.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucketCalls++
	title := model.BucketTitle(theme.Name)
	for _, t := range f.topics {
		if t.ThemeID == theme.ID && t.Title == title {
			return t, nil
		}
	}
	f.inserted++
	t := &model.Topic{ID: uuid.New(), ThemeID: theme.ID, ThemeName: theme.Name, Title: title, Summary: "PDF books for " + theme.Name}
	f.topics[t.ID] = t
	return t, nil
}

// fakeIntents keeps upload intents in memory.
type fakeIntents struct {
	mu        sync.Mutex
	items     map[uuid.UUID]*model.UploadIntent
	commitErr error
}

func newFakeIntents() *fakeIntents {
	return &fakeIntents{items: map[uuid.UUID]*model.UploadIntent{}}
}

func (f *fakeIntents) Create(_ context.Context, in *model.UploadIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.State == "" {
		in.State = model.IntentPending
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	cp := *in
	f.items[in.ID] = &cp
	return nil
}

func (f *fakeIntents) Stamp(_ context.Context, id uuid.UUID, loc model.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in, ok := f.items[id]; ok && in.State == model.IntentPending {
		in.GitHubAssetID = loc.AssetID
		if loc.ObjectKey != "" {
			key := loc.ObjectKey
			in.ObjectKey = &key
		}
		if loc.URL != "" {
			u := loc.URL
			in.URL = &u
		}
	}
	return nil
}

func (f *fakeIntents) Commit(_ context.Context, id uuid.UUID, bookID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	if in, ok := f.items[id]; ok {
		in.State = model.IntentCommitted
		in.BookID = &bookID
	}
	return nil
}

func (f *fakeIntents) Fail(_ context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in, ok := f.items[id]; ok && in.State == model.IntentPending {
		in.State = model.IntentFailed
		in.LastError = &reason
	}
	return nil
}

func (f *fakeIntents) ListStale(_ context.Context, olderThan time.Time, limit int) ([]*model.UploadIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.UploadIntent
	for _, in := range f.items {
		if in.State == model.IntentPending && in.CreatedAt.Before(olderThan) && len(out) < limit {
			cp := *in
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeIntents) states() map[model.IntentState]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[model.IntentState]int{}
	for _, in := range f.items {
		out[in.State]++
	}
	return out
}

// fakeRuns keeps migration runs in memory.
type fakeRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]model.MigrationRun
}

func newFakeRuns() *fakeRuns { return &fakeRuns{runs: map[uuid.UUID]model.MigrationRun{}} }

func (f *fakeRuns) Create(_ context.Context, run *model.MigrationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	f.runs[run.ID] = *run
	return nil
}

func (f *fakeRuns) Save(_ context.Context, run *model.MigrationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = *run
	return nil
}

func (f *fakeRuns) Get(_ context.Context, id uuid.UUID) (*model.MigrationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &run, nil
}

// fakeSources serves pdf_url contents from a map.
type fakeSources struct {
	files map[string][]byte
	fail  map[string]error
}

func (f *fakeSources) Open(_ context.Context, pdfURL string) (io.ReadCloser, *httpclient.Source, error) {
	if err, ok := f.fail[pdfURL]; ok {
		return nil, nil, err
	}
	b, ok := f.files[pdfURL]
	if !ok {
		return nil, nil, fmt.Errorf("download %s: status 404", pdfURL)
	}
	name := pdfURL[strings.LastIndex(pdfURL, "/")+1:]
	return io.NopCloser(bytes.NewReader(b)), &httpclient.Source{Name: name, ContentType: "application/pdf", Size: int64(len(b))}, nil
}

type capturedEvents struct {
	mu   sync.Mutex
	keys []string
}

func (c *capturedEvents) Publish(_ context.Context, key string, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
}

func (c *capturedEvents) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.keys...)
}

var nopLog = zap.NewNop()
