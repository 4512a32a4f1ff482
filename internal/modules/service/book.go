package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/infra/release"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"github.com/gyandhara/gyandhara-api/internal/modules/repo"
	"github.com/gyandhara/gyandhara-api/internal/pkg/paging"
	"github.com/gyandhara/gyandhara-api/internal/pkg/utils"
	"github.com/gyandhara/gyandhara-api/internal/pkg/utils/filename"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type BookService interface {
	Upload(ctx context.Context, in UploadInput) (*UploadOutput, error)
	Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*model.Book, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*model.Book, error)
	List(ctx context.Context, in ListBooksInput) (*ListBooksOutput, error)
	Stats(ctx context.Context) (*StatsOutput, error)
	OpenAsset(ctx context.Context, assetID int64) (io.ReadCloser, *release.Asset, error)
	StagingURL(ctx context.Context, name, contentType string) (*StagingURLOutput, error)
}

type BookServiceDeps struct {
	Books    repo.BookRepo
	Topics   repo.TopicRepo
	Intents  repo.UploadIntentRepo
	Stager   *Stager
	Backends *Backends
	Store    ObjectStore
	Release  ReleaseStore
	Events   Events
	Log      *zap.Logger

	// Target is the backend new uploads are written to.
	Target        model.StorageType
	PresignExpire time.Duration
}

type bookService struct {
	*saga
	books   repo.BookRepo
	topics  repo.TopicRepo
	stager  *Stager
	store   ObjectStore
	release ReleaseStore
	events  Events
	log     *zap.Logger
	target  model.StorageType
	expire  time.Duration
	now     func() time.Time
}

func NewBookService(d BookServiceDeps) BookService {
	if d.Events == nil {
		d.Events = NopEvents()
	}
	if d.Target == "" {
		d.Target = model.StorageGitHubRelease
	}
	if d.PresignExpire <= 0 {
		d.PresignExpire = 15 * time.Minute
	}
	return &bookService{
		saga:    newSaga(d.Intents, d.Backends, d.Log),
		books:   d.Books,
		topics:  d.Topics,
		stager:  d.Stager,
		store:   d.Store,
		release: d.Release,
		events:  d.Events,
		log:     d.Log,
		target:  d.Target,
		expire:  d.PresignExpire,
		now:     time.Now,
	}
}

type UploadInput struct {
	TopicID         string
	ThemeID         string
	Title           string
	Description     *string
	BookNumber      *int
	Author          *string
	Publisher       *string
	PublicationYear *int
	ISBN            *string
	DisplayOrder    *int

	PDF       *multipart.FileHeader
	StagedKey string
	Cover     *multipart.FileHeader
}

type StorageInfo struct {
	Type        model.StorageType `json:"type"`
	ReleaseTag  *string           `json:"release_tag,omitempty"`
	DownloadURL string            `json:"download_url"`
}

type UploadOutput struct {
	Book    *model.Book `json:"book"`
	Storage StorageInfo `json:"storage"`
}

func (s *bookService) Upload(ctx context.Context, in UploadInput) (*UploadOutput, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" || (in.TopicID == "" && in.ThemeID == "") || (in.PDF == nil && in.StagedKey == "") {
		return nil, missing("theme_id (or topic_id), title, and pdf file are required")
	}
	backend, err := s.backends.Get(s.target)
	if err != nil {
		return nil, err
	}

	topicID, err := s.resolveTopic(ctx, in.TopicID, in.ThemeID)
	if err != nil {
		return nil, err
	}

	pdf, cover, err := s.stageFiles(ctx, in.PDF, in.StagedKey, in.Cover)
	defer pdf.Cleanup()
	defer cover.Cleanup()
	if err != nil {
		return nil, err
	}

	loc, intent, err := s.putBinary(ctx, backend, pdf, in.Title)
	if err != nil {
		return nil, err
	}

	coverURL, err := s.uploadCover(ctx, cover)
	if err != nil {
		s.compensate(ctx, intent, loc, err)
		return nil, err
	}

	book := &model.Book{
		TopicID:         topicID,
		Title:           in.Title,
		Description:     blankToNil(in.Description),
		BookNumber:      intOr(in.BookNumber, 1),
		Author:          blankToNil(in.Author),
		Publisher:       blankToNil(in.Publisher),
		PublicationYear: in.PublicationYear,
		ISBN:            blankToNil(in.ISBN),
		DisplayOrder:    intOr(in.DisplayOrder, 1),
		PDFFilename:     pdf.Name,
		FileSizeBytes:   pdf.Size,
		CoverImageURL:   coverURL,
		IsActive:        true,
	}
	loc.Apply(book)

	if err := s.books.Create(ctx, book); err != nil {
		s.compensate(ctx, intent, loc, err)
		s.removeCover(ctx, coverURL)
		return nil, fmt.Errorf("record book: %w", err)
	}
	s.commit(ctx, intent, book.ID)

	s.log.Sugar().Infow("book uploaded", "book_id", book.ID, "topic_id", topicID, "storage_type", loc.StorageType, "size", pdf.Size)
	s.events.Publish(ctx, EventBookUploaded, bookEvent(book))

	return &UploadOutput{Book: book, Storage: StorageInfo{
		Type:        loc.StorageType,
		ReleaseTag:  loc.ReleaseTag,
		DownloadURL: loc.URL,
	}}, nil
}

// UpdateInput is a partial update. Nil fields are left alone; an empty string
// clears a nullable text field.
type UpdateInput struct {
	Title           *string
	Description     *string
	BookNumber      *int
	Author          *string
	Publisher       *string
	PublicationYear *int
	ISBN            *string
	DisplayOrder    *int
	IsActive        *bool

	PDF       *multipart.FileHeader
	StagedKey string
	Cover     *multipart.FileHeader
}

func (in UpdateInput) fields() (map[string]interface{}, error) {
	f := map[string]interface{}{}
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, missing("title")
		}
		f["title"] = t
	}
	if in.Description != nil {
		f["description"] = blankToNil(in.Description)
	}
	if in.Author != nil {
		f["author"] = blankToNil(in.Author)
	}
	if in.Publisher != nil {
		f["publisher"] = blankToNil(in.Publisher)
	}
	if in.ISBN != nil {
		f["isbn"] = blankToNil(in.ISBN)
	}
	if in.BookNumber != nil {
		f["book_number"] = *in.BookNumber
	}
	if in.PublicationYear != nil {
		f["publication_year"] = *in.PublicationYear
	}
	if in.DisplayOrder != nil {
		f["display_order"] = *in.DisplayOrder
	}
	if in.IsActive != nil {
		f["is_active"] = *in.IsActive
	}
	return f, nil
}

// Update applies a partial update. A replaced PDF is uploaded first, then the
// row is repointed, and only then is the old binary deleted.
func (s *bookService) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*model.Book, error) {
	fields, err := in.fields()
	if err != nil {
		return nil, err
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	replacing := in.PDF != nil || in.StagedKey != ""
	var backend Backend
	if replacing {
		if backend, err = s.backends.Get(s.target); err != nil {
			return nil, err
		}
	}

	pdf, cover, err := s.stageFiles(ctx, in.PDF, in.StagedKey, in.Cover)
	defer pdf.Cleanup()
	defer cover.Cleanup()
	if err != nil {
		return nil, err
	}

	coverURL, err := s.uploadCover(ctx, cover)
	if err != nil {
		return nil, err
	}
	if coverURL != nil {
		fields["cover_image_url"] = *coverURL
	}

	if !replacing {
		book, err := s.books.Update(ctx, id, fields)
		if err != nil {
			s.removeCover(ctx, coverURL)
			return nil, notFoundAs(err, ErrBookNotFound)
		}
		if coverURL != nil {
			s.removeCover(ctx, existing.CoverImageURL)
		}
		s.events.Publish(ctx, EventBookUpdated, bookEvent(book))
		return book, nil
	}

	name := existing.Title
	if t, ok := fields["title"].(string); ok {
		name = t
	}
	loc, intent, err := s.putBinary(ctx, backend, pdf, name)
	if err != nil {
		s.removeCover(ctx, coverURL)
		return nil, err
	}

	book, err := s.books.UpdateWithLocation(ctx, id, fields, loc, pdf.Name, pdf.Size)
	if err != nil {
		s.compensate(ctx, intent, loc, err)
		s.removeCover(ctx, coverURL)
		return nil, notFoundAs(err, ErrBookNotFound)
	}
	s.commit(ctx, intent, book.ID)

	old := existing.Location()
	if !sameBinary(old, loc) {
		s.backends.RemoveBestEffort(context.WithoutCancel(ctx), old)
	}
	if coverURL != nil {
		s.removeCover(ctx, existing.CoverImageURL)
	}

	s.log.Sugar().Infow("book pdf replaced", "book_id", id, "from", old.StorageType, "to", loc.StorageType)
	s.events.Publish(ctx, EventBookUpdated, bookEvent(book))
	return book, nil
}

// Delete removes the binary best-effort, then the row.
func (s *bookService) Delete(ctx context.Context, id uuid.UUID) error {
	book, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	s.backends.RemoveBestEffort(context.WithoutCancel(ctx), book.Location())
	s.removeCover(ctx, book.CoverImageURL)

	if err := s.books.Delete(ctx, id); err != nil {
		return notFoundAs(err, ErrBookNotFound)
	}
	s.log.Sugar().Infow("book deleted", "book_id", id)
	s.events.Publish(ctx, EventBookDeleted, bookEvent(book))
	return nil
}

func (s *bookService) Get(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	b, err := s.books.Get(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, ErrBookNotFound)
	}
	return b, nil
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type ListBooksInput struct {
	TopicID uuid.UUID `json:"topic_id"`
	Limit   int       `json:"limit"`
	Cursor  string    `json:"cursor"`
}

type ListBooksOutput struct {
	Items      []*model.Book `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
	HasMore    bool          `json:"has_more"`
}

func (s *bookService) List(ctx context.Context, in ListBooksInput) (*ListBooksOutput, error) {
	var (
		afterOrder int
		afterT     time.Time
		afterID    uuid.UUID
		err        error
	)
	if in.Limit <= 0 {
		in.Limit = DefaultListLimit
	}
	if in.Limit > MaxListLimit {
		in.Limit = MaxListLimit
	}
	if in.Cursor != "" {
		afterOrder, afterT, afterID, err = paging.DecodeCursor(in.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: cursor", ErrInvalidID)
		}
	}

	// limit+1 tells whether there is another page
	books, err := s.books.ListByTopic(ctx, in.TopicID, afterOrder, afterT, afterID, in.Limit+1)
	if err != nil {
		return nil, err
	}

	out := &ListBooksOutput{Items: books}
	if len(books) > in.Limit {
		out.HasMore = true
		out.Items = books[:in.Limit]
		last := out.Items[len(out.Items)-1]
		out.NextCursor = paging.EncodeCursor(last.DisplayOrder, last.CreatedAt, last.ID)
	}
	return out, nil
}

type StatsOutput struct {
	repo.BookStats
	TotalSizeGB string `json:"total_size_gb"`
}

func (s *bookService) Stats(ctx context.Context) (*StatsOutput, error) {
	st, err := s.books.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsOutput{
		BookStats:   *st,
		TotalSizeGB: fmt.Sprintf("%.2f", float64(st.TotalSizeBytes)/(1024*1024*1024)),
	}, nil
}

func (s *bookService) OpenAsset(ctx context.Context, assetID int64) (io.ReadCloser, *release.Asset, error) {
	if assetID <= 0 {
		return nil, nil, fmt.Errorf("%w: asset id", ErrInvalidID)
	}
	return s.release.OpenAsset(ctx, assetID)
}

type StagingURLOutput struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

// StagingURL reserves a staging key and returns a presigned PUT for it. The
// client submits the key back as staged_key once the upload is done.
func (s *bookService) StagingURL(ctx context.Context, name, contentType string) (*StagingURLOutput, error) {
	if strings.TrimSpace(name) == "" {
		return nil, missing("filename")
	}
	if contentType == "" {
		contentType = "application/pdf"
	}
	if contentType != "application/pdf" {
		return nil, fmt.Errorf("%w: content type %s", ErrInvalidFileType, contentType)
	}
	key, err := s.stager.StagingKey(name)
	if err != nil {
		return nil, err
	}
	u, err := s.store.PresignPut(ctx, key, contentType, s.expire)
	if err != nil {
		return nil, fmt.Errorf("presign staging upload: %w", err)
	}
	return &StagingURLOutput{Key: key, URL: u, ExpiresIn: int(s.expire.Seconds())}, nil
}

// stageFiles stages the pdf (or adopts a pre-staged one) and the cover
// concurrently. Whatever was staged is returned even on error so the caller
// can clean it up.
func (s *bookService) stageFiles(ctx context.Context, pdfFH *multipart.FileHeader, stagedKey string, coverFH *multipart.FileHeader) (pdf, cover *StagedFile, err error) {
	g, gctx := errgroup.WithContext(ctx)
	switch {
	case pdfFH != nil:
		g.Go(func() error {
			var err error
			pdf, err = s.stager.Stage(gctx, KindPDF, pdfFH)
			return err
		})
	case stagedKey != "":
		g.Go(func() error {
			var err error
			pdf, err = s.stager.Adopt(gctx, stagedKey)
			return err
		})
	}
	if coverFH != nil {
		g.Go(func() error {
			var err error
			cover, err = s.stager.Stage(gctx, KindCover, coverFH)
			return err
		})
	}
	err = g.Wait()
	return pdf, cover, err
}

func (s *bookService) resolveTopic(ctx context.Context, topicID, themeID string) (uuid.UUID, error) {
	if topicID != "" {
		id, err := uuid.Parse(topicID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: topic_id", ErrInvalidID)
		}
		t, err := s.topics.GetTopic(ctx, id)
		if err != nil {
			return uuid.Nil, notFoundAs(err, ErrTopicNotFound)
		}
		return t.ID, nil
	}

	id, err := uuid.Parse(themeID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: theme_id", ErrInvalidID)
	}
	theme, err := s.topics.GetTheme(ctx, id)
	if err != nil {
		return uuid.Nil, notFoundAs(err, ErrThemeNotFound)
	}
	bucket, err := s.topics.GetOrCreateBucket(ctx, theme)
	if err != nil {
		return uuid.Nil, err
	}
	return bucket.ID, nil
}

const coverPrefix = "covers/"

func (s *bookService) uploadCover(ctx context.Context, cover *StagedFile) (*string, error) {
	if cover == nil {
		return nil, nil
	}
	suffix, err := utils.GenerateKey("", 9)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s%d-%s-%s", coverPrefix, s.now().UnixNano(), suffix, filename.Sanitize(cover.Name))

	f, err := os.Open(cover.Path)
	if err != nil {
		return nil, fmt.Errorf("open cover: %w", err)
	}
	defer f.Close()
	if _, err := s.store.Upload(ctx, key, f, cover.MIME, true); err != nil {
		return nil, fmt.Errorf("upload cover: %w", err)
	}
	u := s.store.PublicURL(key)
	return &u, nil
}

func (s *bookService) removeCover(ctx context.Context, coverURL *string) {
	if coverURL == nil || *coverURL == "" {
		return
	}
	key, ok := s.store.KeyFromPublicURL(*coverURL)
	if !ok || !strings.HasPrefix(key, coverPrefix) {
		return
	}
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.log.Sugar().Warnw("delete cover", "key", key, "err", err)
	}
}

func sameBinary(a, b model.Location) bool {
	if a.StorageType != b.StorageType {
		return false
	}
	if a.AssetID != nil && b.AssetID != nil {
		return *a.AssetID == *b.AssetID
	}
	return a.URL == b.URL
}

func notFoundAs(err, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
