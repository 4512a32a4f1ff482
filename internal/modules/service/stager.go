package service

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gyandhara/gyandhara-api/internal/config"
	"github.com/gyandhara/gyandhara-api/internal/infra/blob"
	"github.com/gyandhara/gyandhara-api/internal/pkg/utils/filename"
	"go.uber.org/zap"
)

// ObjectStore is the intermediate bucket. *blob.S3Deps satisfies it.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string, upsert bool) (*blob.UploadedMeta, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	PresignPut(ctx context.Context, key, contentType string, expire time.Duration) (string, error)
	PublicURL(key string) string
	KeyFromPublicURL(raw string) (string, bool)
}

type FileKind string

const (
	KindPDF   FileKind = "pdf"
	KindCover FileKind = "cover"
)

type allowSet struct {
	exts  []string
	mimes []string
}

var allowed = map[FileKind]allowSet{
	KindPDF:   {exts: []string{".pdf"}, mimes: []string{"application/pdf"}},
	KindCover: {exts: []string{".jpg", ".jpeg", ".png", ".webp"}, mimes: []string{"image/jpeg", "image/png", "image/webp"}},
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// SizePolicy bounds accepted file sizes in bytes. A zero MinPDFBytes disables
// the lower bound.
type SizePolicy struct {
	MinPDFBytes   int64
	MaxPDFBytes   int64
	MaxCoverBytes int64
}

func (p SizePolicy) check(kind FileKind, size int64) error {
	const mb = 1024 * 1024
	switch kind {
	case KindPDF:
		if p.MaxPDFBytes > 0 && size > p.MaxPDFBytes {
			return fmt.Errorf("%w: PDF file size (%.2fMB) exceeds %dMB maximum limit", ErrFileTooLarge, float64(size)/mb, p.MaxPDFBytes/mb)
		}
		if p.MinPDFBytes > 0 && size < p.MinPDFBytes {
			return fmt.Errorf("%w: PDF file size (%.2fMB) is below %.2fMB minimum", ErrFileTooSmall, float64(size)/mb, float64(p.MinPDFBytes)/mb)
		}
	case KindCover:
		if p.MaxCoverBytes > 0 && size > p.MaxCoverBytes {
			return fmt.Errorf("%w: cover image size (%.2fMB) exceeds %dMB maximum limit", ErrFileTooLarge, float64(size)/mb, p.MaxCoverBytes/mb)
		}
	}
	return nil
}

// StagedFile is a local copy of an accepted upload. Cleanup must be called on
// every path once the caller is done with it.
type StagedFile struct {
	Path      string
	Name      string
	MIME      string
	Size      int64
	ObjectKey string

	store ObjectStore
	log   *zap.Logger
	once  sync.Once
}

// Cleanup removes the temp file and the staging object, if any. It is safe to
// call more than once and on a nil receiver.
func (f *StagedFile) Cleanup() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		if f.Path != "" {
			if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
				f.log.Sugar().Warnw("remove temp file", "path", f.Path, "err", err)
			}
		}
		if f.ObjectKey != "" && f.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := f.store.Delete(ctx, f.ObjectKey); err != nil {
				f.log.Sugar().Warnw("delete staging object", "key", f.ObjectKey, "err", err)
			}
		}
	})
}

type Stager struct {
	store     ObjectStore
	policy    SizePolicy
	tempDir   string
	threshold int64
	log       *zap.Logger
	now       func() time.Time
}

func NewStager(store ObjectStore, cfg *config.Config, log *zap.Logger) *Stager {
	return &Stager{
		store: store,
		policy: SizePolicy{
			MinPDFBytes:   cfg.Upload.MinPDFBytes,
			MaxPDFBytes:   cfg.Upload.MaxPDFBytes,
			MaxCoverBytes: cfg.Upload.MaxCoverBytes,
		},
		tempDir:   cfg.Upload.TempDir,
		threshold: cfg.Upload.StageThresholdBytes,
		log:       log,
		now:       time.Now,
	}
}

// Validate checks extension, declared type, size and sniffed content of an
// uploaded part. It touches nothing but the part itself.
func (s *Stager) Validate(kind FileKind, fh *multipart.FileHeader) error {
	if fh == nil {
		return missing(string(kind))
	}
	if err := s.checkName(kind, fh.Filename, fh.Header.Get("Content-Type")); err != nil {
		return err
	}
	if err := s.policy.check(kind, fh.Size); err != nil {
		return err
	}
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return sniff(kind, f)
}

func (s *Stager) checkName(kind FileKind, name, declared string) error {
	set, ok := allowed[kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidFileType, kind)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !contains(set.exts, ext) {
		return fmt.Errorf("%w: %s must be one of %s", ErrInvalidFileType, name, strings.Join(set.exts, ", "))
	}
	if declared != "" {
		mt, _, _ := strings.Cut(declared, ";")
		if !contains(set.mimes, strings.ToLower(strings.TrimSpace(mt))) {
			return fmt.Errorf("%w: content type %s not allowed for %s", ErrInvalidFileType, declared, kind)
		}
	}
	return nil
}

func sniff(kind FileKind, r io.Reader) error {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return fmt.Errorf("detect content type: %w", err)
	}
	for _, want := range allowed[kind].mimes {
		if mt.Is(want) {
			return nil
		}
	}
	return fmt.Errorf("%w: content is %s", ErrInvalidFileType, mt.String())
}

// Stage validates fh and spools it to a temp file. Files over the staging
// threshold are pushed to the intermediate store and re-fetched from there.
func (s *Stager) Stage(ctx context.Context, kind FileKind, fh *multipart.FileHeader) (*StagedFile, error) {
	if err := s.Validate(kind, fh); err != nil {
		return nil, err
	}
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer src.Close()

	staged := &StagedFile{
		Name:  fh.Filename,
		MIME:  allowed[kind].mimes[0],
		store: s.store,
		log:   s.log,
	}
	if declared, _, _ := strings.Cut(fh.Header.Get("Content-Type"), ";"); declared != "" {
		staged.MIME = strings.ToLower(strings.TrimSpace(declared))
	}
	if err := s.spool(staged, src); err != nil {
		staged.Cleanup()
		return nil, err
	}
	if kind != KindPDF || s.threshold <= 0 || staged.Size <= s.threshold {
		return staged, nil
	}

	if err := s.pushAndRefetch(ctx, staged); err != nil {
		staged.Cleanup()
		return nil, err
	}
	return staged, nil
}

// Adopt takes over an object the client uploaded with a presigned URL.
func (s *Stager) Adopt(ctx context.Context, key string) (*StagedFile, error) {
	if key == "" || !strings.HasPrefix(key, stagingPrefix) || strings.Contains(key, "..") {
		return nil, fmt.Errorf("%w: staged_key", ErrInvalidID)
	}
	name := filepath.Base(key)
	if err := s.checkName(KindPDF, name, ""); err != nil {
		return nil, err
	}

	staged := &StagedFile{Name: name, MIME: "application/pdf", ObjectKey: key, store: s.store, log: s.log}
	if err := s.fetch(ctx, staged); err != nil {
		staged.Cleanup()
		return nil, err
	}
	if err := s.policy.check(KindPDF, staged.Size); err != nil {
		staged.Cleanup()
		return nil, err
	}
	f, err := os.Open(staged.Path)
	if err != nil {
		staged.Cleanup()
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	err = sniff(KindPDF, f)
	f.Close()
	if err != nil {
		staged.Cleanup()
		return nil, err
	}
	return staged, nil
}

const stagingPrefix = "staging/"

// StagingKey names a new object under the dated staging prefix.
func (s *Stager) StagingKey(name string) (string, error) {
	if err := s.checkName(KindPDF, name, ""); err != nil {
		return "", err
	}
	now := s.now().UTC()
	return stagingPrefix + now.Format("2006/01/02") + "/" + filename.Stamped(now, name), nil
}

func (s *Stager) spool(staged *StagedFile, src io.Reader) error {
	tmp, err := os.CreateTemp(s.tempDir, "upload-*-"+filename.Sanitize(staged.Name))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	staged.Path = tmp.Name()
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	staged.Size = n
	return nil
}

func (s *Stager) pushAndRefetch(ctx context.Context, staged *StagedFile) error {
	key, err := s.StagingKey(staged.Name)
	if err != nil {
		return err
	}
	f, err := os.Open(staged.Path)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	_, err = s.store.Upload(ctx, key, f, staged.MIME, false)
	f.Close()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStagingUnavailable, err)
	}
	staged.ObjectKey = key
	s.log.Sugar().Infow("staged large upload", "key", key, "size", staged.Size)

	// the staged object is now the source of truth
	if err := os.Remove(staged.Path); err != nil {
		s.log.Sugar().Warnw("remove spooled file", "path", staged.Path, "err", err)
	}
	staged.Path = ""
	return s.fetch(ctx, staged)
}

func (s *Stager) fetch(ctx context.Context, staged *StagedFile) error {
	rc, err := s.store.Download(ctx, staged.ObjectKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStagingUnavailable, err)
	}
	defer rc.Close()
	if err := s.spool(staged, rc); err != nil {
		return fmt.Errorf("%w: %v", ErrStagingUnavailable, err)
	}
	return nil
}
