package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"gorm.io/gorm"
)

// ErrBinaryField is returned when a plain field update tries to touch the
// location columns; those only change through UpdateLocation.
var ErrBinaryField = errors.New("binary location fields must be written with UpdateLocation")

var locationColumns = []string{"pdf_url", "storage_type", "github_asset_id", "github_release_tag"}

type BookStats struct {
	TotalPDFs       int64 `json:"total_pdfs"`
	GitHubReleases  int64 `json:"github_releases"`
	SupabaseStorage int64 `json:"supabase_storage"` // every book not yet on GitHub Releases
	TotalSizeBytes  int64 `json:"total_size_bytes"`
}

type BookRepo interface {
	Create(ctx context.Context, b *model.Book) error
	Get(ctx context.Context, id uuid.UUID) (*model.Book, error)
	Update(ctx context.Context, id uuid.UUID, fields map[string]interface{}) (*model.Book, error)
	UpdateLocation(ctx context.Context, id uuid.UUID, loc model.Location, filename string, size int64) error
	UpdateWithLocation(ctx context.Context, id uuid.UUID, fields map[string]interface{}, loc model.Location, filename string, size int64) (*model.Book, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByTopic(ctx context.Context, topicID uuid.UUID, afterOrder int, afterCreatedAt time.Time, afterID uuid.UUID, limit int) ([]*model.Book, error)
	ListNotOn(ctx context.Context, target model.StorageType) ([]*model.Book, error)
	FindByBinary(ctx context.Context, assetID *int64, pdfURL string) (*model.Book, error)
	Stats(ctx context.Context) (*BookStats, error)
}

type bookRepo struct {
	db *gorm.DB
}

func NewBookRepo(db *gorm.DB) BookRepo {
	return &bookRepo{db: db}
}

func (r *bookRepo) Create(ctx context.Context, b *model.Book) error {
	if b.StorageType == nil {
		return model.ErrLocationBadType
	}
	if err := b.Location().Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *bookRepo) Get(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	var b model.Book
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *bookRepo) Update(ctx context.Context, id uuid.UUID, fields map[string]interface{}) (*model.Book, error) {
	if err := checkPlainFields(fields); err != nil {
		return nil, err
	}
	return r.update(ctx, id, fields)
}

// UpdateWithLocation applies plain field changes and a new location in one
// transaction.
func (r *bookRepo) UpdateWithLocation(ctx context.Context, id uuid.UUID, fields map[string]interface{}, loc model.Location, filename string, size int64) (*model.Book, error) {
	if err := checkPlainFields(fields); err != nil {
		return nil, err
	}
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	merged := locationFields(loc, filename, size)
	for k, v := range fields {
		merged[k] = v
	}
	return r.update(ctx, id, merged)
}

func (r *bookRepo) update(ctx context.Context, id uuid.UUID, fields map[string]interface{}) (*model.Book, error) {
	var b model.Book
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&b).Error; err != nil {
			return err
		}
		if len(fields) == 0 {
			return nil
		}
		if err := tx.Model(&b).Updates(fields).Error; err != nil {
			return fmt.Errorf("update book: %w", err)
		}
		return tx.Where("id = ?", id).First(&b).Error
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func checkPlainFields(fields map[string]interface{}) error {
	for _, col := range locationColumns {
		if _, ok := fields[col]; ok {
			return ErrBinaryField
		}
	}
	return nil
}

func locationFields(loc model.Location, filename string, size int64) map[string]interface{} {
	cols := loc.Columns()
	if filename != "" {
		cols["pdf_filename"] = filename
	}
	if size > 0 {
		cols["file_size_bytes"] = size
	}
	return cols
}

// UpdateLocation rewrites every location column at once. An empty filename or
// non-positive size leaves those columns unchanged.
func (r *bookRepo) UpdateLocation(ctx context.Context, id uuid.UUID, loc model.Location, filename string, size int64) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&model.Book{}).Where("id = ?", id).Updates(locationFields(loc, filename, size))
	if res.Error != nil {
		return fmt.Errorf("update book location: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *bookRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Book{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListByTopic pages active books in display order. A zero topicID lists every
// topic; a zero afterID starts from the first page.
func (r *bookRepo) ListByTopic(ctx context.Context, topicID uuid.UUID, afterOrder int, afterCreatedAt time.Time, afterID uuid.UUID, limit int) ([]*model.Book, error) {
	q := r.db.WithContext(ctx).Where("is_active = ?", true)
	if topicID != uuid.Nil {
		q = q.Where("topic_id = ?", topicID)
	}

	if afterID != uuid.Nil {
		q = q.Where(
			"(display_order > ?) OR (display_order = ? AND created_at > ?) OR (display_order = ? AND created_at = ? AND id > ?)",
			afterOrder, afterOrder, afterCreatedAt, afterOrder, afterCreatedAt, afterID,
		)
	}

	var books []*model.Book
	return books, q.Order("display_order ASC, created_at ASC, id ASC").Limit(limit).Find(&books).Error
}

// ListNotOn returns every book whose storage type differs from target,
// including rows with no storage type, oldest first.
func (r *bookRepo) ListNotOn(ctx context.Context, target model.StorageType) ([]*model.Book, error) {
	var books []*model.Book
	err := r.db.WithContext(ctx).
		Where("storage_type IS NULL OR storage_type <> ?", string(target)).
		Order("created_at ASC, id ASC").
		Find(&books).Error
	return books, err
}

// FindByBinary returns a book whose location is the given release asset or
// pdf_url. With neither set it returns gorm.ErrRecordNotFound.
func (r *bookRepo) FindByBinary(ctx context.Context, assetID *int64, pdfURL string) (*model.Book, error) {
	q := r.db.WithContext(ctx)
	switch {
	case assetID != nil && pdfURL != "":
		q = q.Where("github_asset_id = ? OR pdf_url = ?", *assetID, pdfURL)
	case assetID != nil:
		q = q.Where("github_asset_id = ?", *assetID)
	case pdfURL != "":
		q = q.Where("pdf_url = ?", pdfURL)
	default:
		return nil, gorm.ErrRecordNotFound
	}
	var b model.Book
	if err := q.First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *bookRepo) Stats(ctx context.Context) (*BookStats, error) {
	type row struct {
		StorageType *string
		Count       int64
		Size        int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&model.Book{}).
		Select("storage_type, COUNT(*) AS count, COALESCE(SUM(file_size_bytes), 0) AS size").
		Group("storage_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := &BookStats{}
	for _, rw := range rows {
		out.TotalPDFs += rw.Count
		out.TotalSizeBytes += rw.Size
		if rw.StorageType != nil && model.StorageType(*rw.StorageType) == model.StorageGitHubRelease {
			out.GitHubReleases += rw.Count
		} else {
			out.SupabaseStorage += rw.Count
		}
	}
	return out, nil
}
