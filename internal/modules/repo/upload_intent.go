package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"gorm.io/gorm"
)

type UploadIntentRepo interface {
	Create(ctx context.Context, in *model.UploadIntent) error
	Stamp(ctx context.Context, id uuid.UUID, loc model.Location) error
	Commit(ctx context.Context, id uuid.UUID, bookID uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.UploadIntent, error)
}

type uploadIntentRepo struct {
	db *gorm.DB
}

func NewUploadIntentRepo(db *gorm.DB) UploadIntentRepo {
	return &uploadIntentRepo{db: db}
}

func (r *uploadIntentRepo) Create(ctx context.Context, in *model.UploadIntent) error {
	if in.State == "" {
		in.State = model.IntentPending
	}
	return r.db.WithContext(ctx).Create(in).Error
}

// Stamp records where the binary of a pending intent landed.
func (r *uploadIntentRepo) Stamp(ctx context.Context, id uuid.UUID, loc model.Location) error {
	return r.db.WithContext(ctx).Model(&model.UploadIntent{}).
		Where("id = ? AND state = ?", id, model.IntentPending).
		Updates(map[string]interface{}{
			"github_asset_id": loc.AssetID,
			"object_key":      optional(loc.ObjectKey),
			"url":             optional(loc.URL),
		}).Error
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *uploadIntentRepo) Commit(ctx context.Context, id uuid.UUID, bookID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&model.UploadIntent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":   model.IntentCommitted,
			"book_id": bookID,
		}).Error
}

func (r *uploadIntentRepo) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).Model(&model.UploadIntent{}).
		Where("id = ? AND state = ?", id, model.IntentPending).
		Updates(map[string]interface{}{
			"state":      model.IntentFailed,
			"last_error": reason,
		}).Error
}

func (r *uploadIntentRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.UploadIntent, error) {
	var out []*model.UploadIntent
	err := r.db.WithContext(ctx).
		Where("state = ? AND created_at < ?", model.IntentPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
