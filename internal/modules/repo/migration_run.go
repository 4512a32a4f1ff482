package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"gorm.io/gorm"
)

type MigrationRunRepo interface {
	Create(ctx context.Context, run *model.MigrationRun) error
	Save(ctx context.Context, run *model.MigrationRun) error
	Get(ctx context.Context, id uuid.UUID) (*model.MigrationRun, error)
}

type migrationRunRepo struct {
	db *gorm.DB
}

func NewMigrationRunRepo(db *gorm.DB) MigrationRunRepo {
	return &migrationRunRepo{db: db}
}

func (r *migrationRunRepo) Create(ctx context.Context, run *model.MigrationRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *migrationRunRepo) Save(ctx context.Context, run *model.MigrationRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *migrationRunRepo) Get(ctx context.Context, id uuid.UUID) (*model.MigrationRun, error) {
	var run model.MigrationRun
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}
