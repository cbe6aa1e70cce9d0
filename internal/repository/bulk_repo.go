package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/practiceflow/notify-engine/internal/domain"
)

type BulkRepository interface {
	Create(ctx context.Context, b *domain.BulkDispatch) error
	GetByID(ctx context.Context, id string) (*domain.BulkDispatch, error)
}

type GormBulkRepo struct {
	db *gorm.DB
}

func NewGormBulkRepo(db *gorm.DB) *GormBulkRepo {
	return &GormBulkRepo{db: db}
}

func (r *GormBulkRepo) Create(ctx context.Context, b *domain.BulkDispatch) error {
	model := bulkModelFromDomain(b)
	if model == nil {
		return nil
	}
	if model.ID == "" {
		model.ID = uuid.NewString()
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*b = *bulkModelToDomain(model)
	return nil
}

func (r *GormBulkRepo) GetByID(ctx context.Context, id string) (*domain.BulkDispatch, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	var model BulkDispatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return bulkModelToDomain(&model), nil
}
