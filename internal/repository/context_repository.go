package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"contextkeeper/internal/model"
)

type ContextRepository struct {
	db *gorm.DB
}

func NewContextRepository(db *gorm.DB) *ContextRepository {
	return &ContextRepository{db: db}
}

func (r *ContextRepository) Create(ctx context.Context, bucket *model.ContextBucket) error {
	if err := r.db.WithContext(ctx).Create(bucket).Error; err != nil {
		return wrapErr("create context bucket", err)
	}
	return nil
}

func (r *ContextRepository) GetByID(ctx context.Context, id string) (*model.ContextBucket, error) {
	var bucket model.ContextBucket
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&bucket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapErr("get context bucket", err)
	}
	return &bucket, nil
}

func (r *ContextRepository) UpdateWithRev(ctx context.Context, id string, rev int64, fields map[string]interface{}, now time.Time) (bool, error) {
	updates := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["rev"] = gorm.Expr("rev + 1")
	updates["updated_at"] = now

	res := r.db.WithContext(ctx).Model(&model.ContextBucket{}).Where("id = ? AND rev = ?", id, rev).Updates(updates)
	if res.Error != nil {
		return false, wrapErr("update context bucket", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *ContextRepository) DeleteByID(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.ContextBucket{}).Error; err != nil {
		return wrapErr("delete context bucket", err)
	}
	return nil
}

func (r *ContextRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.ContextBucket{}).Count(&n).Error; err != nil {
		return 0, wrapErr("count context buckets", err)
	}
	return n, nil
}
