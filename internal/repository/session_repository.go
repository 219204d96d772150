package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"contextkeeper/internal/model"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return wrapErr("create session", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapErr("get session", err)
	}
	return &session, nil
}

// GetByContextBucketID returns the session owning bucketID, if any.
func (r *SessionRepository) GetByContextBucketID(ctx context.Context, bucketID string) (*model.Session, error) {
	var session model.Session
	if err := r.db.WithContext(ctx).Where("context_bucket_id = ?", bucketID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapErr("get session by context bucket", err)
	}
	return &session, nil
}

// List orders by recency with id as the tie-breaker so that offset/limit
// pages never overlap on an unchanged table.
func (r *SessionRepository) List(ctx context.Context, workspace string, limit, offset int) ([]model.Session, error) {
	q := r.db.WithContext(ctx).Model(&model.Session{})
	if workspace != "" {
		q = q.Where("workspace_slug = ?", workspace)
	}
	var sessions []model.Session
	if err := q.Order("updated_at DESC").Order("id ASC").Limit(limit).Offset(offset).Find(&sessions).Error; err != nil {
		return nil, wrapErr("list sessions", err)
	}
	return sessions, nil
}

// UpdateWithRev applies fields when the stored revision still equals rev and
// bumps it. It reports false when no row matched.
func (r *SessionRepository) UpdateWithRev(ctx context.Context, id string, rev int64, fields map[string]interface{}, now time.Time) (bool, error) {
	updates := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["rev"] = gorm.Expr("rev + 1")
	updates["updated_at"] = now

	res := r.db.WithContext(ctx).Model(&model.Session{}).Where("id = ? AND rev = ?", id, rev).Updates(updates)
	if res.Error != nil {
		return false, wrapErr("update session", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteByID is a no-op for an absent id.
func (r *SessionRepository) DeleteByID(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Session{}).Error; err != nil {
		return wrapErr("delete session", err)
	}
	return nil
}

func (r *SessionRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Session{}).Count(&n).Error; err != nil {
		return 0, wrapErr("count sessions", err)
	}
	return n, nil
}
